package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stockwatch/internal/model"
)

const lowStockQuantity = 3

// ShopJSON observes shops that expose a product JSON document at
// <product URL>.js or <product URL>.json, as Shopify storefronts do.
type ShopJSON struct {
	client Doer
}

// NewShopJSON creates the product JSON adapter.
func NewShopJSON(client Doer) *ShopJSON {
	return &ShopJSON{client: client}
}

// Kind implements Adapter.
func (a *ShopJSON) Kind() model.AdapterKind {
	return model.AdapterShopJSON
}

type productDoc struct {
	Product *productPayload `json:"product"`
	// Shopify's .js endpoint returns the payload at the top level.
	productPayload
}

type productPayload struct {
	Title     string           `json:"title"`
	Available *bool            `json:"available"`
	Variants  []productVariant `json:"variants"`
}

type productVariant struct {
	Title             string `json:"title"`
	Option1           string `json:"option1"`
	Option2           string `json:"option2"`
	Available         bool   `json:"available"`
	InventoryQuantity *int   `json:"inventory_quantity"`
	Price             string `json:"price"`
}

// Check implements Adapter.
func (a *ShopJSON) Check(ctx context.Context, target model.Target) *model.Observation {
	body, err := fetch(ctx, a.client, productURL(target.URL), "application/json")
	if err != nil {
		return failed("shopjson", err.Error())
	}

	var doc productDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return failed("shopjson", fmt.Sprintf("decode product json: %v", err))
	}
	payload := doc.productPayload
	if doc.Product != nil {
		payload = *doc.Product
	}

	obs := &model.Observation{
		Success:   true,
		FetchedAt: time.Now().UTC(),
		Name:      payload.Title,
		Method:    "shopjson",
	}

	if len(payload.Variants) == 0 {
		// A published product with no purchasable variants has not
		// launched yet.
		obs.Status = model.StatusComingSoon
		return obs
	}

	anyAvailable := false
	for _, v := range payload.Variants {
		vs := model.VariantSnapshot{
			Size:     v.Option1,
			Color:    v.Option2,
			Quantity: v.InventoryQuantity,
		}
		if vs.Size == "" {
			vs.Size = v.Title
		}
		switch {
		case !v.Available:
			vs.Status = model.StatusOutOfStock
		case v.InventoryQuantity != nil && *v.InventoryQuantity <= lowStockQuantity:
			vs.Status = model.StatusLowStock
			anyAvailable = true
		default:
			vs.Status = model.StatusInStock
			anyAvailable = true
		}
		if obs.Price == "" && v.Price != "" {
			obs.Price = v.Price
		}
		obs.Variants = append(obs.Variants, vs)
	}

	if anyAvailable {
		obs.Status = model.StatusInStock
	} else {
		obs.Status = model.StatusOutOfStock
	}
	return obs
}

// productURL appends the JSON suffix unless the target already points at
// a JSON endpoint.
func productURL(url string) string {
	if strings.HasSuffix(url, ".js") || strings.HasSuffix(url, ".json") {
		return url
	}
	return url + ".js"
}
