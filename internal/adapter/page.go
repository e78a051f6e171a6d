package adapter

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"stockwatch/internal/model"
)

// Page observes plain product pages by scraping availability markers out
// of the HTML. It is the fallback for shops without a JSON endpoint.
type Page struct {
	client Doer
}

// NewPage creates the HTML page adapter.
func NewPage(client Doer) *Page {
	return &Page{client: client}
}

// Kind implements Adapter.
func (a *Page) Kind() model.AdapterKind {
	return model.AdapterPage
}

// Check implements Adapter.
func (a *Page) Check(ctx context.Context, target model.Target) *model.Observation {
	body, err := fetch(ctx, a.client, target.URL, "text/html,application/xhtml+xml")
	if err != nil {
		return failed("page", err.Error())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return failed("page", "parse html: "+err.Error())
	}

	obs := &model.Observation{
		Success:   true,
		FetchedAt: time.Now().UTC(),
		Name:      pageTitle(doc),
		Price:     metaContent(doc, `meta[property="product:price:amount"]`),
		Method:    "page",
		Status:    pageStatus(doc),
	}
	obs.Variants = pageVariants(doc, obs.Status)
	return obs
}

func pageTitle(doc *goquery.Document) string {
	if title := metaContent(doc, `meta[property="og:title"]`); title != "" {
		return title
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func pageStatus(doc *goquery.Document) model.Status {
	if avail := metaContent(doc, `meta[property="og:availability"], meta[property="product:availability"]`); avail != "" {
		switch strings.ToLower(avail) {
		case "instock", "in stock", "available":
			return model.StatusInStock
		case "oos", "out of stock", "outofstock":
			return model.StatusOutOfStock
		case "preorder", "pending":
			return model.StatusComingSoon
		}
	}

	if doc.Find(`link[itemprop="availability"][href*="InStock"], [itemprop="availability"][content*="InStock"]`).Length() > 0 {
		return model.StatusInStock
	}
	if doc.Find(`link[itemprop="availability"][href*="OutOfStock"], [itemprop="availability"][content*="OutOfStock"]`).Length() > 0 {
		return model.StatusOutOfStock
	}

	// Add-to-cart buttons are the last resort. A disabled button or
	// sold-out copy on the page wins over the button's presence.
	text := strings.ToLower(doc.Text())
	switch {
	case doc.Find(`button[name="add"][disabled], button.sold-out, .sold-out button`).Length() > 0:
		return model.StatusOutOfStock
	case strings.Contains(text, "sold out") || strings.Contains(text, "out of stock"):
		return model.StatusOutOfStock
	case strings.Contains(text, "coming soon") || strings.Contains(text, "notify me when"):
		return model.StatusComingSoon
	case doc.Find(`button[name="add"], form[action*="/cart/add"] button[type="submit"]`).Length() > 0:
		return model.StatusInStock
	}
	return model.StatusUnknown
}

// pageVariants extracts size options from a variant selector when one is
// present. Pages rarely expose per-size stock, so every listed size
// inherits the page status and disabled options read as sold out.
func pageVariants(doc *goquery.Document, pageStatus model.Status) []model.VariantSnapshot {
	var variants []model.VariantSnapshot
	doc.Find(`select[name*="Size"] option, select[data-option="size"] option, fieldset.size input[type="radio"]`).
		Each(func(_ int, sel *goquery.Selection) {
			size := strings.TrimSpace(sel.AttrOr("value", ""))
			if size == "" {
				size = strings.TrimSpace(sel.Text())
			}
			if size == "" || strings.EqualFold(size, "select size") {
				return
			}
			status := pageStatus
			if _, disabled := sel.Attr("disabled"); disabled {
				status = model.StatusOutOfStock
			}
			variants = append(variants, model.VariantSnapshot{Size: size, Status: status})
		})
	return variants
}
