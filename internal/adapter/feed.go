package adapter

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"stockwatch/internal/model"
)

// Feed observes RSS or Atom feeds that announce new products, treating
// every feed item as one listing entity.
type Feed struct {
	client Doer
}

// NewFeed creates the feed adapter.
func NewFeed(client Doer) *Feed {
	return &Feed{client: client}
}

// Kind implements Adapter.
func (a *Feed) Kind() model.AdapterKind {
	return model.AdapterFeed
}

// Check implements Adapter.
func (a *Feed) Check(ctx context.Context, target model.Target) *model.Observation {
	body, err := fetch(ctx, a.client, target.URL, "application/rss+xml, application/atom+xml, application/xml")
	if err != nil {
		return failed("feed", err.Error())
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return failed("feed", "parse feed: "+err.Error())
	}

	obs := &model.Observation{
		Success:   true,
		FetchedAt: time.Now().UTC(),
		Name:      feed.Title,
		Method:    "feed",
		Status:    model.StatusAvailable,
		Entities:  make([]model.EntitySnapshot, 0, len(feed.Items)),
	}
	for _, item := range feed.Items {
		obs.Entities = append(obs.Entities, model.EntitySnapshot{
			EntityID: itemGUID(item),
			Name:     item.Title,
			URL:      item.Link,
			Status:   model.StatusAvailable,
		})
	}
	return obs
}

// itemGUID returns a stable identity for a feed item. Items without a
// GUID get a hash of title and link.
func itemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
