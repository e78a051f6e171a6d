package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"stockwatch/internal/model"
)

const timeFormat = "2006-01-02 15:04:05 UTC"

func displayName(target model.Target, snap *model.Snapshot) string {
	if snap != nil && snap.Name != "" {
		return snap.Name
	}
	if target.Name != "" {
		return target.Name
	}
	return target.URL
}

// renderLaunch builds the one-shot "it's live" notification for a confirmed
// coming_soon -> available transition.
func renderLaunch(target model.Target, snap *model.Snapshot) Notification {
	name := displayName(target, snap)
	title := fmt.Sprintf("Now available: %s", name)

	var text strings.Builder
	fmt.Fprintf(&text, "%s is now available.\n", name)
	if snap != nil && snap.Price != "" {
		fmt.Fprintf(&text, "Price: %s\n", snap.Price)
	}
	if sizes := snap.AvailableSizes(); len(sizes) > 0 {
		fmt.Fprintf(&text, "In stock: %s\n", strings.Join(sizes, ", "))
	}
	fmt.Fprintf(&text, "Checked: %s\n%s", time.Now().UTC().Format(timeFormat), target.URL)

	return Notification{
		Kind:  model.EventStatusAvailable,
		Title: title,
		Text:  text.String(),
		HTML:  renderHTML(title, "The product you are watching is now on sale.", target, snap, nil),
	}
}

// renderRestock builds a single notification covering every variant that came
// back in stock this cycle.
func renderRestock(target model.Target, snap *model.Snapshot, events []model.ChangeEvent) Notification {
	name := displayName(target, snap)
	labels := variantLabels(events)
	title := fmt.Sprintf("Restocked: %s (%s)", name, strings.Join(labels, ", "))

	var text strings.Builder
	fmt.Fprintf(&text, "%s restocked: %s\n", name, strings.Join(labels, ", "))
	fmt.Fprintf(&text, "Checked: %s\n%s", time.Now().UTC().Format(timeFormat), target.URL)

	highlight := make(map[model.VariantKey]bool, len(events))
	for _, ev := range events {
		if ev.Variant != nil {
			highlight[ev.Variant.Key()] = true
		}
	}

	return Notification{
		Kind:  model.EventVariantRestocked,
		Title: title,
		Text:  text.String(),
		HTML:  renderHTML(title, "Watched sizes are back in stock.", target, snap, highlight),
	}
}

func renderSoldOut(target model.Target, events []model.ChangeEvent) Notification {
	labels := variantLabels(events)
	title := fmt.Sprintf("Sold out: %s (%s)", targetLabel(target), strings.Join(labels, ", "))
	text := fmt.Sprintf("%s sold out: %s\n%s", targetLabel(target), strings.Join(labels, ", "), target.URL)
	return Notification{
		Kind:  model.EventVariantSoldOut,
		Title: title,
		Text:  text,
		HTML:  renderHTML(title, "Watched sizes sold out.", target, nil, nil),
	}
}

// renderListingChange covers added/removed entities on a multi-item listing.
func renderListingChange(target model.Target, snap *model.Snapshot, added, removed []model.ChangeEvent) Notification {
	var parts []string
	if len(added) > 0 {
		parts = append(parts, fmt.Sprintf("+%d new", len(added)))
	}
	if len(removed) > 0 {
		parts = append(parts, fmt.Sprintf("-%d removed", len(removed)))
	}
	total := 0
	if snap != nil {
		total = snap.TotalCount()
	}
	title := fmt.Sprintf("Listing changed: %s (%s, %d items)", targetLabel(target), strings.Join(parts, ", "), total)

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n", title)
	writeEntityList(&text, "New items", added)
	writeEntityList(&text, "Removed items", removed)
	fmt.Fprintf(&text, "\n%s", target.URL)

	kind := model.EventAdded
	if len(added) == 0 {
		kind = model.EventRemoved
	}

	var htmlBody strings.Builder
	writeEntityListHTML(&htmlBody, "New items", added)
	writeEntityListHTML(&htmlBody, "Removed items", removed)

	return Notification{
		Kind:  kind,
		Title: title,
		Text:  text.String(),
		HTML:  renderHTMLWithBody(title, "The watched listing changed.", target, htmlBody.String()),
	}
}

func renderFault(target model.Target, ev model.ChangeEvent) Notification {
	title := fmt.Sprintf("Monitor error: %s", targetLabel(target))
	text := fmt.Sprintf("%s reported status %s (was %s).\n%s", targetLabel(target), ev.NewStatus, ev.OldStatus, target.URL)
	return Notification{
		Kind:  model.EventError,
		Title: title,
		Text:  text,
		HTML:  renderHTML(title, html.EscapeString(text), target, nil, nil),
	}
}

func renderCheckError(target model.Target, checkErr error) Notification {
	title := fmt.Sprintf("Check failed: %s", targetLabel(target))
	text := fmt.Sprintf("Checking %s failed after exhausting retries.\n\nError: %v\nTime: %s",
		target.URL, checkErr, time.Now().UTC().Format(timeFormat))
	return Notification{
		Kind:  model.EventError,
		Title: title,
		Text:  text,
		HTML:  renderHTML(title, html.EscapeString(fmt.Sprintf("Error: %v", checkErr)), target, nil, nil),
	}
}

func targetLabel(target model.Target) string {
	if target.Name != "" {
		return target.Name
	}
	return target.URL
}

func variantLabels(events []model.ChangeEvent) []string {
	var labels []string
	for _, ev := range events {
		if ev.Variant == nil {
			continue
		}
		label := ev.Variant.Size
		if ev.Variant.Color != "" {
			label = ev.Variant.Color + " " + ev.Variant.Size
		}
		labels = append(labels, label)
	}
	return labels
}

func writeEntityList(b *strings.Builder, heading string, events []model.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s (%d):\n", heading, len(events))
	for i, ev := range events {
		if ev.Entity == nil {
			continue
		}
		price := "price unknown"
		if ev.Entity.Price != nil {
			price = fmt.Sprintf("$%.2f", *ev.Entity.Price)
		}
		fmt.Fprintf(b, "%d. %s - %s\n", i+1, ev.Entity.Name, price)
		if ev.Entity.URL != "" {
			fmt.Fprintf(b, "   %s\n", ev.Entity.URL)
		}
	}
}

func writeEntityListHTML(b *strings.Builder, heading string, events []model.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	fmt.Fprintf(b, "<h3>%s (%d)</h3><ul>", html.EscapeString(heading), len(events))
	for _, ev := range events {
		if ev.Entity == nil {
			continue
		}
		price := "price unknown"
		if ev.Entity.Price != nil {
			price = fmt.Sprintf("$%.2f", *ev.Entity.Price)
		}
		name := html.EscapeString(ev.Entity.Name)
		if ev.Entity.URL != "" {
			fmt.Fprintf(b, `<li><a href="%s">%s</a> &mdash; %s</li>`, html.EscapeString(ev.Entity.URL), name, price)
		} else {
			fmt.Fprintf(b, `<li>%s &mdash; %s</li>`, name, price)
		}
	}
	b.WriteString("</ul>")
}

// renderHTML builds the email body: header, optional variant stock table with
// highlighted rows, and a buy link. External content is escaped.
func renderHTML(title, lead string, target model.Target, snap *model.Snapshot, highlight map[model.VariantKey]bool) string {
	var body strings.Builder
	if snap != nil && len(snap.Variants) > 0 {
		body.WriteString(`<table style="width:100%;border-collapse:collapse"><tr style="background:#ecf0f1"><th style="padding:8px">Color</th><th style="padding:8px">Size</th><th style="padding:8px">Status</th><th style="padding:8px">Qty</th></tr>`)
		for _, v := range snap.Variants {
			rowStyle := ""
			if highlight[v.Key()] {
				rowStyle = ` style="background:#d5f5e3"`
			}
			statusColor := "#e74c3c"
			if v.Status.Purchasable() {
				statusColor = "#27ae60"
			}
			qty := "-"
			if v.Quantity != nil {
				qty = fmt.Sprintf("%d", *v.Quantity)
			}
			fmt.Fprintf(&body,
				`<tr%s><td style="padding:8px;border-bottom:1px solid #eee">%s</td><td style="padding:8px;border-bottom:1px solid #eee"><strong>%s</strong></td><td style="padding:8px;border-bottom:1px solid #eee;color:%s">%s</td><td style="padding:8px;border-bottom:1px solid #eee">%s</td></tr>`,
				rowStyle, html.EscapeString(v.Color), html.EscapeString(v.Size), statusColor, v.Status, qty)
		}
		body.WriteString("</table>")
	}
	return renderHTMLWithBody(title, lead, target, body.String())
}

// renderHTMLWithBody wraps a pre-built HTML fragment in the shared email
// frame.
func renderHTMLWithBody(title, lead string, target model.Target, fragment string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"></head>`)
	b.WriteString(`<body style="font-family:Arial,sans-serif;color:#333;max-width:600px;margin:0 auto;padding:20px">`)
	fmt.Fprintf(&b, `<h1 style="font-size:22px">%s</h1>`, html.EscapeString(title))
	fmt.Fprintf(&b, `<p>%s</p>`, lead)
	b.WriteString(fragment)
	fmt.Fprintf(&b, `<p style="margin-top:24px"><a href="%s" style="background:#e74c3c;color:white;padding:12px 32px;border-radius:5px;text-decoration:none;font-weight:bold">Buy now</a></p>`,
		html.EscapeString(target.URL))
	fmt.Fprintf(&b, `<p style="color:#999;font-size:12px">Sent automatically by stockwatch at %s</p>`,
		time.Now().UTC().Format(timeFormat))
	b.WriteString("</body></html>")
	return b.String()
}
