// Package notify fans change events out to the configured notification
// channels with dedup, suppression and per-channel failure isolation.
package notify

import (
	"context"
	"log/slog"
	"time"

	"stockwatch/internal/model"
)

// Notification is one rendered message. Channels pick the body format that
// suits them: HTML for email, plain text for chat-style channels.
type Notification struct {
	Kind  model.EventKind
	Title string
	HTML  string
	Text  string
}

// Channel is an independent delivery mechanism.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Policy holds the per-event-kind suppression toggles. A disabled kind is
// logged but never reaches channels and never sets the dedup flag.
type Policy struct {
	OnAdded   bool
	OnRemoved bool
	OnRestock bool
	OnSoldOut bool
	OnError   bool
}

// Report summarizes one dispatch call.
type Report struct {
	Sent        int
	Suppressed  int
	Skipped     int
	NotifiedSet bool
	Records     []model.NotificationRecord
}

// Dispatcher renders event bundles into notifications and delivers them.
type Dispatcher struct {
	channels []Channel
	policy   Policy
	log      *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given channels.
func NewDispatcher(channels []Channel, policy Policy, log *slog.Logger) *Dispatcher {
	return &Dispatcher{channels: channels, policy: policy, log: log}
}

// Dispatch delivers the cycle's events for one target. alreadyNotified is the
// persisted one-shot dedup flag for StatusAvailable: once it sent
// successfully, repeated detections of the same confirmed state stay silent
// until the state machine clears the flag on a degrade.
func (d *Dispatcher) Dispatch(ctx context.Context, target model.Target, snap *model.Snapshot, events []model.ChangeEvent, alreadyNotified bool) Report {
	var report Report
	if len(events) == 0 {
		return report
	}

	bundle := groupEvents(events)

	if bundle.available != nil {
		if alreadyNotified {
			report.Skipped++
			d.log.Debug("launch already notified, skipping", "target_id", target.ID)
		} else {
			n := renderLaunch(target, snap)
			if d.deliver(ctx, target, n, &report) {
				report.NotifiedSet = true
			}
		}
	}

	if len(bundle.restocked) > 0 {
		if d.policy.OnRestock {
			d.deliver(ctx, target, renderRestock(target, snap, bundle.restocked), &report)
		} else {
			report.Suppressed += len(bundle.restocked)
			d.log.Info("restock notification disabled", "target_id", target.ID, "count", len(bundle.restocked))
		}
	}

	if len(bundle.soldOut) > 0 {
		if d.policy.OnSoldOut {
			d.deliver(ctx, target, renderSoldOut(target, bundle.soldOut), &report)
		} else {
			report.Suppressed += len(bundle.soldOut)
			d.log.Info("soldout notification disabled", "target_id", target.ID, "count", len(bundle.soldOut))
		}
	}

	if len(bundle.added) > 0 || len(bundle.removed) > 0 {
		suppressAdded := len(bundle.added) > 0 && !d.policy.OnAdded
		suppressRemoved := len(bundle.removed) > 0 && !d.policy.OnRemoved
		if suppressAdded || suppressRemoved {
			report.Suppressed += len(bundle.added) + len(bundle.removed)
			d.log.Info("listing change notification disabled",
				"target_id", target.ID, "added", len(bundle.added), "removed", len(bundle.removed))
		} else {
			d.deliver(ctx, target, renderListingChange(target, snap, bundle.added, bundle.removed), &report)
		}
	}

	if bundle.fault != nil && d.policy.OnError {
		d.deliver(ctx, target, renderFault(target, *bundle.fault), &report)
	}

	return report
}

// NotifyError reports a terminal check failure (retry budget exhausted)
// through all channels, subject to the error toggle.
func (d *Dispatcher) NotifyError(ctx context.Context, target model.Target, checkErr error) *model.NotificationRecord {
	if !d.policy.OnError {
		return nil
	}
	n := renderCheckError(target, checkErr)
	results, ok := d.fanout(ctx, n)
	if !ok {
		return nil
	}
	return &model.NotificationRecord{
		TargetID:       target.ID,
		EventKind:      model.EventError,
		Title:          n.Title,
		SentAt:         time.Now().UTC(),
		ChannelResults: results,
	}
}

// deliver fans a notification out and appends a record on any-channel
// success. It returns whether at least one channel succeeded.
func (d *Dispatcher) deliver(ctx context.Context, target model.Target, n Notification, report *Report) bool {
	results, ok := d.fanout(ctx, n)
	if !ok {
		d.log.Error("all channels failed", "target_id", target.ID, "kind", n.Kind)
		return false
	}
	report.Sent++
	report.Records = append(report.Records, model.NotificationRecord{
		TargetID:       target.ID,
		EventKind:      n.Kind,
		Title:          n.Title,
		SentAt:         time.Now().UTC(),
		ChannelResults: results,
	})
	return true
}

// fanout invokes every channel independently. A failing channel is logged
// and recorded but never blocks the others; the call succeeds if any channel
// succeeded.
func (d *Dispatcher) fanout(ctx context.Context, n Notification) (map[string]bool, bool) {
	results := make(map[string]bool, len(d.channels))
	ok := false
	for _, ch := range d.channels {
		if err := ch.Send(ctx, n); err != nil {
			d.log.Error("channel send failed", "channel", ch.Name(), "kind", n.Kind, "error", err)
			results[ch.Name()] = false
			continue
		}
		results[ch.Name()] = true
		ok = true
	}
	return results, ok
}

type eventBundle struct {
	available *model.ChangeEvent
	fault     *model.ChangeEvent
	restocked []model.ChangeEvent
	soldOut   []model.ChangeEvent
	added     []model.ChangeEvent
	removed   []model.ChangeEvent
}

func groupEvents(events []model.ChangeEvent) eventBundle {
	var b eventBundle
	for i := range events {
		ev := events[i]
		switch ev.Kind {
		case model.EventStatusAvailable:
			b.available = &events[i]
		case model.EventError:
			b.fault = &events[i]
		case model.EventVariantRestocked:
			b.restocked = append(b.restocked, ev)
		case model.EventVariantSoldOut:
			b.soldOut = append(b.soldOut, ev)
		case model.EventAdded:
			b.added = append(b.added, ev)
		case model.EventRemoved:
			b.removed = append(b.removed, ev)
		}
	}
	return b
}
