// Package diff computes change events between two snapshots. All functions
// are pure: no I/O, no mutation of inputs.
package diff

import (
	"stockwatch/internal/model"
)

// Diff compares the previous and current snapshot and returns the detected
// changes. The first observation of a target (prev == nil) produces no
// events. Entities are compared by stable ID and variants by (color, size)
// key; positional order carries no meaning.
func Diff(prev, cur *model.Snapshot) []model.ChangeEvent {
	if prev == nil || cur == nil {
		return nil
	}

	var events []model.ChangeEvent
	events = append(events, entityDiff(prev, cur)...)
	events = append(events, variantDiff(prev, cur)...)
	return events
}

func entityDiff(prev, cur *model.Snapshot) []model.ChangeEvent {
	if prev.Entities == nil && cur.Entities == nil {
		return nil
	}

	prevIDs := make(map[string]model.EntitySnapshot, len(prev.Entities))
	for _, e := range prev.Entities {
		prevIDs[e.EntityID] = e
	}
	curIDs := make(map[string]struct{}, len(cur.Entities))

	var events []model.ChangeEvent
	for _, e := range cur.Entities {
		curIDs[e.EntityID] = struct{}{}
		if _, ok := prevIDs[e.EntityID]; !ok {
			added := e
			events = append(events, model.ChangeEvent{
				Kind:   model.EventAdded,
				Entity: &added,
			})
		}
	}
	for _, e := range prev.Entities {
		if _, ok := curIDs[e.EntityID]; !ok {
			removed := e
			events = append(events, model.ChangeEvent{
				Kind:   model.EventRemoved,
				Entity: &removed,
			})
		}
	}
	return events
}

func variantDiff(prev, cur *model.Snapshot) []model.ChangeEvent {
	if len(cur.Variants) == 0 && len(prev.Variants) == 0 {
		return nil
	}

	old := make(map[model.VariantKey]model.Status, len(prev.Variants))
	for _, v := range prev.Variants {
		old[v.Key()] = v.Status
	}

	var events []model.ChangeEvent
	for _, v := range cur.Variants {
		// A size that appears for the first time counts as unknown before,
		// so unknown -> available still emits a restock.
		oldStatus, ok := old[v.Key()]
		if !ok {
			oldStatus = model.StatusUnknown
		}
		if oldStatus == v.Status {
			continue
		}

		wasAvailable := oldStatus.Purchasable()
		isAvailable := v.Status.Purchasable()

		variant := v
		switch {
		case !wasAvailable && isAvailable:
			events = append(events, model.ChangeEvent{
				Kind:      model.EventVariantRestocked,
				Variant:   &variant,
				OldStatus: oldStatus,
				NewStatus: v.Status,
			})
		case wasAvailable && !isAvailable:
			events = append(events, model.ChangeEvent{
				Kind:      model.EventVariantSoldOut,
				Variant:   &variant,
				OldStatus: oldStatus,
				NewStatus: v.Status,
			})
		}
	}
	return events
}

// FilterEvents drops variant events that do not match the target's size and
// color filters. The diff is always computed over the full snapshot first;
// filtering only narrows what gets notified, it cannot hide a stale value.
// Entity and status events pass through untouched.
func FilterEvents(events []model.ChangeEvent, target model.Target) []model.ChangeEvent {
	if len(target.TargetSizes) == 0 && len(target.TargetColors) == 0 {
		return events
	}
	var kept []model.ChangeEvent
	for _, ev := range events {
		if ev.Variant != nil && !target.WantsVariant(*ev.Variant) {
			continue
		}
		kept = append(kept, ev)
	}
	return kept
}
