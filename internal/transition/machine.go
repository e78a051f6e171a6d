// Package transition implements the per-target lifecycle state machine with
// confirmation hysteresis for the flaky coming_soon -> available signal.
package transition

import (
	"stockwatch/internal/model"
)

// DefaultConfirmations is how many consecutive available reports are needed
// before the Available transition is trusted.
const DefaultConfirmations = 2

// Machine applies validated observations to a target's canonical state.
// Apply is pure: it returns an updated copy and never mutates its inputs.
type Machine struct {
	// Confirmations overrides DefaultConfirmations when positive.
	Confirmations int
}

// Result carries the updated state and the status events of one cycle. At
// most one StatusAvailable/StatusDegraded event is emitted per cycle.
type Result struct {
	State  model.TargetState
	Events []model.ChangeEvent
}

// Apply advances the state machine with one accepted snapshot.
//
// A transition into Available is only promoted once the raw status has been
// available for K consecutive cycles AND at least one variant is concretely
// in stock; sites briefly flip the buyable flag before stock is populated.
// Downgrades out of Available take effect immediately and clear the notified
// flag so a later re-confirmation can notify again.
func (m Machine) Apply(state model.TargetState, snap *model.Snapshot) Result {
	k := m.Confirmations
	if k <= 0 {
		k = DefaultConfirmations
	}

	raw := snap.Status
	prev := state.CanonicalStatus

	// The first successful observation seeds the canonical state as-is,
	// without emitting events; there is no history to transition from.
	if state.Snapshot == nil {
		state.CanonicalStatus = canonicalOf(raw)
		state.Confirmations = 0
		return Result{State: state}
	}

	var events []model.ChangeEvent

	switch {
	case raw == model.StatusError:
		// Only an adapter-signaled fault flips the canonical status to
		// Error; plain fetch failures never reach Apply.
		state.Confirmations = 0
		if prev != model.StatusError {
			state.CanonicalStatus = model.StatusError
			events = append(events, model.ChangeEvent{
				Kind:      model.EventError,
				OldStatus: prev,
				NewStatus: model.StatusError,
			})
		}

	case raw.Purchasable():
		if prev == model.StatusAvailable {
			state.Confirmations = 0
			break
		}
		state.Confirmations++
		if state.Confirmations < k {
			break
		}
		if !snap.IsListing() && len(snap.AvailableSizes()) == 0 {
			// Buyable flag without any stocked size: wait for stock
			// before trusting the transition.
			state.Confirmations = 0
			break
		}
		state.CanonicalStatus = model.StatusAvailable
		state.Confirmations = 0
		events = append(events, model.ChangeEvent{
			Kind:      model.EventStatusAvailable,
			OldStatus: prev,
			NewStatus: model.StatusAvailable,
		})

	case raw == model.StatusUnknown:
		// Listings and sources without a product-level status leave the
		// canonical status alone; entity diffs carry the signal.
		state.Confirmations = 0

	default: // coming_soon, unavailable, out_of_stock
		state.Confirmations = 0
		if prev == model.StatusAvailable {
			state.CanonicalStatus = model.StatusUnavailable
			state.Notified = false
			state.NotifiedAt = nil
			events = append(events, model.ChangeEvent{
				Kind:      model.EventStatusDegraded,
				OldStatus: prev,
				NewStatus: model.StatusUnavailable,
			})
		} else {
			state.CanonicalStatus = canonicalOf(raw)
		}
	}

	return Result{State: state, Events: events}
}

// canonicalOf maps a raw observed status onto the canonical lifecycle states.
func canonicalOf(raw model.Status) model.Status {
	switch {
	case raw.Purchasable():
		return model.StatusAvailable
	case raw == model.StatusComingSoon:
		return model.StatusComingSoon
	case raw == model.StatusOutOfStock, raw == model.StatusUnavailable:
		return model.StatusUnavailable
	case raw == model.StatusError:
		return model.StatusError
	}
	return model.StatusUnknown
}
