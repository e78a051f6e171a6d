// Package engine runs the check cycle: observe, validate, apply the
// state machine, diff, notify and persist. It is the only writer of
// target state.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stockwatch/internal/adapter"
	"stockwatch/internal/diff"
	"stockwatch/internal/model"
	"stockwatch/internal/notify"
	"stockwatch/internal/storage"
	"stockwatch/internal/transition"
	"stockwatch/internal/urlutil"
	"stockwatch/internal/validate"
)

// Engine coordinates a full check cycle for targets.
type Engine struct {
	store      storage.Storage
	adapters   *adapter.Registry
	validator  *validate.Validator
	machine    transition.Machine
	dispatcher *notify.Dispatcher
	log        *slog.Logger
}

// New creates an Engine.
func New(store storage.Storage, adapters *adapter.Registry, validator *validate.Validator,
	machine transition.Machine, dispatcher *notify.Dispatcher, log *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		adapters:   adapters,
		validator:  validator,
		machine:    machine,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Check executes one cycle for a target. A failed fetch is not an error
// from Check's point of view; it is recorded in the summary and in the
// failure counters while the last accepted snapshot stays untouched.
func (e *Engine) Check(ctx context.Context, target model.Target) (*model.CheckSummary, error) {
	start := time.Now()

	state, err := e.store.LoadState(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if state == nil {
		state = &model.TargetState{TargetID: target.ID, CanonicalStatus: model.StatusUnknown}
	}

	ad, err := e.adapters.For(target.Kind)
	if err != nil {
		return nil, err
	}

	obs, err := e.validator.Run(ctx, state.LastGoodCount, func(ctx context.Context) *model.Observation {
		return ad.Check(ctx, target)
	})
	now := time.Now().UTC()
	if err != nil {
		return e.failCycle(ctx, target, state, err, now, time.Since(start))
	}

	snap := obs.Snapshot()
	res := e.machine.Apply(*state, snap)
	events := append(res.Events, diff.Diff(state.Snapshot, snap)...)
	events = diff.FilterEvents(events, target)

	report := e.dispatcher.Dispatch(ctx, target, snap, events, state.Notified)

	next := res.State
	next.Snapshot = snap
	next.LastGoodCount = snap.TotalCount()
	next.ConsecutiveFailures = 0
	next.LastError = ""
	next.LastCheckAt = &now
	if report.NotifiedSet {
		next.Notified = true
		next.NotifiedAt = &now
	}

	if err := e.store.SaveState(ctx, &next); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	for i := range report.Records {
		if err := e.store.RecordNotification(ctx, &report.Records[i]); err != nil {
			e.log.Error("record notification", "target_id", target.ID, "error", err)
		}
	}

	added, removed := countEntityEvents(events)
	logRow := &model.CheckLog{
		TargetID:     target.ID,
		CheckedAt:    now,
		Success:      true,
		TotalCount:   snap.TotalCount(),
		AddedCount:   added,
		RemovedCount: removed,
		EventCount:   len(events),
		Method:       obs.Method,
		DurationMS:   time.Since(start).Milliseconds(),
	}
	if err := e.store.RecordCheck(ctx, logRow); err != nil {
		e.log.Error("record check", "target_id", target.ID, "error", err)
	}

	e.log.Info("check complete",
		"target_id", target.ID, "status", next.CanonicalStatus,
		"events", len(events), "sent", report.Sent)

	return &model.CheckSummary{
		TargetID:          target.ID,
		Success:           true,
		Status:            next.CanonicalStatus,
		EventCount:        len(events),
		NotificationsSent: report.Sent,
		Duration:          time.Since(start),
	}, nil
}

// failCycle records a terminal validation failure. Only the failure
// bookkeeping fields change; the snapshot and the change-detection state
// survive the outage byte for byte.
func (e *Engine) failCycle(ctx context.Context, target model.Target, state *model.TargetState,
	checkErr error, now time.Time, elapsed time.Duration) (*model.CheckSummary, error) {

	state.ConsecutiveFailures++
	state.LastError = checkErr.Error()
	state.LastCheckAt = &now

	if err := e.store.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	if rec := e.dispatcher.NotifyError(ctx, target, checkErr); rec != nil {
		if err := e.store.RecordNotification(ctx, rec); err != nil {
			e.log.Error("record notification", "target_id", target.ID, "error", err)
		}
	}

	logRow := &model.CheckLog{
		TargetID:     target.ID,
		CheckedAt:    now,
		Success:      false,
		ErrorMessage: checkErr.Error(),
		DurationMS:   elapsed.Milliseconds(),
	}
	if err := e.store.RecordCheck(ctx, logRow); err != nil {
		e.log.Error("record check", "target_id", target.ID, "error", err)
	}

	e.log.Warn("check failed",
		"target_id", target.ID, "failures", state.ConsecutiveFailures, "error", checkErr)

	return &model.CheckSummary{
		TargetID:     target.ID,
		Success:      false,
		Status:       state.CanonicalStatus,
		ErrorMessage: checkErr.Error(),
		Duration:     elapsed,
	}, nil
}

func countEntityEvents(events []model.ChangeEvent) (added, removed int) {
	for _, ev := range events {
		switch ev.Kind {
		case model.EventAdded:
			added++
		case model.EventRemoved:
			removed++
		}
	}
	return added, removed
}

// AddTarget canonicalizes the URL and creates the target. Adding a URL
// that is already monitored returns the existing target unchanged.
func (e *Engine) AddTarget(ctx context.Context, t *model.Target) (existing bool, err error) {
	canonical, err := urlutil.Canonicalize(t.URL)
	if err != nil {
		return false, fmt.Errorf("canonicalize url: %w", err)
	}
	t.URL = canonical

	if prev, err := e.store.GetTargetByURL(ctx, canonical); err != nil {
		return false, fmt.Errorf("lookup target: %w", err)
	} else if prev != nil {
		// Re-adding a known URL refreshes its filters instead of
		// creating a duplicate row.
		if t.TargetSizes != nil || t.TargetColors != nil {
			prev.TargetSizes = t.TargetSizes
			prev.TargetColors = t.TargetColors
			if err := e.store.UpdateTarget(ctx, prev); err != nil {
				return true, fmt.Errorf("update target: %w", err)
			}
		}
		*t = *prev
		return true, nil
	}

	if t.Kind == "" {
		t.Kind = model.AdapterShopJSON
	}
	if _, err := e.adapters.For(t.Kind); err != nil {
		return false, err
	}
	if err := e.store.CreateTarget(ctx, t); err != nil {
		return false, err
	}
	e.log.Info("target added", "target_id", t.ID, "url", t.URL, "kind", t.Kind)
	return false, nil
}

// RemoveTarget deletes a target and all of its history.
func (e *Engine) RemoveTarget(ctx context.Context, id int64) error {
	if err := e.store.DeleteTarget(ctx, id); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	e.log.Info("target removed", "target_id", id)
	return nil
}

// ToggleActive flips a target's monitoring flag. Re-enabling clears the
// notification dedup flag so the next confirmed availability announces
// itself again.
func (e *Engine) ToggleActive(ctx context.Context, id int64) (*model.Target, error) {
	t, err := e.store.GetTarget(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	t.IsActive = !t.IsActive
	if err := e.store.UpdateTarget(ctx, t); err != nil {
		return nil, fmt.Errorf("update target: %w", err)
	}

	if t.IsActive {
		state, err := e.store.LoadState(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if state != nil && state.Notified {
			state.Notified = false
			state.NotifiedAt = nil
			if err := e.store.SaveState(ctx, state); err != nil {
				return nil, fmt.Errorf("save state: %w", err)
			}
		}
	}
	return t, nil
}

// StatusSummary builds the operator-facing overview of all targets.
func (e *Engine) StatusSummary(ctx context.Context) (*model.StatusSummary, error) {
	targets, err := e.store.ListTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	summary := &model.StatusSummary{Total: len(targets)}
	for _, t := range targets {
		state, err := e.store.LoadState(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if state == nil {
			state = &model.TargetState{TargetID: t.ID, CanonicalStatus: model.StatusUnknown}
		}

		if t.IsActive {
			summary.Active++
		}
		switch state.CanonicalStatus {
		case model.StatusComingSoon:
			summary.ComingSoon++
		case model.StatusAvailable:
			summary.Available++
		case model.StatusUnavailable:
			summary.Unavailable++
		case model.StatusError:
			summary.Errored++
		}
		if state.Notified {
			summary.Notified++
		}

		summary.Targets = append(summary.Targets, model.TargetStatus{
			Target:              t,
			CanonicalStatus:     state.CanonicalStatus,
			ConsecutiveFailures: state.ConsecutiveFailures,
			LastError:           state.LastError,
			LastCheckAt:         state.LastCheckAt,
			Notified:            state.Notified,
			AvailableSizes:      state.Snapshot.AvailableSizes(),
		})
	}
	return summary, nil
}
