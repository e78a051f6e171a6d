package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"stockwatch/internal/adapter"
	"stockwatch/internal/model"
	"stockwatch/internal/notify"
	"stockwatch/internal/storage"
	"stockwatch/internal/transition"
	"stockwatch/internal/validate"
)

// fakeAdapter replays a scripted sequence of observations. The last
// observation repeats once the script runs out.
type fakeAdapter struct {
	mu   sync.Mutex
	obs  []*model.Observation
	next int
}

func (a *fakeAdapter) Kind() model.AdapterKind { return model.AdapterShopJSON }

func (a *fakeAdapter) Check(_ context.Context, _ model.Target) *model.Observation {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.next
	if i >= len(a.obs) {
		i = len(a.obs) - 1
	}
	a.next++
	return a.obs[i]
}

type fakeChannel struct {
	mu   sync.Mutex
	err  error
	sent []notify.Notification
}

func (c *fakeChannel) Name() string { return "test" }

func (c *fakeChannel) Send(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func obsWithSizes(status model.Status, sizes map[string]model.Status) *model.Observation {
	obs := &model.Observation{
		Success:   true,
		FetchedAt: time.Now().UTC(),
		Status:    status,
		Name:      "Runner Jacket",
		Method:    "shopjson",
	}
	for size, st := range sizes {
		obs.Variants = append(obs.Variants, model.VariantSnapshot{Size: size, Status: st})
	}
	return obs
}

func failedObs(msg string) *model.Observation {
	return &model.Observation{Success: false, Method: "shopjson", ErrorMessage: msg}
}

type testEngine struct {
	engine  *Engine
	store   *storage.SQLite
	channel *fakeChannel
}

func newTestEngine(t *testing.T, confirmations int, obs ...*model.Observation) *testEngine {
	t.Helper()

	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	validator := validate.New(log)
	validator.Retries = 0
	validator.RetryDelay = time.Millisecond

	channel := &fakeChannel{}
	dispatcher := notify.NewDispatcher([]notify.Channel{channel}, notify.Policy{
		OnAdded: true, OnRemoved: true, OnRestock: true, OnError: true,
	}, log)

	registry := adapter.NewRegistry(&fakeAdapter{obs: obs})
	machine := transition.Machine{Confirmations: confirmations}

	return &testEngine{
		engine:  New(store, registry, validator, machine, dispatcher, log),
		store:   store,
		channel: channel,
	}
}

func createTarget(t *testing.T, store *storage.SQLite) model.Target {
	t.Helper()
	target := model.Target{
		URL:             "https://shop.example.com/products/runner-jacket",
		Name:            "Runner Jacket",
		Kind:            model.AdapterShopJSON,
		IntervalSeconds: 300,
		IsActive:        true,
	}
	if err := store.CreateTarget(context.Background(), &target); err != nil {
		t.Fatalf("create target: %v", err)
	}
	return target
}

func TestCheckPersistsSnapshot(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2,
		obsWithSizes(model.StatusComingSoon, nil),
	)
	target := createTarget(t, te.store)

	summary, err := te.engine.Check(ctx, target)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !summary.Success {
		t.Fatalf("summary = %+v, want success", summary)
	}
	if summary.Status != model.StatusComingSoon {
		t.Errorf("status = %s, want %s", summary.Status, model.StatusComingSoon)
	}

	state, err := te.store.LoadState(ctx, target.ID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state == nil || state.Snapshot == nil {
		t.Fatal("state not persisted")
	}
	if state.Snapshot.Name != "Runner Jacket" {
		t.Errorf("snapshot name = %q", state.Snapshot.Name)
	}

	checks, err := te.store.ListChecks(ctx, target.ID, 10)
	if err != nil {
		t.Fatalf("list checks: %v", err)
	}
	if len(checks) != 1 || !checks[0].Success {
		t.Errorf("check log = %+v, want one successful row", checks)
	}
}

func TestCheckFailureLeavesSnapshotUntouched(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2,
		obsWithSizes(model.StatusInStock, map[string]model.Status{"M": model.StatusInStock}),
		failedObs("connection refused"),
		failedObs("connection refused"),
	)
	target := createTarget(t, te.store)

	if _, err := te.engine.Check(ctx, target); err != nil {
		t.Fatalf("first check: %v", err)
	}
	before, err := te.store.LoadState(ctx, target.ID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	for i := 0; i < 2; i++ {
		summary, err := te.engine.Check(ctx, target)
		if err != nil {
			t.Fatalf("failing check %d: %v", i, err)
		}
		if summary.Success {
			t.Fatalf("failing check %d reported success", i)
		}
	}

	after, err := te.store.LoadState(ctx, target.ID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}

	if diff := cmp.Diff(before.Snapshot, after.Snapshot); diff != "" {
		t.Errorf("snapshot changed across failed cycles (-before +after):\n%s", diff)
	}
	if after.CanonicalStatus != before.CanonicalStatus {
		t.Errorf("canonical changed: %s -> %s", before.CanonicalStatus, after.CanonicalStatus)
	}
	if after.LastGoodCount != before.LastGoodCount {
		t.Errorf("last good count changed: %d -> %d", before.LastGoodCount, after.LastGoodCount)
	}
	if after.ConsecutiveFailures != 2 {
		t.Errorf("consecutive failures = %d, want 2", after.ConsecutiveFailures)
	}
	if after.LastError == "" {
		t.Error("last error not recorded")
	}

	checks, err := te.store.ListChecks(ctx, target.ID, 10)
	if err != nil {
		t.Fatalf("list checks: %v", err)
	}
	if len(checks) != 3 {
		t.Fatalf("check log rows = %d, want 3", len(checks))
	}
	if checks[0].Success || checks[1].Success {
		t.Error("failed cycles logged as successful")
	}
}

func TestCheckNotifiesLaunchOnce(t *testing.T) {
	ctx := context.Background()
	inStock := map[string]model.Status{"M": model.StatusInStock}
	te := newTestEngine(t, 2,
		obsWithSizes(model.StatusComingSoon, nil),
		obsWithSizes(model.StatusInStock, inStock),
		obsWithSizes(model.StatusInStock, inStock),
		obsWithSizes(model.StatusInStock, inStock),
	)
	target := createTarget(t, te.store)

	for i := 0; i < 4; i++ {
		if _, err := te.engine.Check(ctx, target); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}

	state, err := te.store.LoadState(ctx, target.ID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !state.Notified {
		t.Error("notified flag not set")
	}
	if state.CanonicalStatus != model.StatusAvailable {
		t.Errorf("canonical = %s, want %s", state.CanonicalStatus, model.StatusAvailable)
	}

	// Seed, one confirmation (with a restock notice for the new size),
	// promotion with the launch notification, then silence.
	recs, err := te.store.ListNotifications(ctx, target.ID, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	var launches int
	for _, r := range recs {
		if r.EventKind == model.EventStatusAvailable {
			launches++
		}
	}
	if launches != 1 {
		t.Errorf("launch notifications = %d, want exactly 1", launches)
	}
}

func TestCheckDegradeReArmsNotification(t *testing.T) {
	ctx := context.Background()
	inStock := map[string]model.Status{"M": model.StatusInStock}
	te := newTestEngine(t, 1,
		obsWithSizes(model.StatusComingSoon, nil),
		obsWithSizes(model.StatusInStock, inStock),
		obsWithSizes(model.StatusOutOfStock, map[string]model.Status{"M": model.StatusOutOfStock}),
		obsWithSizes(model.StatusInStock, inStock),
	)
	target := createTarget(t, te.store)

	var sent int
	for i := 0; i < 4; i++ {
		summary, err := te.engine.Check(ctx, target)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		sent += summary.NotificationsSent
	}

	// Launch, degrade notice with variant soldout, and re-launch all
	// produce notifications; the dedup flag re-armed on the degrade.
	state, err := te.store.LoadState(ctx, target.ID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.CanonicalStatus != model.StatusAvailable {
		t.Errorf("canonical = %s, want %s", state.CanonicalStatus, model.StatusAvailable)
	}
	if !state.Notified {
		t.Error("notified flag not set after re-launch")
	}

	recs, err := te.store.ListNotifications(ctx, target.ID, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	var launchCount int
	for _, r := range recs {
		if r.EventKind == model.EventStatusAvailable {
			launchCount++
		}
	}
	if launchCount != 2 {
		t.Errorf("launch notifications = %d, want 2 (before and after degrade)", launchCount)
	}
	if sent < 2 {
		t.Errorf("total sent = %d, want at least the two launches", sent)
	}
}

func TestAddTargetCanonicalizesAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2, obsWithSizes(model.StatusComingSoon, nil))

	target := &model.Target{
		URL:  "HTTPS://Shop.Example.com/products/runner-jacket/?utm_source=tw",
		Kind: model.AdapterShopJSON,
	}
	existing, err := te.engine.AddTarget(ctx, target)
	if err != nil {
		t.Fatalf("add target: %v", err)
	}
	if existing {
		t.Fatal("fresh target reported as existing")
	}
	if target.URL != "https://shop.example.com/products/runner-jacket" {
		t.Errorf("canonical url = %q", target.URL)
	}

	dup := &model.Target{
		URL:  "https://shop.example.com/products/runner-jacket?fbclid=abc",
		Kind: model.AdapterShopJSON,
	}
	existing, err = te.engine.AddTarget(ctx, dup)
	if err != nil {
		t.Fatalf("add duplicate: %v", err)
	}
	if !existing {
		t.Error("duplicate url not detected")
	}
	if dup.ID != target.ID {
		t.Errorf("duplicate resolved to target %d, want %d", dup.ID, target.ID)
	}
}

func TestAddTargetDuplicateRefreshesFilters(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2, obsWithSizes(model.StatusComingSoon, nil))

	target := &model.Target{
		URL:         "https://shop.example.com/products/runner-jacket",
		Kind:        model.AdapterShopJSON,
		TargetSizes: []string{"M"},
	}
	if _, err := te.engine.AddTarget(ctx, target); err != nil {
		t.Fatalf("add target: %v", err)
	}

	dup := &model.Target{
		URL:          "https://shop.example.com/products/runner-jacket",
		Kind:         model.AdapterShopJSON,
		TargetSizes:  []string{"M", "L"},
		TargetColors: []string{"black"},
	}
	existing, err := te.engine.AddTarget(ctx, dup)
	if err != nil {
		t.Fatalf("add duplicate: %v", err)
	}
	if !existing {
		t.Error("duplicate url not detected")
	}

	stored, err := te.store.GetTarget(ctx, target.ID)
	if err != nil {
		t.Fatalf("get target: %v", err)
	}
	if diff := cmp.Diff([]string{"M", "L"}, stored.TargetSizes); diff != "" {
		t.Errorf("sizes not refreshed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"black"}, stored.TargetColors); diff != "" {
		t.Errorf("colors not refreshed (-want +got):\n%s", diff)
	}
}

func TestAddTargetRejectsUnknownKind(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2, obsWithSizes(model.StatusComingSoon, nil))

	_, err := te.engine.AddTarget(ctx, &model.Target{
		URL:  "https://shop.example.com/products/x",
		Kind: model.AdapterKind("browser"),
	})
	if err == nil {
		t.Error("unknown adapter kind accepted")
	}
}

func TestToggleActiveReArmsNotification(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2, obsWithSizes(model.StatusComingSoon, nil))
	target := createTarget(t, te.store)

	now := time.Now().UTC()
	if err := te.store.SaveState(ctx, &model.TargetState{
		TargetID:        target.ID,
		CanonicalStatus: model.StatusAvailable,
		Notified:        true,
		NotifiedAt:      &now,
	}); err != nil {
		t.Fatalf("save state: %v", err)
	}

	off, err := te.engine.ToggleActive(ctx, target.ID)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if off.IsActive {
		t.Fatal("target still active after toggle")
	}

	on, err := te.engine.ToggleActive(ctx, target.ID)
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !on.IsActive {
		t.Fatal("target still inactive after toggle")
	}

	state, err := te.store.LoadState(ctx, target.ID)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.Notified {
		t.Error("notified flag survived re-enable")
	}
}

func TestStatusSummary(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2, obsWithSizes(model.StatusComingSoon, nil))
	target := createTarget(t, te.store)

	if _, err := te.engine.Check(ctx, target); err != nil {
		t.Fatalf("check: %v", err)
	}

	summary, err := te.engine.StatusSummary(ctx)
	if err != nil {
		t.Fatalf("status summary: %v", err)
	}
	if summary.Total != 1 || summary.Active != 1 || summary.ComingSoon != 1 {
		t.Errorf("summary = %+v, want one active coming_soon target", summary)
	}
	if len(summary.Targets) != 1 {
		t.Fatalf("summary rows = %d, want 1", len(summary.Targets))
	}
	row := summary.Targets[0]
	if row.CanonicalStatus != model.StatusComingSoon {
		t.Errorf("row status = %s, want %s", row.CanonicalStatus, model.StatusComingSoon)
	}
	if row.LastCheckAt == nil {
		t.Error("last check time missing")
	}
}

func TestCheckErrorNotification(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2,
		obsWithSizes(model.StatusComingSoon, nil),
		failedObs("blocked"),
	)
	target := createTarget(t, te.store)

	if _, err := te.engine.Check(ctx, target); err != nil {
		t.Fatalf("first check: %v", err)
	}
	sentBefore := te.channel.count()

	summary, err := te.engine.Check(ctx, target)
	if err != nil {
		t.Fatalf("failing check: %v", err)
	}
	if summary.Success {
		t.Fatal("failing check reported success")
	}
	if te.channel.count() != sentBefore+1 {
		t.Errorf("sent = %d, want one error notification", te.channel.count()-sentBefore)
	}

	recs, err := te.store.ListNotifications(ctx, target.ID, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(recs) != 1 || recs[0].EventKind != model.EventError {
		t.Errorf("records = %+v, want one error record", recs)
	}
}

func TestCheckSurfacesValidationError(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, 2, failedObs("403 forbidden"))
	target := createTarget(t, te.store)

	summary, err := te.engine.Check(ctx, target)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if summary.Success {
		t.Fatal("summary reports success for a failed fetch")
	}
	if summary.ErrorMessage == "" {
		t.Error("error message missing")
	}
}
