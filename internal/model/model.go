// Package model defines the domain types used across the application.
package model

import "time"

// Status describes the availability of a product or a single variant.
type Status string

// Known status values. Variant-level observations use the stock statuses,
// product-level observations use the lifecycle statuses.
const (
	StatusInStock     Status = "in_stock"
	StatusLowStock    Status = "low_stock"
	StatusOutOfStock  Status = "out_of_stock"
	StatusComingSoon  Status = "coming_soon"
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusUnknown     Status = "unknown"
	StatusError       Status = "error"
)

// Purchasable reports whether the status means an order could be placed.
func (s Status) Purchasable() bool {
	switch s {
	case StatusInStock, StatusLowStock, StatusAvailable:
		return true
	}
	return false
}

// AdapterKind selects the site logic used to observe a target.
type AdapterKind string

// Supported adapter kinds.
const (
	AdapterShopJSON AdapterKind = "shopjson"
	AdapterPage     AdapterKind = "page"
	AdapterFeed     AdapterKind = "feed"
)

// Target represents one monitored product or listing resource.
// Its identity is the canonicalized URL.
type Target struct {
	ID              int64       `json:"id"`
	URL             string      `json:"url"`
	Name            string      `json:"name"`
	Kind            AdapterKind `json:"kind"`
	IntervalSeconds int         `json:"interval_seconds"`
	IsActive        bool        `json:"is_active"`
	TargetSizes     []string    `json:"target_sizes,omitempty"`
	TargetColors    []string    `json:"target_colors,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Interval returns the check interval as a duration.
func (t Target) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// WantsVariant reports whether a variant matches the target's size/color
// filters. Empty filter lists match everything.
func (t Target) WantsVariant(v VariantSnapshot) bool {
	return matchFilter(t.TargetSizes, v.Size) && matchFilter(t.TargetColors, v.Color)
}

func matchFilter(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, want := range values {
		if want == v {
			return true
		}
	}
	return false
}

// VariantKey identifies a variant across observations. Sources may reorder
// variant arrays, so position is never used as identity.
type VariantKey struct {
	Color string
	Size  string
}

// VariantSnapshot is the observed state of a single size/color variant.
type VariantSnapshot struct {
	Color    string `json:"color,omitempty"`
	Size     string `json:"size"`
	Status   Status `json:"status"`
	Quantity *int   `json:"quantity,omitempty"`
}

// Key returns the stable identity of the variant.
func (v VariantSnapshot) Key() VariantKey {
	return VariantKey{Color: v.Color, Size: v.Size}
}

// EntitySnapshot is the observed state of one item on a multi-item listing.
type EntitySnapshot struct {
	EntityID string   `json:"entity_id"`
	Name     string   `json:"name"`
	Price    *float64 `json:"price,omitempty"`
	URL      string   `json:"url,omitempty"`
	Status   Status   `json:"status"`
}

// Snapshot is the last accepted, persisted state for a target. For
// single-product targets Variants is populated; for listing targets Entities.
type Snapshot struct {
	Status    Status            `json:"status"`
	Name      string            `json:"name"`
	Price     string            `json:"price,omitempty"`
	Variants  []VariantSnapshot `json:"variants"`
	Entities  []EntitySnapshot  `json:"entities"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// IsListing reports whether the snapshot describes a multi-item listing.
func (s *Snapshot) IsListing() bool {
	return s != nil && s.Entities != nil
}

// TotalCount returns the entity count for listings, otherwise the variant
// count. It feeds the anomaly guard's plausibility check.
func (s *Snapshot) TotalCount() int {
	if s == nil {
		return 0
	}
	if s.Entities != nil {
		return len(s.Entities)
	}
	return len(s.Variants)
}

// AvailableSizes returns the sizes that are concretely purchasable right now.
func (s *Snapshot) AvailableSizes() []string {
	if s == nil {
		return nil
	}
	var sizes []string
	for _, v := range s.Variants {
		if v.Status.Purchasable() {
			sizes = append(sizes, v.Size)
		}
	}
	return sizes
}

// Observation is the result of one fetch attempt. It is transient and
// untrusted until it passes validation; only the derived Snapshot persists.
type Observation struct {
	Success      bool
	FetchedAt    time.Time
	Status       Status
	Name         string
	Price        string
	Variants     []VariantSnapshot
	Entities     []EntitySnapshot
	Method       string
	ErrorMessage string
}

// TotalCount mirrors Snapshot.TotalCount for raw observations.
func (o *Observation) TotalCount() int {
	if o == nil {
		return 0
	}
	if o.Entities != nil {
		return len(o.Entities)
	}
	return len(o.Variants)
}

// Snapshot converts an accepted observation into a persistable snapshot.
func (o *Observation) Snapshot() *Snapshot {
	return &Snapshot{
		Status:    o.Status,
		Name:      o.Name,
		Price:     o.Price,
		Variants:  o.Variants,
		Entities:  o.Entities,
		FetchedAt: o.FetchedAt,
	}
}

// TargetState is the persisted per-target record: last accepted snapshot,
// confirmation counter, notification dedup flag and failure bookkeeping.
type TargetState struct {
	TargetID            int64
	CanonicalStatus     Status
	Confirmations       int
	Notified            bool
	NotifiedAt          *time.Time
	LastGoodCount       int
	ConsecutiveFailures int
	LastError           string
	LastCheckAt         *time.Time
	Snapshot            *Snapshot
}

// EventKind classifies a change event.
type EventKind string

// Event kinds produced by the diff engine and the state machine.
const (
	EventAdded            EventKind = "added"
	EventRemoved          EventKind = "removed"
	EventVariantRestocked EventKind = "variant_restocked"
	EventVariantSoldOut   EventKind = "variant_soldout"
	EventStatusAvailable  EventKind = "status_available"
	EventStatusDegraded   EventKind = "status_degraded"
	EventError            EventKind = "error"
)

// ChangeEvent is a single detected change, produced fresh each check cycle
// and consumed once by the dispatcher.
type ChangeEvent struct {
	Kind      EventKind
	Entity    *EntitySnapshot
	Variant   *VariantSnapshot
	OldStatus Status
	NewStatus Status
}

// NotificationRecord logs one dispatched notification and the per-channel
// delivery outcome.
type NotificationRecord struct {
	ID             int64           `json:"id"`
	TargetID       int64           `json:"target_id"`
	EventKind      EventKind       `json:"event_kind"`
	Title          string          `json:"title"`
	SentAt         time.Time       `json:"sent_at"`
	ChannelResults map[string]bool `json:"channel_results"`
}

// CheckLog is the per-cycle history row surfaced through the API.
type CheckLog struct {
	ID           int64     `json:"id"`
	TargetID     int64     `json:"target_id"`
	CheckedAt    time.Time `json:"checked_at"`
	Success      bool      `json:"success"`
	TotalCount   int       `json:"total_count"`
	AddedCount   int       `json:"added_count"`
	RemovedCount int       `json:"removed_count"`
	EventCount   int       `json:"event_count"`
	Method       string    `json:"method,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// CheckSummary is the synchronous result of a single check cycle.
type CheckSummary struct {
	TargetID          int64         `json:"target_id"`
	Success           bool          `json:"success"`
	Status            Status        `json:"status"`
	EventCount        int           `json:"event_count"`
	NotificationsSent int           `json:"notifications_sent"`
	ErrorMessage      string        `json:"error_message,omitempty"`
	Duration          time.Duration `json:"duration_ns"`
}

// TargetStatus is one row of the operator-facing status summary.
type TargetStatus struct {
	Target              Target     `json:"target"`
	CanonicalStatus     Status     `json:"canonical_status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastCheckAt         *time.Time `json:"last_check_at,omitempty"`
	Notified            bool       `json:"notified"`
	AvailableSizes      []string   `json:"available_sizes,omitempty"`
}

// StatusSummary aggregates the state of all targets.
type StatusSummary struct {
	Total       int            `json:"total"`
	Active      int            `json:"active"`
	ComingSoon  int            `json:"coming_soon"`
	Available   int            `json:"available"`
	Unavailable int            `json:"unavailable"`
	Errored     int            `json:"errored"`
	Notified    int            `json:"notified"`
	Targets     []TargetStatus `json:"targets"`
}
