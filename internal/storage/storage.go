// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"stockwatch/internal/model"
)

// Storage is the interface for all persistence operations. State writes are
// atomic per target: a concurrent reader of the same target never observes a
// torn snapshot.
type Storage interface {
	CreateTarget(ctx context.Context, t *model.Target) error
	GetTarget(ctx context.Context, id int64) (*model.Target, error)
	GetTargetByURL(ctx context.Context, url string) (*model.Target, error)
	ListTargets(ctx context.Context) ([]model.Target, error)
	ListActiveTargets(ctx context.Context) ([]model.Target, error)
	UpdateTarget(ctx context.Context, t *model.Target) error
	DeleteTarget(ctx context.Context, id int64) error

	// LoadState returns nil when no state has been persisted yet.
	LoadState(ctx context.Context, targetID int64) (*model.TargetState, error)
	SaveState(ctx context.Context, state *model.TargetState) error

	RecordNotification(ctx context.Context, rec *model.NotificationRecord) error
	ListNotifications(ctx context.Context, targetID int64, limit int) ([]model.NotificationRecord, error)

	RecordCheck(ctx context.Context, log *model.CheckLog) error
	ListChecks(ctx context.Context, targetID int64, limit int) ([]model.CheckLog, error)

	Close() error
}
