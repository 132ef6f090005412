// Package syncengine reconciles the on-device record set with the remote authority:
// it derives dirty records, pushes them in batches, pulls remote changes since a
// watermark, resolves conflicts by last-write-wins, and runs whole cycles under a
// single-flight guard.
package syncengine

import (
	"context"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/equipment"
)

// RecordStore is the whole-collection view of the Local Record Store.
type RecordStore interface {
	GetAll(ctx context.Context) ([]equipment.Record, error)
	SaveAll(ctx context.Context, records []equipment.Record) error
}

// StateStore persists the watermark and coordinator state between processes.
type StateStore interface {
	Watermark(ctx context.Context) (equipment.Timestamp, error)
	AdvanceWatermark(ctx context.Context, next equipment.Timestamp) error
	SyncState(ctx context.Context) (string, error)
	SetSyncState(ctx context.Context, state string) error
	RecordSuccess(ctx context.Context, completedAt equipment.Timestamp) error
	RecordFailure(ctx context.Context, message string) error
}

// Authority is the client view of the remote authority.
type Authority interface {
	Pull(ctx context.Context, since equipment.Timestamp) (equipment.PullResult, error)
	Push(ctx context.Context, request equipment.PushRequest) (equipment.PushResult, error)
}
