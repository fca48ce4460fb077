// Package storage defines the durable delivery attempt ledger.
package storage

import (
	"context"
	"time"
)

// AttemptRecord is one durable delivery outcome.
type AttemptRecord struct {
	ID         int64
	DeliveryID string
	Source     string
	Consumer   string
	Schema     string
	ActionID   int64
	Outcome    string
	Stage      string
	// AttemptCount is the transport's delivery count, when it reports one.
	AttemptCount int32
	LastError    string
	// Body is kept for rejected and ignored deliveries only.
	Body      string
	CreatedAt time.Time
}

// AttemptStore persists delivery attempts.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt AttemptRecord) error
	ListAttempts(ctx context.Context, limit int) ([]AttemptRecord, error)
	// ListRejected lists rejected attempts for manual inspection.
	ListRejected(ctx context.Context, limit int) ([]AttemptRecord, error)
}
