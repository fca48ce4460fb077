package app

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	syncstorage "github.com/louisbranch/actionsync/internal/services/sync/storage"
)

const defaultConsumer = "actionsync"

// Delivery identifies one transport delivery.
type Delivery struct {
	ID           string
	Source       string
	AttemptCount int32
}

// Handler runs the pipeline for one delivery body.
type Handler interface {
	Handle(ctx context.Context, body []byte) domain.Result
}

type attemptStoreRecorder struct {
	store    syncstorage.AttemptStore
	consumer string
	now      func() time.Time
}

func newAttemptStoreRecorder(store syncstorage.AttemptStore, consumer string) *attemptStoreRecorder {
	normalizedConsumer := strings.TrimSpace(consumer)
	if normalizedConsumer == "" {
		normalizedConsumer = defaultConsumer
	}
	return &attemptStoreRecorder{store: store, consumer: normalizedConsumer, now: time.Now}
}

// settle logs the result and records it in the attempt ledger. Ledger
// failures are logged and do not change the outcome.
func (r *attemptStoreRecorder) settle(ctx context.Context, delivery Delivery, result domain.Result) {
	logResult(delivery, result)
	if r == nil || r.store == nil {
		return
	}
	if err := r.store.RecordAttempt(context.WithoutCancel(ctx), attemptRecord(r.consumer, delivery, result, r.now())); err != nil {
		log.Printf("record %s delivery %s: %v", delivery.Source, delivery.ID, err)
	}
}

func attemptRecord(consumer string, delivery Delivery, result domain.Result, now time.Time) syncstorage.AttemptRecord {
	record := syncstorage.AttemptRecord{
		DeliveryID:   delivery.ID,
		Source:       delivery.Source,
		Consumer:     consumer,
		Schema:       result.Schema,
		ActionID:     result.ActionID,
		Outcome:      string(result.Outcome),
		Stage:        string(result.Stage),
		AttemptCount: delivery.AttemptCount,
		CreatedAt:    now.UTC(),
	}
	if result.Err != nil {
		record.LastError = result.Err.Error()
	}
	if result.Outcome == domain.OutcomeRejected || result.Outcome == domain.OutcomeIgnored {
		record.Body = string(result.Body)
	}
	return record
}

func logResult(delivery Delivery, result domain.Result) {
	switch result.Outcome {
	case domain.OutcomeRejected:
		log.Printf("rejected %s delivery %s action %d at %s: %v; body: %s",
			delivery.Source, delivery.ID, result.ActionID, result.Stage, result.Err, result.Body)
	case domain.OutcomeRetry:
		log.Printf("retry %s delivery %s action %d at %s: %v",
			delivery.Source, delivery.ID, result.ActionID, result.Stage, result.Err)
	case domain.OutcomeIgnored:
		if result.Err != nil {
			log.Printf("ignored %s delivery %s: %v", delivery.Source, delivery.ID, result.Err)
		} else {
			log.Printf("ignored %s delivery %s with schema %q", delivery.Source, delivery.ID, result.Schema)
		}
	default:
		log.Printf("synced action %d (campaign %s, identity %s, membership %s)",
			result.ActionID, result.CampaignID, result.IdentityID, result.MembershipID)
	}
}
