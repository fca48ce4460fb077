package app

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	"golang.org/x/sync/errgroup"
)

const (
	sourceSQS                = "sqs"
	defaultLambdaConcurrency = 10
)

// LambdaHandler runs SQS batches through the pipeline.
type LambdaHandler struct {
	handler  Handler
	recorder *attemptStoreRecorder
	// partialBatch reports retries per record instead of failing the batch.
	partialBatch bool
	concurrency  int
}

// NewLambdaHandler builds a batch handler. With partialBatch set the
// function must be configured with ReportBatchItemFailures.
func NewLambdaHandler(handler Handler, recorder *attemptStoreRecorder, partialBatch bool, concurrency int) *LambdaHandler {
	if concurrency <= 0 {
		concurrency = defaultLambdaConcurrency
	}
	return &LambdaHandler{
		handler:      handler,
		recorder:     recorder,
		partialBatch: partialBatch,
		concurrency:  concurrency,
	}
}

// Handle processes every record of event. Records scheduled for retry are
// reported back; rejected records are surfaced in the logs and ledger and
// are not retried.
func (h *LambdaHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var (
		mu       sync.Mutex
		failures []events.SQSBatchItemFailure
		group    errgroup.Group
	)
	group.SetLimit(h.concurrency)
	for _, record := range event.Records {
		group.Go(func() error {
			delivery := sqsDelivery(record)
			result := h.handler.Handle(ctx, []byte(record.Body))
			h.recorder.settle(ctx, delivery, result)
			if result.Outcome == domain.OutcomeRetry {
				mu.Lock()
				failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	if len(failures) > 0 && !h.partialBatch {
		return events.SQSEventResponse{}, fmt.Errorf("%d of %d records scheduled for retry", len(failures), len(event.Records))
	}
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func sqsDelivery(record events.SQSMessage) Delivery {
	attempts := int32(1)
	if raw, ok := record.Attributes["ApproximateReceiveCount"]; ok {
		if n, err := strconv.ParseInt(raw, 10, 32); err == nil {
			attempts = int32(n)
		}
	}
	return Delivery{ID: record.MessageId, Source: sourceSQS, AttemptCount: attempts}
}
