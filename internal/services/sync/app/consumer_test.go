package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeAck struct {
	mu      sync.Mutex
	calls   []string
	requeue bool
}

func (a *fakeAck) Ack(bool) error {
	a.record("ack", false)
	return nil
}

func (a *fakeAck) Nack(_ bool, requeue bool) error {
	a.record("nack", requeue)
	return nil
}

func (a *fakeAck) Reject(requeue bool) error {
	a.record("reject", requeue)
	return nil
}

func (a *fakeAck) record(call string, requeue bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
	a.requeue = requeue
}

type handlerFunc func(ctx context.Context, body []byte) domain.Result

func (f handlerFunc) Handle(ctx context.Context, body []byte) domain.Result {
	return f(ctx, body)
}

func TestSettleMapsOutcomes(t *testing.T) {
	cases := []struct {
		outcome domain.Outcome
		call    string
		requeue bool
	}{
		{outcome: domain.OutcomeAcked, call: "ack"},
		{outcome: domain.OutcomeIgnored, call: "ack"},
		{outcome: domain.OutcomeRetry, call: "nack", requeue: true},
		{outcome: domain.OutcomeRejected, call: "reject", requeue: false},
	}
	for _, tc := range cases {
		t.Run(string(tc.outcome), func(t *testing.T) {
			ack := &fakeAck{}
			if err := settle(ack, tc.outcome); err != nil {
				t.Fatalf("settle: %v", err)
			}
			if len(ack.calls) != 1 || ack.calls[0] != tc.call || ack.requeue != tc.requeue {
				t.Fatalf("calls = %v requeue = %v, want %s requeue = %v", ack.calls, ack.requeue, tc.call, tc.requeue)
			}
		})
	}
}

func TestProcessRunsPipelineAfterCancellation(t *testing.T) {
	var seenErr error
	consumer := NewConsumer(AMQPConfig{URL: "amqp://localhost", Queue: "q"}, handlerFunc(func(ctx context.Context, body []byte) domain.Result {
		seenErr = ctx.Err()
		if string(body) != "payload" {
			t.Errorf("body = %q", body)
		}
		return domain.Result{Outcome: domain.OutcomeAcked}
	}), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ack := &fakeAck{}
	consumer.process(ctx, ack, Delivery{ID: "1", Source: sourceAMQP}, []byte("payload"))

	if seenErr != nil {
		t.Fatalf("handler saw canceled context: %v", seenErr)
	}
	if len(ack.calls) != 1 || ack.calls[0] != "ack" {
		t.Fatalf("calls = %v", ack.calls)
	}
}

func TestDeliveryFromAMQP(t *testing.T) {
	got := deliveryFrom(amqp.Delivery{DeliveryTag: 9, Redelivered: true})
	if got.ID != "9" || got.AttemptCount != 2 || got.Source != sourceAMQP {
		t.Fatalf("delivery = %+v", got)
	}
	got = deliveryFrom(amqp.Delivery{MessageId: "m-1", Headers: amqp.Table{"x-delivery-count": int64(3)}})
	if got.ID != "m-1" || got.AttemptCount != 4 {
		t.Fatalf("delivery = %+v", got)
	}
}

func TestConsumerRunRequiresURLAndQueue(t *testing.T) {
	handler := handlerFunc(func(context.Context, []byte) domain.Result { return domain.Result{} })
	if err := NewConsumer(AMQPConfig{Queue: "q"}, handler, nil, nil).Run(context.Background()); err == nil {
		t.Fatal("expected missing url error")
	}
	if err := NewConsumer(AMQPConfig{URL: "amqp://x"}, handler, nil, nil).Run(context.Background()); err == nil {
		t.Fatal("expected missing queue error")
	}
}

func TestConsumerRunStopsWhenContextEndsDuringDial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	consumer := NewConsumer(AMQPConfig{URL: "amqp://127.0.0.1:1", Queue: "q"}, handlerFunc(func(context.Context, []byte) domain.Result {
		return domain.Result{}
	}), nil, nil)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
}
