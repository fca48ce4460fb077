package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

const (
	sourceAMQP             = "amqp"
	defaultPrefetch        = 10
	defaultReconnectWindow = 5 * time.Minute
)

// AMQPConfig configures the queue consumer.
type AMQPConfig struct {
	URL   string
	Queue string
	// Exchange and RoutingKey bind Queue when Exchange is set.
	Exchange   string
	RoutingKey string
	// Prefetch bounds unacknowledged deliveries and concurrent pipelines.
	Prefetch int
	// ReconnectWindow bounds the dial backoff before the consumer gives up.
	ReconnectWindow time.Duration
}

func (c AMQPConfig) normalized() AMQPConfig {
	if c.Prefetch <= 0 {
		c.Prefetch = defaultPrefetch
	}
	if c.ReconnectWindow <= 0 {
		c.ReconnectWindow = defaultReconnectWindow
	}
	return c
}

// acknowledger is the settlement surface of an AMQP delivery.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

// Consumer feeds AMQP deliveries through a handler.
type Consumer struct {
	cfg      AMQPConfig
	handler  Handler
	recorder *attemptStoreRecorder
	gate     *PauseGate
	tag      string
}

// NewConsumer builds a consumer. gate may be nil.
func NewConsumer(cfg AMQPConfig, handler Handler, recorder *attemptStoreRecorder, gate *PauseGate) *Consumer {
	return &Consumer{
		cfg:      cfg.normalized(),
		handler:  handler,
		recorder: recorder,
		gate:     gate,
		tag:      recorderConsumer(recorder) + "-" + uuid.NewString(),
	}
}

func recorderConsumer(recorder *attemptStoreRecorder) string {
	if recorder == nil {
		return defaultConsumer
	}
	return recorder.consumer
}

// Run consumes until ctx ends, reconnecting after broker failures. It fails
// when the broker stays unreachable for the whole reconnect window.
func (c *Consumer) Run(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return errors.New("amqp url is required")
	}
	if strings.TrimSpace(c.cfg.Queue) == "" {
		return errors.New("amqp queue is required")
	}
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err = c.session(ctx, conn)
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, amqp.ErrClosed) {
			log.Printf("close amqp connection: %v", closeErr)
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("amqp session ended: %v; reconnecting", err)
	}
}

func (c *Consumer) dial(ctx context.Context) (*amqp.Connection, error) {
	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			log.Printf("dial amqp: %v", err)
		}
		return conn, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(c.cfg.ReconnectWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	return conn, nil
}

func (c *Consumer) session(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	if c.cfg.Exchange != "" {
		if err := ch.QueueBind(c.cfg.Queue, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", c.cfg.Queue, err)
		}
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.cfg.Queue, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	log.Printf("consuming %s as %s", c.cfg.Queue, c.tag)

	var inFlight errgroup.Group
	inFlight.SetLimit(c.cfg.Prefetch)
	defer func() { _ = inFlight.Wait() }()

	for {
		if err := c.gate.Wait(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			inFlight.Go(func() error {
				c.process(ctx, d, deliveryFrom(d), d.Body)
				return nil
			})
		}
	}
}

// process runs one delivery to completion even when ctx ends, so that
// a started pipeline settles its message.
func (c *Consumer) process(ctx context.Context, ack acknowledger, delivery Delivery, body []byte) {
	result := c.handler.Handle(context.WithoutCancel(ctx), body)
	c.recorder.settle(ctx, delivery, result)
	if err := settle(ack, result.Outcome); err != nil {
		log.Printf("settle delivery %s: %v", delivery.ID, err)
	}
}

// settle maps an outcome onto the broker: acked and ignored deliveries are
// acknowledged, retries are requeued, rejections are dead-lettered.
func settle(ack acknowledger, outcome domain.Outcome) error {
	switch outcome {
	case domain.OutcomeAcked, domain.OutcomeIgnored:
		return ack.Ack(false)
	case domain.OutcomeRejected:
		return ack.Reject(false)
	default:
		return ack.Nack(false, true)
	}
}

func deliveryFrom(d amqp.Delivery) Delivery {
	id := d.MessageId
	if id == "" {
		id = strconv.FormatUint(d.DeliveryTag, 10)
	}
	attempts := int32(1)
	if d.Redelivered {
		attempts = 2
	}
	if count, ok := d.Headers["x-delivery-count"].(int64); ok {
		attempts = int32(count) + 1
	}
	return Delivery{ID: id, Source: sourceAMQP, AttemptCount: attempts}
}
