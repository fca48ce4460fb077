// Package pipeline runs one queue delivery through decode, decryption,
// reconciliation, membership and forwarding, and classifies the result.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/actionsync/internal/services/sync/crm"
	"github.com/louisbranch/actionsync/internal/services/sync/decrypt"
	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	"github.com/louisbranch/actionsync/internal/services/sync/forward"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/actionsync/internal/services/sync/pipeline"

// Forwarder delivers a reconciled action downstream.
type Forwarder interface {
	Deliver(ctx context.Context, action *domain.ActionMessage, pii domain.DecryptedContact) (forward.Delivery, error)
}

// Config wires the pipeline collaborators.
type Config struct {
	Decoder    *domain.Decoder
	Gate       *decrypt.Gate
	Campaigns  *crm.CampaignCache
	Reconciler *crm.Reconciler
	Associator *crm.Associator
	// Forwarder is optional; without it the pipeline ends at association.
	Forwarder Forwarder
	Freshness crm.Freshness
	// MessageTimeout bounds one delivery end to end; 0 disables it.
	MessageTimeout time.Duration
	// OnForwarded runs after every successful forward.
	OnForwarded func(ctx context.Context, result domain.Result)
	Tracer      trace.Tracer
}

// Pipeline handles queue deliveries. It is safe for concurrent use.
type Pipeline struct {
	cfg    Config
	tracer trace.Tracer
}

// New validates cfg and builds a pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Decoder == nil:
		return nil, errors.New("decoder is required")
	case cfg.Campaigns == nil:
		return nil, errors.New("campaign cache is required")
	case cfg.Reconciler == nil:
		return nil, errors.New("reconciler is required")
	case cfg.Associator == nil:
		return nil, errors.New("associator is required")
	}
	if cfg.Gate == nil {
		cfg.Gate = decrypt.NewGate(nil, 0)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Pipeline{cfg: cfg, tracer: tracer}, nil
}

// Handle processes one delivery body and reports what the queue should do
// with it.
func (p *Pipeline) Handle(ctx context.Context, body []byte) domain.Result {
	ctx, span := p.tracer.Start(ctx, "actionsync.message", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	if p.cfg.MessageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.MessageTimeout)
		defer cancel()
	}

	result := domain.Result{Stage: domain.StageReceived, Body: body}
	ignored, err := p.run(ctx, body, &result)
	switch {
	case err != nil:
		result.Err = err
		result.Outcome = domain.Classify(err)
		if stage := domain.StageOf(err); stage != "" {
			result.Stage = stage
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case ignored:
		result.Outcome = domain.OutcomeIgnored
	default:
		result.Outcome = domain.OutcomeAcked
	}
	span.SetAttributes(
		attribute.String("actionsync.schema", result.Schema),
		attribute.Int64("actionsync.action_id", result.ActionID),
		attribute.String("actionsync.stage", string(result.Stage)),
		attribute.String("actionsync.outcome", string(result.Outcome)),
	)
	return result
}

func (p *Pipeline) run(ctx context.Context, body []byte, result *domain.Result) (bool, error) {
	var env domain.Envelope
	err := p.stage(ctx, domain.StageDecoded, func(ctx context.Context) error {
		var err error
		env, err = p.cfg.Decoder.Decode(body)
		result.Schema = env.Schema
		return err
	})
	if err != nil {
		return false, err
	}
	result.Stage = domain.StageDecoded
	if env.Kind != domain.EnvelopeAction {
		return true, nil
	}
	action := env.Action
	result.ActionID = action.ActionID

	var pii domain.DecryptedContact
	err = p.stage(ctx, domain.StageDecrypted, func(ctx context.Context) error {
		var err error
		pii, err = p.cfg.Gate.Open(ctx, action.Contact)
		return err
	})
	if err != nil {
		return false, err
	}
	result.Stage = domain.StageDecrypted

	var identity domain.IdentityRef
	var campaign crm.Campaign
	err = p.stage(ctx, domain.StageReconciled, func(ctx context.Context) error {
		var err error
		campaign, err = p.cfg.Campaigns.Lookup(ctx, action.Campaign.Name, p.cfg.Freshness)
		if err != nil {
			return err
		}
		identity, err = p.cfg.Reconciler.Upsert(ctx, crm.IdentityFromContact(pii))
		return err
	})
	if err != nil {
		return false, err
	}
	result.Stage = domain.StageReconciled
	result.CampaignID = campaign.ID
	result.IdentityID = identity.ID()

	err = p.stage(ctx, domain.StageAssociated, func(ctx context.Context) error {
		membership, err := p.cfg.Associator.Associate(ctx, campaign.ID, identity)
		result.MembershipID = membership.ID
		return err
	})
	if err != nil {
		return false, err
	}
	result.Stage = domain.StageAssociated

	if p.cfg.Forwarder == nil {
		return false, nil
	}
	err = p.stage(ctx, domain.StageForwarded, func(ctx context.Context) error {
		_, err := p.cfg.Forwarder.Deliver(ctx, action, pii)
		return err
	})
	if err != nil {
		return false, err
	}
	result.Stage = domain.StageForwarded
	if p.cfg.OnForwarded != nil {
		p.cfg.OnForwarded(ctx, *result)
	}
	return false, nil
}

func (p *Pipeline) stage(ctx context.Context, stage domain.Stage, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "actionsync."+string(stage))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.AtStage(stage, err)
	}
	return nil
}
