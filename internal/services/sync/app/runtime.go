// Package app wires the sync pipeline into its runtimes: the AMQP consumer,
// the Lambda batch handler and the lookup surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/actionsync/internal/platform/config"
	platformgrpc "github.com/louisbranch/actionsync/internal/platform/grpc"
	"github.com/louisbranch/actionsync/internal/platform/timeouts"
	"github.com/louisbranch/actionsync/internal/services/sync/crm"
	"github.com/louisbranch/actionsync/internal/services/sync/crm/memory"
	"github.com/louisbranch/actionsync/internal/services/sync/crm/salesforce"
	"github.com/louisbranch/actionsync/internal/services/sync/decrypt"
	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	"github.com/louisbranch/actionsync/internal/services/sync/forward"
	"github.com/louisbranch/actionsync/internal/services/sync/pipeline"
	syncsqlite "github.com/louisbranch/actionsync/internal/services/sync/storage/sqlite"
	"golang.org/x/sync/errgroup"
)

// CRMConfig selects and configures the CRM backend.
type CRMConfig struct {
	Salesforce   salesforce.Config
	Identity     domain.IdentityKind
	CampaignType string
	Freshness    crm.Freshness
}

// LambdaConfig controls the SQS batch handler.
type LambdaConfig struct {
	PartialBatch bool
	Concurrency  int
}

// RuntimeConfig controls runtime startup and dependencies.
type RuntimeConfig struct {
	HealthPort     int
	HTTPAddr       string
	DBPath         string
	Consumer       string
	AMQP           AMQPConfig
	CRM            CRMConfig
	KeysPath       string
	Forward        forward.Config
	Lambda         LambdaConfig
	DryRun         bool
	Pause          bool
	MessageTimeout time.Duration
	DecryptTimeout time.Duration
}

// Modes selects what Run does. Email lookup runs first and alone unless a
// long-running mode is also selected.
type Modes struct {
	Queue bool
	HTTP  bool
	Email string
	// Output receives the email lookup; PauseInput resumes a paused queue.
	Output     io.Writer
	PauseInput io.Reader
}

const (
	defaultHealthPort = 8090
	defaultHTTPAddr   = ":8080"
	healthService     = "actionsync.runtime"
)

type services struct {
	crm      crm.Client
	pipeline *pipeline.Pipeline
	store    *syncsqlite.Store
	recorder *attemptStoreRecorder
	pause    *PauseGate
}

func build(cfg RuntimeConfig, pauseInput io.Reader) (*services, error) {
	client, err := newCRMClient(cfg)
	if err != nil {
		return nil, err
	}

	var decrypter decrypt.Decrypter
	if strings.TrimSpace(cfg.KeysPath) != "" {
		keys, err := decrypt.LoadKeyStore(cfg.KeysPath)
		if err != nil {
			return nil, fmt.Errorf("load keys: %w", err)
		}
		log.Printf("loaded %d decryption keys", keys.Len())
		decrypter = decrypt.NewBoxDecrypter(keys)
	}
	decryptTimeout := cfg.DecryptTimeout
	if decryptTimeout <= 0 {
		decryptTimeout = timeouts.Decrypt
	}

	decoder, err := domain.NewDecoder()
	if err != nil {
		return nil, err
	}

	svc := &services{crm: client}
	pipelineCfg := pipeline.Config{
		Decoder:        decoder,
		Gate:           decrypt.NewGate(decrypter, decryptTimeout),
		Campaigns:      crm.NewCampaignCache(client, cfg.CRM.CampaignType, 3*timeouts.CRMRequest),
		Reconciler:     crm.NewReconciler(client, cfg.CRM.Identity),
		Associator:     crm.NewAssociator(client),
		Freshness:      cfg.CRM.Freshness,
		MessageTimeout: cfg.MessageTimeout,
	}
	if strings.TrimSpace(cfg.Forward.ForwardURL) != "" {
		forwardCfg := cfg.Forward
		if forwardCfg.Timeout <= 0 {
			forwardCfg.Timeout = timeouts.Forward
		}
		forwarder, err := forward.New(forwardCfg)
		if err != nil {
			return nil, err
		}
		pipelineCfg.Forwarder = forwarder
	}
	if cfg.Pause && pipelineCfg.Forwarder == nil {
		log.Printf("pause ignored: it waits after forwards and no forward URL is configured")
	}
	if cfg.Pause && pipelineCfg.Forwarder != nil {
		if pauseInput == nil {
			pauseInput = os.Stdin
		}
		svc.pause = NewPauseGate(pauseInput)
		pipelineCfg.OnForwarded = svc.pause.afterForward
	}
	svc.pipeline, err = pipeline.New(pipelineCfg)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.DBPath) != "" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sync storage dir: %w", err)
			}
		}
		svc.store, err = syncsqlite.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sync sqlite store: %w", err)
		}
		svc.recorder = newAttemptStoreRecorder(svc.store, cfg.Consumer)
	} else {
		svc.recorder = newAttemptStoreRecorder(nil, cfg.Consumer)
	}
	return svc, nil
}

func newCRMClient(cfg RuntimeConfig) (crm.Client, error) {
	if cfg.DryRun {
		log.Printf("dry run: using in-memory CRM")
		return memory.New(), nil
	}
	sfCfg := cfg.CRM.Salesforce
	if err := config.RequireSettings(
		config.Setting{Name: "ACTIONSYNC_CRM_LOGIN_URL", Value: sfCfg.LoginURL},
		config.Setting{Name: "ACTIONSYNC_CRM_USER", Value: sfCfg.Username},
		config.Setting{Name: "ACTIONSYNC_CRM_PASSWORD", Value: sfCfg.Password},
	); err != nil {
		return nil, err
	}
	if sfCfg.RequestTimeout <= 0 {
		sfCfg.RequestTimeout = timeouts.CRMRequest
	}
	if sfCfg.LoginTimeout <= 0 {
		sfCfg.LoginTimeout = timeouts.CRMLogin
	}
	return salesforce.New(sfCfg)
}

func (s *services) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Run starts the selected modes and blocks until ctx ends or a mode fails.
func Run(ctx context.Context, cfg RuntimeConfig, modes Modes) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !modes.Queue && !modes.HTTP && strings.TrimSpace(modes.Email) == "" {
		return errors.New("no mode selected")
	}
	if cfg.HealthPort <= 0 {
		cfg.HealthPort = defaultHealthPort
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}

	svc, err := build(cfg, modes.PauseInput)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			log.Printf("close sync sqlite store: %v", closeErr)
		}
	}()

	if email := strings.TrimSpace(modes.Email); email != "" {
		output := modes.Output
		if output == nil {
			output = os.Stdout
		}
		if err := PrintLookup(ctx, svc.crm, email, output); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if modes.HTTP {
		group.Go(func() error {
			return ServeLookup(groupCtx, cfg.HTTPAddr, NewLookupHandler(svc.crm))
		})
	}
	if modes.Queue {
		group.Go(func() error {
			return runQueue(groupCtx, cfg, svc)
		})
	}
	return group.Wait()
}

func runQueue(ctx context.Context, cfg RuntimeConfig, svc *services) error {
	healthServer, err := platformgrpc.ListenHealth(fmt.Sprintf(":%d", cfg.HealthPort), healthService)
	if err != nil {
		return err
	}
	defer healthServer.Stop()

	log.Printf("health server listening at %v", healthServer.Addr())
	consumer := NewConsumer(cfg.AMQP, svc.pipeline, svc.recorder, svc.pause)
	return consumer.Run(ctx)
}

// NewLambda builds the SQS batch handler. The returned close function
// releases the attempt ledger.
func NewLambda(cfg RuntimeConfig) (*LambdaHandler, func() error, error) {
	svc, err := build(cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	handler := NewLambdaHandler(svc.pipeline, svc.recorder, cfg.Lambda.PartialBatch, cfg.Lambda.Concurrency)
	return handler, svc.Close, nil
}
