// Package actionsync parses sync command configuration and launches the
// queue, HTTP and Lambda runtimes.
package actionsync

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/actionsync/internal/platform/cmd"
	"github.com/louisbranch/actionsync/internal/platform/config"
	"github.com/louisbranch/actionsync/internal/platform/otel"
	"github.com/louisbranch/actionsync/internal/services/sync/app"
	"github.com/louisbranch/actionsync/internal/services/sync/crm"
	"github.com/louisbranch/actionsync/internal/services/sync/crm/salesforce"
	"github.com/louisbranch/actionsync/internal/services/sync/domain"
	"github.com/louisbranch/actionsync/internal/services/sync/forward"
)

// Config holds sync command configuration.
type Config struct {
	HealthPort int    `env:"ACTIONSYNC_HEALTH_PORT" envDefault:"8090"`
	HTTPAddr   string `env:"ACTIONSYNC_HTTP_ADDR" envDefault:":8080"`
	DBPath     string `env:"ACTIONSYNC_DB_PATH" envDefault:"data/actionsync.db"`
	Consumer   string `env:"ACTIONSYNC_CONSUMER" envDefault:"actionsync"`

	AMQPURL         string        `env:"ACTIONSYNC_AMQP_URL"`
	AMQPQueue       string        `env:"ACTIONSYNC_AMQP_QUEUE"`
	AMQPExchange    string        `env:"ACTIONSYNC_AMQP_EXCHANGE"`
	AMQPRoutingKey  string        `env:"ACTIONSYNC_AMQP_ROUTING_KEY"`
	AMQPPrefetch    int           `env:"ACTIONSYNC_AMQP_PREFETCH" envDefault:"10"`
	ReconnectWindow time.Duration `env:"ACTIONSYNC_AMQP_RECONNECT_WINDOW" envDefault:"5m"`

	CRMLoginURL      string  `env:"ACTIONSYNC_CRM_LOGIN_URL"`
	CRMClientID      string  `env:"ACTIONSYNC_CRM_CLIENT_ID"`
	CRMClientSecret  string  `env:"ACTIONSYNC_CRM_CLIENT_SECRET"`
	CRMUser          string  `env:"ACTIONSYNC_CRM_USER"`
	CRMPassword      string  `env:"ACTIONSYNC_CRM_PASSWORD"`
	CRMSecurityToken string  `env:"ACTIONSYNC_CRM_TOKEN"`
	CRMAPIVersion    string  `env:"ACTIONSYNC_CRM_API_VERSION" envDefault:"59.0"`
	CRMRateLimit     float64 `env:"ACTIONSYNC_CRM_RATE_LIMIT" envDefault:"10"`
	CRMBurst         int     `env:"ACTIONSYNC_CRM_BURST" envDefault:"5"`
	CRMIdentity      string  `env:"ACTIONSYNC_CRM_IDENTITY" envDefault:"contact"`
	CampaignType     string  `env:"ACTIONSYNC_CRM_CAMPAIGN_TYPE" envDefault:"Proca online campaign"`
	FreshCampaigns   bool    `env:"ACTIONSYNC_CRM_FRESH_CAMPAIGNS"`

	KeysPath     string `env:"ACTIONSYNC_KEYS_PATH"`
	ForwardURL   string `env:"ACTIONSYNC_FORWARD_URL"`
	VerifyURL    string `env:"ACTIONSYNC_VERIFY_URL"`
	ForwardToken string `env:"ACTIONSYNC_FORWARD_TOKEN"`

	MessageTimeout time.Duration `env:"ACTIONSYNC_MESSAGE_TIMEOUT" envDefault:"1m"`
	RequestTimeout time.Duration `env:"ACTIONSYNC_REQUEST_TIMEOUT" envDefault:"10s"`

	LambdaPartialBatch bool `env:"ACTIONSYNC_LAMBDA_PARTIAL_BATCH" envDefault:"true"`
	LambdaConcurrency  int  `env:"ACTIONSYNC_LAMBDA_CONCURRENCY" envDefault:"10"`

	Telemetry otel.Settings

	Queue  bool
	HTTP   bool
	Email  string
	Pause  bool
	DryRun bool
	Help   bool
}

const usage = `usage: actionsync [--queue] [--http] [--email addr] [--pause] [--dry-run]

Modes:
  --queue       consume actions from the AMQP queue
  --http        serve GET /lookup?email= and GET /healthz
  --email addr  print the CRM contacts and leads for addr
Options:
  --pause       stop taking deliveries after each forward until enter is pressed
  --dry-run     use an in-memory CRM instead of Salesforce`

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.BoolVar(&cfg.Queue, "queue", false, "Consume actions from the AMQP queue")
	fs.BoolVar(&cfg.HTTP, "http", false, "Serve the email lookup HTTP API")
	fs.StringVar(&cfg.Email, "email", "", "Print the CRM records for an email address")
	fs.BoolVar(&cfg.Pause, "pause", false, "Pause intake after every forwarded action")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Use an in-memory CRM")
	fs.BoolVar(&cfg.Help, "help", false, "Show usage")
	fs.IntVar(&cfg.HealthPort, "port", cfg.HealthPort, "The health gRPC server port")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The lookup HTTP server address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The attempt ledger SQLite database path")
	fs.StringVar(&cfg.AMQPQueue, "amqp-queue", cfg.AMQPQueue, "The AMQP queue to consume")
	fs.StringVar(&cfg.CRMIdentity, "identity", cfg.CRMIdentity, "Reconcile supporters as contact or lead")
	fs.StringVar(&cfg.KeysPath, "keys", cfg.KeysPath, "The decryption key file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), usage)
	}
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// HasMode reports whether a run mode was selected.
func (c Config) HasMode() bool {
	return c.Queue || c.HTTP || strings.TrimSpace(c.Email) != ""
}

// Preflight exits for --help with code 0 and for a missing mode with code 1.
func Preflight(cfg Config, stdout, stderr io.Writer) {
	if cfg.Help {
		config.ExitWith(stdout, 0, usage)
	}
	if !cfg.HasMode() {
		config.ExitWith(stderr, 1, "no mode selected\n\n%s", usage)
	}
}

// RuntimeConfig maps command configuration onto the sync runtime.
func RuntimeConfig(cfg Config) (app.RuntimeConfig, error) {
	identity, err := domain.ParseIdentityKind(cfg.CRMIdentity)
	if err != nil {
		return app.RuntimeConfig{}, err
	}
	freshness := crm.Cached
	if cfg.FreshCampaigns {
		freshness = crm.Fresh
	}
	return app.RuntimeConfig{
		HealthPort: cfg.HealthPort,
		HTTPAddr:   cfg.HTTPAddr,
		DBPath:     cfg.DBPath,
		Consumer:   cfg.Consumer,
		AMQP: app.AMQPConfig{
			URL:             cfg.AMQPURL,
			Queue:           cfg.AMQPQueue,
			Exchange:        cfg.AMQPExchange,
			RoutingKey:      cfg.AMQPRoutingKey,
			Prefetch:        cfg.AMQPPrefetch,
			ReconnectWindow: cfg.ReconnectWindow,
		},
		CRM: app.CRMConfig{
			Salesforce: salesforce.Config{
				LoginURL:       cfg.CRMLoginURL,
				ClientID:       cfg.CRMClientID,
				ClientSecret:   cfg.CRMClientSecret,
				Username:       cfg.CRMUser,
				Password:       cfg.CRMPassword,
				SecurityToken:  cfg.CRMSecurityToken,
				APIVersion:     cfg.CRMAPIVersion,
				RateLimit:      cfg.CRMRateLimit,
				Burst:          cfg.CRMBurst,
				RequestTimeout: cfg.RequestTimeout,
			},
			Identity:     identity,
			CampaignType: cfg.CampaignType,
			Freshness:    freshness,
		},
		KeysPath: cfg.KeysPath,
		Forward: forward.Config{
			ForwardURL: cfg.ForwardURL,
			VerifyURL:  cfg.VerifyURL,
			Token:      cfg.ForwardToken,
			Timeout:    cfg.RequestTimeout,
		},
		Lambda: app.LambdaConfig{
			PartialBatch: cfg.LambdaPartialBatch,
			Concurrency:  cfg.LambdaConcurrency,
		},
		DryRun:         cfg.DryRun,
		Pause:          cfg.Pause,
		MessageTimeout: cfg.MessageTimeout,
	}, nil
}

// Run starts the selected modes.
func Run(ctx context.Context, cfg Config) error {
	runtimeCfg, err := RuntimeConfig(cfg)
	if err != nil {
		return err
	}
	options := entrypoint.RunOptions{Telemetry: cfg.Telemetry}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceSync, options, func(ctx context.Context) error {
		return app.Run(ctx, runtimeCfg, app.Modes{
			Queue: cfg.Queue,
			HTTP:  cfg.HTTP,
			Email: cfg.Email,
		})
	})
}
