package actionsync

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	entrypoint "github.com/louisbranch/actionsync/internal/platform/cmd"
	"github.com/louisbranch/actionsync/internal/services/sync/app"
)

// RunLambda serves SQS batches through the pipeline. The CRM session, key
// store and ledger are built once per execution environment.
func RunLambda(ctx context.Context, cfg Config) error {
	runtimeCfg, err := RuntimeConfig(cfg)
	if err != nil {
		return err
	}
	options := entrypoint.RunOptions{Telemetry: cfg.Telemetry}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLambda, options, func(ctx context.Context) error {
		handler, closeFn, err := app.NewLambda(runtimeCfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeFn(); err != nil {
				log.Printf("close sync sqlite store: %v", err)
			}
		}()
		lambda.StartWithOptions(handler.Handle, lambda.WithContext(ctx))
		return nil
	})
}
