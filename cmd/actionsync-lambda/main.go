// Package main starts the action sync Lambda function.
package main

import (
	"context"
	"flag"
	"log"

	synccmd "github.com/louisbranch/actionsync/internal/cmd/actionsync"
)

func main() {
	cfg, err := synccmd.ParseConfig(flag.NewFlagSet("actionsync-lambda", flag.ExitOnError), nil)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}
	log.SetPrefix("[ACTIONSYNC-LAMBDA] ")
	if err := synccmd.RunLambda(context.Background(), cfg); err != nil {
		log.Fatalf("failed to run: %v", err)
	}
}
