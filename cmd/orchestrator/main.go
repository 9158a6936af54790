package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/provisioner/log"
	"tangled.sh/tangled.sh/provisioner/orchestrator"
	"tangled.sh/tangled.sh/provisioner/orchestrator/bootstrap"
	"tangled.sh/tangled.sh/provisioner/webhook"
)

func main() {
	cmd := &cli.Command{
		Name:  "orchestrator",
		Usage: "provisioning job orchestrator",
		Commands: []*cli.Command{
			orchestrator.Command(),
			bootstrap.Command(),
			webhook.Command(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New("orchestrator")
	ctx = log.IntoContext(ctx, logger.With("command", cmd.Name))

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
