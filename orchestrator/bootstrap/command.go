package bootstrap

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"tangled.sh/tangled.sh/provisioner/log"
	"tangled.sh/tangled.sh/provisioner/orchestrator/db"
)

func Command() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "create the default templates for an organization",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "org",
				Usage:    "organization id",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "path to the orchestrator database",
				Value:   "orchestrator.db",
				Sources: cli.EnvVars("ORCHESTRATOR_SERVER_DB_PATH"),
			},
		},
		Action: Run,
	}
}

func Run(ctx context.Context, cmd *cli.Command) error {
	l := log.FromContext(ctx)

	d, err := db.Make(cmd.String("db"))
	if err != nil {
		return fmt.Errorf("failed to load db: %w", err)
	}
	defer d.Close()

	org, err := d.GetOrganization(ctx, cmd.String("org"))
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}

	created, err := Seed(ctx, d, org, l)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.Root().Writer, "created %d templates for %s\n", created, org.Id)
	return nil
}
