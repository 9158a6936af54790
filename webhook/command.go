package webhook

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"
)

// Command signs a payload the way a provider would, for replaying
// deliveries against a running server.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "sign",
		Usage: "print the signature header for a webhook payload",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "provider",
				Usage:    "vcs provider (GITHUB or BITBUCKET)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "secret",
				Usage:    "shared webhook secret",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "payload",
				Usage: "payload to sign, read from stdin when empty",
			},
		},
		Action: Run,
	}
}

func Run(ctx context.Context, cmd *cli.Command) error {
	payload := []byte(cmd.String("payload"))
	if len(payload) == 0 {
		var err error
		payload, err = io.ReadAll(cmd.Root().Reader)
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
	}

	kind := Kind(strings.ToUpper(cmd.String("provider")))
	header, value, err := Sign(kind, cmd.String("secret"), payload)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.Root().Writer, "%s: %s\n", header, value)
	return nil
}
