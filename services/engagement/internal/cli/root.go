// Package cli implements engagectl, a command-line viewer that drives the
// client engine against a running engagement service.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/answer-engagement/internal/platform/logging"
	"github.com/example/answer-engagement/services/engagement/internal/client"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Profile string
	Token   string
	Format  string // "json" | "text"
	Verbose bool

	log *zap.Logger
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "engagectl",
		Short: "Vote on, favorite and inspect answers",
		Long:  "engagectl talks to the engagement service the same way a viewer's page does: optimistic local state reconciled with the server.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			log, err := logging.NewCLI(opts.Verbose)
			if err != nil {
				return err
			}
			opts.log = log
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("ENGAGEMENT_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "engagement service base URL")
	cmd.PersistentFlags().StringVarP(&opts.Profile, "profile", "p", os.Getenv("ENGAGEMENT_PROFILE"), "acting profile id")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("ENGAGEMENT_TOKEN"), "bearer token")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewVoteCommand(opts))
	cmd.AddCommand(NewFavoriteCommand(opts))
	cmd.AddCommand(NewUserDataCommand(opts))
	cmd.AddCommand(NewAnswerCommand(opts))

	return cmd
}

func (o *RootOptions) backend() *client.HTTPBackend {
	return client.NewHTTPBackend(o.Server, o.Token)
}

func (o *RootOptions) logger() *zap.Logger {
	if o.log == nil {
		return zap.NewNop()
	}
	return o.log
}
