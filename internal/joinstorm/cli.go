package joinstorm

import (
	"fmt"
	"runtime"

	"github.com/okian/matchpoint/pkg/logger"
	"github.com/spf13/cobra"
)

// NewRootCommand creates the joinstorm command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "joinstorm",
		Short: "Concurrency check for matchpoint joins",
		Long:  "Fires more concurrent joins than a match has seats and verifies the server never overbooks.",
	}
	cmd.AddCommand(NewRunCommand())
	return cmd
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	cfg := &Config{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one join storm against a server",
		Long: `Create a match with --capacity seats, then send capacity+extra joins from
distinct users at once. Passes only when exactly capacity joins succeed and
the rest are rejected with 409.

Example:
  joinstorm run --secret dev-secret --capacity 10 --extra 40
  joinstorm run --url http://localhost:8080 --secret dev-secret --workers 64`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(); err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			if cfg.Verbose {
				_ = logger.SetLevelString("debug")
			}
			stats, err := Run(cmd.Context(), cfg)
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "match %s: %d joined, %d conflicts, %d failed, %d participants in %s\n",
					stats.MatchID, stats.Joined, stats.Conflicts, stats.Failed, stats.Participants, stats.Duration)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&cfg.BaseURL, "url", DefaultURL, "base URL of the service")
	cmd.Flags().StringVar(&cfg.Secret, "secret", "", "JWT secret shared with the server (required)")
	cmd.Flags().StringVar(&cfg.Issuer, "issuer", DefaultIssuer, "JWT issuer expected by the server")
	cmd.Flags().IntVar(&cfg.Capacity, "capacity", DefaultCapacity, "seats in the match")
	cmd.Flags().IntVar(&cfg.Extra, "extra", DefaultExtra, "joiners beyond capacity")
	cmd.Flags().IntVar(&cfg.Workers, "workers", runtime.NumCPU()*2, "concurrent workers")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", DefaultTimeout, "HTTP request timeout")
	cmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "log every join outcome")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}
