package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/buildinfo"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	dir   string
	actor string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:     "ledger",
		Short:   "Double-entry general ledger",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.dir, "dir", envOr("LEDGER_DIR", "."), "ledger data directory")
	rootCmd.PersistentFlags().StringVar(&opts.actor, "actor", envOr("LEDGER_ACTOR", envOr("USER", "ledger")), "user recorded as the actor")

	rootCmd.AddCommand(
		newInitCommand(opts),
		newAccountCommand(opts),
		newPostCommand(opts),
		newReverseCommand(opts),
		newVoucherCommand(opts),
		newTrialBalanceCommand(opts),
		newPeriodCommand(opts),
		newImportCommand(opts),
		newExportCommand(opts),
	)

	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// run opens the ledger in opts.dir for the duration of fn.
func run(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, opts.dir)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
