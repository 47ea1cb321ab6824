package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/config"
	"github.com/cleared-dev/ledger/internal/model"
)

func newInitCommand(opts *options) *cobra.Command {
	var (
		name      string
		chartPath string
		yearStart string
	)

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := opts.dir
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			if err := runInit(absDir, name, yearStart); err != nil {
				return err
			}
			opts.dir = absDir
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				n, err := seedChart(ctx, a, chartPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized ledger %q at %s (%d accounts)\n", name, absDir, n)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "business name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&chartPath, "chart", "", "chart of accounts CSV (default: built-in chart)")
	cmd.Flags().StringVar(&yearStart, "fiscal-year-start", "01-01", "fiscal year start as MM-DD")

	return cmd
}

// runInit lays out the data directory and writes ledger.yaml. An existing
// configuration is left untouched.
func runInit(dir, name, yearStart string) error {
	dirs := []string{
		"logs",
		"import",
		filepath.Join("import", "processed"),
		"exports",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	cfgPath := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(cfgPath); err == nil {
		return nil
	}
	cfg := config.Default(name)
	cfg.Fiscal.YearStart = yearStart
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	gitignore := "ledger.db*\nexports/\nimport/processed/\n.env\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	return nil
}

func seedChart(ctx context.Context, a *app, chartPath string) (int, error) {
	chart := accounts.DefaultChart()
	if chartPath != "" {
		var err error
		chart, err = readChart(chartPath)
		if err != nil {
			return 0, err
		}
	}
	if _, err := a.accounts.Seed(ctx, chart); err != nil {
		return 0, fmt.Errorf("seeding chart of accounts: %w", err)
	}
	a.roles.Invalidate()
	all, err := a.accounts.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func readChart(path string) ([]model.Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chart: %w", err)
	}
	defer f.Close()
	chart, err := accounts.ReadAccounts(f)
	if err != nil {
		return nil, fmt.Errorf("reading chart %s: %w", path, err)
	}
	return chart, nil
}
