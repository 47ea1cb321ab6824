package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/importer"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
)

func newImportCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import external statements",
	}
	cmd.AddCommand(newImportBankCommand(opts))
	return cmd
}

func newImportBankCommand(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "bank [file.csv]",
		Short: "Post bank statement rows as bank receipts and payments",
		Long: "Posts each row of a bank statement CSV. Without a file, every CSV in\n" +
			"<dir>/import/ is imported and moved to import/processed/.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				if format == "" {
					format = a.cfg.Import.Format
				}
				if len(args) == 1 {
					return importFile(ctx, cmd.OutOrStdout(), a, args[0], format, opts.actor)
				}
				inbox := importer.NewInbox(a.dir)
				files, err := inbox.Pending()
				if err != nil {
					return err
				}
				for _, f := range files {
					if err := importFile(ctx, cmd.OutOrStdout(), a, f.Path, format, opts.actor); err != nil {
						return err
					}
					if _, err := inbox.Archive(f.Name); err != nil {
						return err
					}
				}
				if len(files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to import")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "statement format (default from config)")
	return cmd
}

func importFile(ctx context.Context, w io.Writer, a *app, path, format, actor string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening statement: %w", err)
	}
	defer fh.Close()
	res, err := a.importer.Import(ctx, fh, format, filepath.Base(path), actor)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: posted %d, skipped %d already imported\n", filepath.Base(path), len(res.Posted), len(res.Skipped))
	return nil
}

func newExportCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export ledger data",
	}
	cmd.AddCommand(newExportLinesCommand(opts))
	return cmd
}

func newExportLinesCommand(opts *options) *cobra.Command {
	var (
		from, to, account, out string
	)
	cmd := &cobra.Command{
		Use:   "lines",
		Short: "Write completed transaction lines as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.LineFilter{AccountCode: model.CanonicalCode(account), Status: model.LineCompleted}
			var err error
			if from != "" {
				if f.From, err = parseDate(from); err != nil {
					return err
				}
			}
			if to != "" {
				if f.To, err = parseDate(to); err != nil {
					return err
				}
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				var lines []model.Line
				err := a.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
					var err error
					lines, err = tx.ListLines(ctx, f)
					return err
				})
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					fh, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("creating %s: %w", out, err)
					}
					defer fh.Close()
					w = fh
				}
				return journal.WriteLines(w, lines)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date YYYY-MM-DD")
	cmd.Flags().StringVar(&account, "account", "", "only lines of this account")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}
