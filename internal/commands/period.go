package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/period"
	"github.com/cleared-dev/ledger/internal/store"
)

func newTrialBalanceCommand(opts *options) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print the trial balance as of a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now()
			if asOf != "" {
				var err error
				if date, err = parseDate(asOf); err != nil {
					return err
				}
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				tb, err := a.trial.Generate(ctx, date)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
				fmt.Fprintf(tw, "Trial balance as of %s\t\t\t\t\n", tb.AsOf.Format(model.DateFormat))
				fmt.Fprintln(tw, "CODE\tNAME\tDEBIT\tCREDIT\t")
				for _, r := range tb.Rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", r.Code, r.Name, column(r.Debit.StringFixed(2)), column(r.Credit.StringFixed(2)))
				}
				fmt.Fprintf(tw, "\tTOTAL\t%s\t%s\t\n", tb.TotalDebits.StringFixed(2), tb.TotalCredits.StringFixed(2))
				if err := tw.Flush(); err != nil {
					return err
				}
				for _, m := range tb.Mismatches {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: account %s stored balance %s, replayed %s\n", m.Code, m.Cached.StringFixed(2), m.Replayed.StringFixed(2))
				}
				return tb.Err()
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "date YYYY-MM-DD (default today)")
	return cmd
}

func column(s string) string {
	if s == "0.00" {
		return ""
	}
	return s
}

func newPeriodCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "period",
		Short: "Manage accounting periods",
	}
	cmd.AddCommand(
		newPeriodCreateCommand(opts),
		newPeriodCurrentCommand(opts),
		newPeriodListCommand(opts),
		newPeriodCloseCommand(opts),
		newPeriodLockCommand(opts),
		newPeriodStateCommand(opts, "unlock", "Unlock a locked period"),
		newPeriodStateCommand(opts, "reopen", "Reopen a closed period"),
		newPeriodClosingEntriesCommand(opts),
	)
	return cmd
}

func newPeriodCreateCommand(opts *options) *cobra.Command {
	var (
		typ, start, end, name string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an accounting period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := period.NewPeriod{Type: model.PeriodType(typ), Name: name}
			var err error
			if in.Start, err = parseDate(start); err != nil {
				return err
			}
			if end != "" {
				if in.End, err = parseDate(end); err != nil {
					return err
				}
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				p, err := a.periods.Create(ctx, in, opts.actor)
				if err != nil {
					return err
				}
				printPeriod(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(model.PeriodMonthly), "monthly, quarterly or yearly")
	cmd.Flags().StringVar(&start, "start", "", "first day YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("start")
	cmd.Flags().StringVar(&end, "end", "", "last day YYYY-MM-DD (default derived from type)")
	cmd.Flags().StringVar(&name, "name", "", "period name (default derived from type)")
	return cmd
}

func newPeriodCurrentCommand(opts *options) *cobra.Command {
	var (
		typ, on string
	)
	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show the period covering a date, creating it when missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now()
			if on != "" {
				var err error
				if date, err = parseDate(on); err != nil {
					return err
				}
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				p, err := a.periods.Current(ctx, model.PeriodType(typ), date)
				if err != nil {
					return err
				}
				printPeriod(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(model.PeriodMonthly), "monthly, quarterly or yearly")
	cmd.Flags().StringVar(&on, "date", "", "date YYYY-MM-DD (default today)")
	return cmd
}

func newPeriodListCommand(opts *options) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounting periods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				ps, err := a.periods.List(ctx, store.PeriodFilter{Type: model.PeriodType(typ)})
				if err != nil {
					return err
				}
				for _, p := range ps {
					printPeriod(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "only periods of this type")
	return cmd
}

// findPeriod accepts a period ID or name.
func findPeriod(ctx context.Context, a *app, ref string) (model.Period, error) {
	if p, err := a.periods.Get(ctx, ref); err == nil {
		return p, nil
	}
	ps, err := a.periods.List(ctx, store.PeriodFilter{})
	if err != nil {
		return model.Period{}, err
	}
	for _, p := range ps {
		if p.Name == ref {
			return p, nil
		}
	}
	return model.Period{}, fmt.Errorf("period %s: %w", ref, ledgererr.ErrNotFound)
}

func newPeriodCloseCommand(opts *options) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "close <period-id|name>",
		Short: "Close a period, posting closing entries when required",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				p, err := findPeriod(ctx, a, args[0])
				if err != nil {
					return err
				}
				closed, err := a.periods.Close(ctx, p.ID, opts.actor, notes)
				if err != nil {
					return err
				}
				printPeriod(cmd.OutOrStdout(), closed)
				s := closed.Stats
				fmt.Fprintf(cmd.OutOrStdout(), "  %d transaction sets, debits %s, credits %s\n",
					s.TransactionCount, s.TotalDebits.StringFixed(2), s.TotalCredits.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "closing notes")
	return cmd
}

func newPeriodLockCommand(opts *options) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "lock <period-id|name>",
		Short: "Lock an open or closed period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				p, err := findPeriod(ctx, a, args[0])
				if err != nil {
					return err
				}
				locked, err := a.periods.Lock(ctx, p.ID, opts.actor, reason)
				if err != nil {
					return err
				}
				printPeriod(cmd.OutOrStdout(), locked)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the period is locked")
	return cmd
}

func newPeriodStateCommand(opts *options, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <period-id|name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				p, err := findPeriod(ctx, a, args[0])
				if err != nil {
					return err
				}
				if action == "unlock" {
					p, err = a.periods.Unlock(ctx, p.ID, opts.actor)
				} else {
					p, err = a.periods.Reopen(ctx, p.ID, opts.actor)
				}
				if err != nil {
					return err
				}
				printPeriod(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
}

func newPeriodClosingEntriesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "closing-entries <period-id|name>",
		Short: "Show the closing voucher of a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				p, err := findPeriod(ctx, a, args[0])
				if err != nil {
					return err
				}
				v, err := a.periods.ClosingEntries(ctx, p.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if v == nil {
					required, err := a.periods.ClosingEntriesRequired(ctx, p.ID)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s has no closing entries (required: %t)\n", p.Name, required)
					return nil
				}
				printVoucher(out, *v)
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
				for _, e := range v.Entries {
					fmt.Fprintf(tw, "  %s\t%s\t%s\t\n", e.AccountCode, column(e.Debit.StringFixed(2)), column(e.Credit.StringFixed(2)))
				}
				return tw.Flush()
			})
		},
	}
}

func printPeriod(w io.Writer, p model.Period) {
	fmt.Fprintf(w, "%s %s %s to %s %s (%s)\n", p.Name, p.Type, p.Start.Format(model.DateFormat), p.End.Format(model.DateFormat), p.Status, p.ID)
}
