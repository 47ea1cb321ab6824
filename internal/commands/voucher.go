package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/store"
	"github.com/cleared-dev/ledger/internal/voucher"
)

func newVoucherCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voucher",
		Short: "Manage journal vouchers and their approval",
	}
	cmd.AddCommand(
		newVoucherCreateCommand(opts),
		newVoucherActionCommand(opts, "submit", "Submit a draft voucher for approval"),
		newVoucherActionCommand(opts, "approve", "Approve a voucher"),
		newVoucherRejectCommand(opts),
		newVoucherActionCommand(opts, "post", "Post an approved voucher"),
		newVoucherListCommand(opts),
	)
	return cmd
}

func newVoucherCreateCommand(opts *options) *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "create <file.yaml>",
		Short: "Create a draft voucher from a YAML file of lines (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				fh, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening voucher file: %w", err)
				}
				defer fh.Close()
				r = fh
			}
			f, err := readTxnFile(r)
			if err != nil {
				return err
			}
			if f.Event != "" {
				return ledgererr.Invalid("vouchers take lines, not events")
			}
			date, err := parseDate(f.Date)
			if err != nil {
				return err
			}
			lines, err := f.lineInputs()
			if err != nil {
				return err
			}
			entries := make([]model.VoucherEntry, len(lines))
			for i, l := range lines {
				entries[i] = model.VoucherEntry{AccountCode: l.AccountCode, Debit: l.Debit, Credit: l.Credit, Description: l.Description}
			}

			return run(cmd, opts, func(ctx context.Context, a *app) error {
				v, err := a.vouchers.Create(ctx, voucher.Draft{
					Date:        date,
					Description: f.Description,
					Reference:   f.Reference,
					Entries:     entries,
				}, opts.actor)
				if err != nil {
					return err
				}
				if submit {
					if v, err = a.vouchers.Submit(ctx, v.ID, opts.actor); err != nil {
						return err
					}
				}
				printVoucher(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "submit the voucher right away")
	return cmd
}

func newVoucherActionCommand(opts *options, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <voucher-id|number>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				var (
					v   model.Voucher
					err error
				)
				switch action {
				case "submit":
					v, err = a.vouchers.Submit(ctx, args[0], opts.actor)
				case "approve":
					v, err = a.vouchers.Approve(ctx, args[0], opts.actor)
				case "post":
					v, err = a.vouchers.Post(ctx, args[0], opts.actor)
				}
				if err != nil {
					return err
				}
				printVoucher(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func newVoucherRejectCommand(opts *options) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <voucher-id|number>",
		Short: "Reject a voucher",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				v, err := a.vouchers.Reject(ctx, args[0], opts.actor, reason)
				if err != nil {
					return err
				}
				printVoucher(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the voucher is rejected (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newVoucherListCommand(opts *options) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vouchers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f store.VoucherFilter
			for _, s := range statuses {
				f.Statuses = append(f.Statuses, model.VoucherStatus(s))
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				vs, err := a.vouchers.List(ctx, f)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NUMBER\tDATE\tSTATUS\tAMOUNT\tCREATED BY\tDESCRIPTION")
				for _, v := range vs {
					debits, _ := v.Totals()
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", v.Number, v.Date.Format(model.DateFormat), v.Status, debits.StringFixed(2), v.CreatedBy, v.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only vouchers in these statuses")
	return cmd
}

func printVoucher(w io.Writer, v model.Voucher) {
	debits, _ := v.Totals()
	fmt.Fprintf(w, "%s %s %s %s", v.Number, v.Date.Format(model.DateFormat), v.Status, debits.StringFixed(2))
	if next, ok := v.Workflow.CurrentApprover(); ok && v.Status == model.VoucherPendingApproval {
		fmt.Fprintf(w, " (awaiting %s; chain %s)", next, strings.Join(v.Workflow.RequiredApprovers, " > "))
	}
	if v.TransactionSetID != "" {
		fmt.Fprintf(w, " set %s", v.TransactionSetID)
	}
	fmt.Fprintln(w)
}
