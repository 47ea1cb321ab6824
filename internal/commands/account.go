package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/model"
)

func newAccountCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the chart of accounts",
	}
	cmd.AddCommand(
		newAccountAddCommand(opts),
		newAccountListCommand(opts),
		newAccountTreeCommand(opts),
		newAccountLockCommand(opts),
		newAccountUnlockCommand(opts),
	)
	return cmd
}

func newAccountAddCommand(opts *options) *cobra.Command {
	var (
		in      accounts.NewAccount
		acctTyp string
		opening string
	)
	cmd := &cobra.Command{
		Use:   "add <code> <name>",
		Short: "Add an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Code, in.Name = args[0], args[1]
			in.Type = model.AccountType(acctTyp)
			if opening != "" {
				d, err := decimal.NewFromString(opening)
				if err != nil {
					return fmt.Errorf("parsing opening balance %q: %w", opening, err)
				}
				in.OpeningBalance = d
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				acct, err := a.accounts.Create(ctx, in, opts.actor)
				if err != nil {
					return err
				}
				a.roles.Invalidate()
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s (%s, level %d)\n", acct.Code, acct.Name, acct.Type, acct.Level)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&acctTyp, "type", "", "asset, liability, equity, revenue or expense (required)")
	_ = cmd.MarkFlagRequired("type")
	cmd.Flags().StringVar(&in.Category, "category", "", "category")
	cmd.Flags().StringVar(&in.ParentCode, "parent", "", "parent account code")
	cmd.Flags().BoolVar(&in.Summary, "summary", false, "summary account that refuses direct postings")
	cmd.Flags().StringVar(&opening, "opening", "", "opening balance")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	return cmd
}

func newAccountListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				all, err := a.accounts.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
				fmt.Fprintln(tw, "CODE\tNAME\tTYPE\tBALANCE\tSTATUS\t")
				for _, acct := range all {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", acct.Code, acct.Name, acct.Type, acct.CurrentBalance.StringFixed(2), accountStatus(acct, a.accounts.Now()))
				}
				return tw.Flush()
			})
		},
	}
}

func accountStatus(acct model.Account, now time.Time) string {
	var flags []string
	if !acct.IsActive {
		flags = append(flags, "inactive")
	}
	if !acct.AllowDirectPosting {
		flags = append(flags, "summary")
	}
	if acct.Reconciliation.Active(now) {
		flags = append(flags, "locked by "+acct.Reconciliation.LockedBy)
	}
	return strings.Join(flags, ",")
}

func newAccountTreeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the account hierarchy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				roots, err := a.accounts.Tree(ctx)
				if err != nil {
					return err
				}
				for _, n := range roots {
					printNode(cmd.OutOrStdout(), n, 0)
				}
				return nil
			})
		},
	}
}

func printNode(w io.Writer, n *accounts.Node, depth int) {
	fmt.Fprintf(w, "%s%s %s  %s\n", strings.Repeat("  ", depth), n.Account.Code, n.Account.Name, n.Account.CurrentBalance.StringFixed(2))
	for _, c := range n.Children {
		printNode(w, c, depth+1)
	}
}

func newAccountLockCommand(opts *options) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "lock <code>",
		Short: "Lock an account for reconciliation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				acct, err := a.accounts.LockForReconciliation(ctx, args[0], opts.actor, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Locked %s for %s until %s\n", acct.Code, acct.Reconciliation.LockedBy, acct.Reconciliation.LockExpiresAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lock lifetime (default from config)")
	return cmd
}

func newAccountUnlockCommand(opts *options) *cobra.Command {
	var (
		out         accounts.Outcome
		discrepancy string
	)
	cmd := &cobra.Command{
		Use:   "unlock <code>",
		Short: "Release a reconciliation lock and record the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if discrepancy != "" {
				d, err := decimal.NewFromString(discrepancy)
				if err != nil {
					return fmt.Errorf("parsing discrepancy %q: %w", discrepancy, err)
				}
				out.Discrepancy = d
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				acct, err := a.accounts.UnlockAfterReconciliation(ctx, args[0], opts.actor, out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %s (%s)\n", acct.Code, acct.Reconciliation.Status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&out.Reconciled, "reconciled", false, "the account reconciled")
	cmd.Flags().StringVar(&discrepancy, "discrepancy", "", "unexplained difference found")
	cmd.Flags().StringVar(&out.Reason, "reason", "", "notes on the outcome")
	return cmd
}
