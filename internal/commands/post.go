package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/ledger/internal/events"
	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/ledgererr"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/posting"
)

// txnFile is a transaction file. With Event empty the lines are posted as
// a manual journal entry; otherwise the business event named is recorded.
//
//	date: 2025-03-12
//	event: sale          # sale, purchase, cash_receipt, cash_payment, bank_receipt, bank_payment
//	id: INV-1042
//	party: ACME
//	total: "1000.00"
//	paid: "400.00"
//	tender: bank
//	items:
//	  - product: WIDGET
//	    quantity: "2"
type txnFile struct {
	Date        string     `yaml:"date"`
	Event       string     `yaml:"event,omitempty"`
	ID          string     `yaml:"id,omitempty"`
	Reference   string     `yaml:"reference,omitempty"`
	Description string     `yaml:"description,omitempty"`
	Lines       []lineSpec `yaml:"lines,omitempty"`

	Party   string     `yaml:"party,omitempty"`
	Total   string     `yaml:"total,omitempty"`
	Paid    string     `yaml:"paid,omitempty"`
	Tender  string     `yaml:"tender,omitempty"`
	Counter string     `yaml:"counter_account,omitempty"`
	Items   []itemSpec `yaml:"items,omitempty"`
}

type lineSpec struct {
	Account     string `yaml:"account"`
	Debit       string `yaml:"debit,omitempty"`
	Credit      string `yaml:"credit,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type itemSpec struct {
	Product  string `yaml:"product"`
	Quantity string `yaml:"quantity"`
	Price    string `yaml:"price,omitempty"`
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ledgererr.Invalid("%s: %q is not an amount", field, s)
	}
	return d, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, ledgererr.Invalid("date is required")
	}
	t, err := time.Parse(model.DateFormat, s)
	if err != nil {
		return time.Time{}, ledgererr.Invalid("date %q is not YYYY-MM-DD", s)
	}
	return t, nil
}

func readTxnFile(r io.Reader) (txnFile, error) {
	var f txnFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return txnFile{}, fmt.Errorf("parsing transaction file: %w", err)
	}
	return f, nil
}

func (f txnFile) lineInputs() ([]journal.LineInput, error) {
	lines := make([]journal.LineInput, len(f.Lines))
	for i, l := range f.Lines {
		dr, err := parseAmount(fmt.Sprintf("line %d debit", i+1), l.Debit)
		if err != nil {
			return nil, err
		}
		cr, err := parseAmount(fmt.Sprintf("line %d credit", i+1), l.Credit)
		if err != nil {
			return nil, err
		}
		lines[i] = journal.LineInput{AccountCode: l.Account, Debit: dr, Credit: cr, Description: l.Description}
	}
	return lines, nil
}

// record posts f and returns the resulting transaction set.
func (f txnFile) record(ctx context.Context, a *app, actor string) (model.TransactionSet, error) {
	date, err := parseDate(f.Date)
	if err != nil {
		return model.TransactionSet{}, err
	}
	if f.Event == "" {
		lines, err := f.lineInputs()
		if err != nil {
			return model.TransactionSet{}, err
		}
		return a.engine.Post(ctx, posting.Request{
			Date:        date,
			Kind:        model.KindJournal,
			Reference:   journal.ParseReference(f.Reference),
			Description: f.Description,
			Lines:       lines,
		}, actor)
	}

	total, err := parseAmount("total", f.Total)
	if err != nil {
		return model.TransactionSet{}, err
	}
	paid, err := parseAmount("paid", f.Paid)
	if err != nil {
		return model.TransactionSet{}, err
	}
	tender := events.Tender(f.Tender)
	if tender == "" {
		tender = events.TenderCash
	}

	switch f.Event {
	case "sale":
		items := make([]events.SaleItem, len(f.Items))
		for i, it := range f.Items {
			q, err := parseAmount(fmt.Sprintf("item %d quantity", i+1), it.Quantity)
			if err != nil {
				return model.TransactionSet{}, err
			}
			price, err := parseAmount(fmt.Sprintf("item %d price", i+1), it.Price)
			if err != nil {
				return model.TransactionSet{}, err
			}
			items[i] = events.SaleItem{ProductID: it.Product, Quantity: q, UnitPrice: price}
		}
		return a.events.RecordSale(ctx, events.SaleOrder{
			ID: f.ID, Customer: f.Party, Date: date, Items: items,
			Total: total, AmountPaid: paid, Tender: tender, Description: f.Description,
		}, actor)
	case "purchase":
		return a.events.RecordPurchase(ctx, events.PurchaseOrder{
			ID: f.ID, Supplier: f.Party, Date: date,
			Total: total, AmountPaid: paid, Tender: tender, Description: f.Description,
		}, actor)
	}

	pay := events.Payment{ID: f.ID, Date: date, Amount: total, CounterAccount: f.Counter, Description: f.Description}
	switch f.Event {
	case "cash_receipt":
		return a.events.RecordCashReceipt(ctx, pay, actor)
	case "cash_payment":
		return a.events.RecordCashPayment(ctx, pay, actor)
	case "bank_receipt":
		return a.events.RecordBankReceipt(ctx, pay, actor)
	case "bank_payment":
		return a.events.RecordBankPayment(ctx, pay, actor)
	}
	return model.TransactionSet{}, ledgererr.Invalid("unknown event %q", f.Event)
}

func newPostCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "post <file.yaml>",
		Short: "Post a transaction from a YAML file (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				fh, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening transaction file: %w", err)
				}
				defer fh.Close()
				r = fh
			}
			f, err := readTxnFile(r)
			if err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				set, err := f.record(ctx, a, opts.actor)
				if err != nil {
					return err
				}
				printSet(cmd.OutOrStdout(), set)
				return nil
			})
		},
	}
}

func printSet(w io.Writer, set model.TransactionSet) {
	debits, _ := set.Totals()
	fmt.Fprintf(w, "Posted %s (%s) %s %s\n", set.Number, set.ID, set.Date.Format(model.DateFormat), debits.StringFixed(2))
	for _, l := range set.Lines {
		fmt.Fprintf(w, "  %-10s %12s %12s  %s\n", l.AccountCode, l.Debit.StringFixed(2), l.Credit.StringFixed(2), l.Description)
	}
}

func newReverseCommand(opts *options) *cobra.Command {
	var (
		reason string
		amount string
	)
	cmd := &cobra.Command{
		Use:   "reverse <set-id|number>",
		Short: "Reverse a posted transaction set, fully or in part",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount("amount", amount)
			if err != nil {
				return err
			}
			return run(cmd, opts, func(ctx context.Context, a *app) error {
				orig, err := a.engine.Find(ctx, args[0])
				if err != nil {
					return err
				}
				var set model.TransactionSet
				if amt.IsZero() {
					set, err = a.engine.Reverse(ctx, orig.ID, reason, opts.actor)
				} else {
					set, err = a.engine.ReversePartial(ctx, orig.ID, amt, reason, opts.actor)
				}
				if err != nil {
					return err
				}
				printSet(cmd.OutOrStdout(), set)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the set is reversed (required)")
	_ = cmd.MarkFlagRequired("reason")
	cmd.Flags().StringVar(&amount, "amount", "", "reverse only this amount of an invoice-like set")
	return cmd
}
