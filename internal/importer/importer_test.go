package importer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledger/internal/accounts"
	"github.com/cleared-dev/ledger/internal/auditlog"
	"github.com/cleared-dev/ledger/internal/events"
	"github.com/cleared-dev/ledger/internal/model"
	"github.com/cleared-dev/ledger/internal/posting"
	"github.com/cleared-dev/ledger/internal/store"
)

const chaseHeader = "Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #\n"

const chaseStatement = chaseHeader +
	"DEBIT,01/03/2025,GITHUB *PRO SUBSCRIPTION,-4.00,ACH_DEBIT,9996.00,\n" +
	"DEBIT,01/07/2025,AWS SERVICES,-123.45,ACH_DEBIT,9872.55,\n" +
	"DEBIT,01/07/2025,AWS SERVICES,-10.00,ACH_DEBIT,9862.55,\n" +
	"CREDIT,01/15/2025,ACME CONSULTING INVOICE 1042,3500.00,ACH_CREDIT,13362.55,\n" +
	"DEBIT,01/18/2025,MONTHLY FEE WAIVED,0.00,FEE_TRANSACTION,13362.55,\n" +
	"CHECK,01/22/2025,CHECK 1042,-250.00,CHECK_PAID,13112.55,1042\n"

func parseStatement(t *testing.T) []model.BankTransaction {
	t.Helper()
	txns, err := (&ChaseParser{}).Parse(strings.NewReader(chaseStatement))
	require.NoError(t, err)
	return txns
}

func TestChaseParser_Parse(t *testing.T) {
	txns := parseStatement(t)
	require.Len(t, txns, 5, "zero-amount rows are dropped")

	assert.Equal(t, "GITHUB *PRO SUBSCRIPTION", txns[0].Description)
	assert.Equal(t, "-4.00", txns[0].Amount.StringFixed(2))
	assert.Equal(t, "ACH_DEBIT", txns[0].Type)
	assert.Equal(t, 2025, txns[0].Date.Year())
	assert.Equal(t, 1, int(txns[0].Date.Month()))
	assert.Equal(t, 3, txns[0].Date.Day())

	assert.Equal(t, "ACME CONSULTING INVOICE 1042", txns[3].Description)
	assert.Equal(t, "3500.00", txns[3].Amount.StringFixed(2))
	assert.Equal(t, 22, txns[4].Date.Day())
	assert.Equal(t, "1042", txns[4].CheckNumber)
	assert.Empty(t, txns[0].CheckNumber)
	assert.False(t, txns[0].Receipt())
	assert.True(t, txns[3].Receipt())
}

func TestChaseParser_TrailingZeroDecimals(t *testing.T) {
	txns, err := (&ChaseParser{}).Parse(strings.NewReader(chaseHeader +
		"DEBIT,01/03/2025,AWS SERVICES,-10.500,ACH_DEBIT,100.00,\n"))
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "-10.50", txns[0].Amount.StringFixed(2))
}

func TestChaseParser_References(t *testing.T) {
	txns := parseStatement(t)
	assert.Equal(t, "chase_20250103_GITHUBPROS", txns[0].Reference)
	assert.Equal(t, "chase_20250107_AWSSERVICE", txns[1].Reference)
	assert.Equal(t, "chase_20250107_AWSSERVICE_2", txns[2].Reference)
	assert.Equal(t, "chase_20250122_chk1042", txns[4].Reference)
}

func TestChaseParser_EmptyFile(t *testing.T) {
	p := &ChaseParser{}
	txns, err := p.Parse(strings.NewReader(chaseHeader))
	require.NoError(t, err)
	assert.Nil(t, txns)

	txns, err = p.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, txns)
}

func TestChaseParser_BadRows(t *testing.T) {
	tests := []struct {
		name string
		row  string
		want string
	}{
		{"date", "DEBIT,NOTADATE,desc,-4.00,ACH_DEBIT,100.00,\n", "parsing date"},
		{"amount", "DEBIT,01/03/2025,desc,NOTANUMBER,ACH_DEBIT,100.00,\n", "parsing amount"},
		{"precision", "DEBIT,01/03/2025,desc,-4.001,ACH_DEBIT,100.00,\n", "decimal places"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&ChaseParser{}).Parse(strings.NewReader(chaseHeader + tt.row))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Contains(t, err.Error(), "row 2")
		})
	}
}

func TestChaseParser_Format(t *testing.T) {
	p := &ChaseParser{}
	assert.Equal(t, "chase", p.Format())
}

type importFixture struct {
	importer *Importer
	accounts *accounts.Service
	audit    *auditlog.File
}

func newImportFixture(t *testing.T, opts ...Option) importFixture {
	t.Helper()
	st := store.NewMemory()
	accts := accounts.NewService(st)
	_, err := accts.Seed(context.Background(), accounts.DefaultChart())
	require.NoError(t, err)
	engine := posting.NewEngine(st, accts)
	ev := events.NewService(engine, posting.NewResolver(st, nil, zerolog.Nop()))
	audit := auditlog.NewFile(filepath.Join(t.TempDir(), "audit-log.csv"))
	opts = append([]Option{WithAudit(audit)}, opts...)
	return importFixture{importer: New(ev, engine, opts...), accounts: accts, audit: audit}
}

func (f importFixture) balance(t *testing.T, code string) string {
	t.Helper()
	a, err := f.accounts.Resolve(context.Background(), code)
	require.NoError(t, err)
	return a.CurrentBalance.StringFixed(2)
}

func TestImport_PostsReceiptsAndPayments(t *testing.T) {
	f := newImportFixture(t, WithCounterAccounts("", "5100"))
	ctx := context.Background()

	res, err := f.importer.Import(ctx, strings.NewReader(chaseStatement), "chase", "jan.csv", "bookkeeper")
	require.NoError(t, err)
	require.Len(t, res.Posted, 5)
	assert.Empty(t, res.Skipped)

	// 3500 in, 4 + 123.45 + 10 + 250 out
	assert.Equal(t, "3112.55", f.balance(t, accounts.CodeBank))
	assert.Equal(t, "-3500.00", f.balance(t, accounts.CodeAccountsReceivable))
	assert.Equal(t, "387.45", f.balance(t, "5100"))

	entries, err := auditlog.Read(f.audit.Path())
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, auditlog.ActionImport, last.Action)
	assert.Equal(t, "jan.csv", last.EntityID)
}

func TestImport_SkipsRowsAlreadyPosted(t *testing.T) {
	f := newImportFixture(t)
	ctx := context.Background()

	_, err := f.importer.Import(ctx, strings.NewReader(chaseStatement), "chase", "jan.csv", "bookkeeper")
	require.NoError(t, err)

	res, err := f.importer.Import(ctx, bytes.NewBufferString(chaseStatement), "CHASE", "jan-again.csv", "bookkeeper")
	require.NoError(t, err)
	assert.Empty(t, res.Posted)
	assert.Len(t, res.Skipped, 5)
	assert.Equal(t, "3112.55", f.balance(t, accounts.CodeBank))
}

func TestImport_UnknownFormat(t *testing.T) {
	f := newImportFixture(t)
	_, err := f.importer.Import(context.Background(), strings.NewReader(chaseStatement), "ofx", "jan.ofx", "bookkeeper")
	assert.ErrorContains(t, err, "unknown statement format")
}

func TestImport_StopsAtFailingRow(t *testing.T) {
	f := newImportFixture(t, WithCounterAccounts("9999", ""))
	res, err := f.importer.Import(context.Background(), strings.NewReader(chaseStatement), "chase", "jan.csv", "bookkeeper")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chase_20250115_ACMECONSUL")
	assert.Len(t, res.Posted, 3, "payments before the failing deposit stay posted")
}

func TestRegistry_Lookup(t *testing.T) {
	r := DefaultRegistry()
	p, err := r.Lookup("CHASE")
	require.NoError(t, err)
	assert.Equal(t, "chase", p.Format())

	_, err = r.Lookup("ofx")
	assert.ErrorContains(t, err, "known: chase")
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry(&ChaseParser{})
	assert.Panics(t, func() { r.Register(&ChaseParser{}) })
}

func writeInbox(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		path := filepath.Join(dir, "import", n)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	}
}

func TestInbox_Pending(t *testing.T) {
	dir := t.TempDir()
	writeInbox(t, dir, "feb.csv", "jan.CSV", "notes.txt", filepath.Join("processed", "dec.csv"))

	files, err := NewInbox(dir).Pending()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "feb.csv", files[0].Name)
	assert.Equal(t, "jan.CSV", files[1].Name)
	assert.Equal(t, int64(4), files[0].Size)
}

func TestInbox_PendingMissingDir(t *testing.T) {
	files, err := NewInbox(t.TempDir()).Pending()
	require.NoError(t, err)
	assert.Nil(t, files)
}

func TestInbox_Archive(t *testing.T) {
	dir := t.TempDir()
	inbox := NewInbox(dir)

	writeInbox(t, dir, "bank.csv")
	dst, err := inbox.Archive("bank.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "import", "processed", "bank.csv"), dst)
	assert.NoFileExists(t, filepath.Join(dir, "import", "bank.csv"))

	writeInbox(t, dir, "bank.csv")
	dst, err = inbox.Archive("bank.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "import", "processed", "bank_2.csv"), dst)
	assert.FileExists(t, filepath.Join(dir, "import", "processed", "bank.csv"))
}
