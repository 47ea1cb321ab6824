package accounts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
)

// Header is the CSV header for chart-of-accounts.csv.
const Header = "code,name,type,category,normal_balance,parent_code,allow_direct_posting,is_system,is_active,opening_balance,description"

const (
	numFields   = 11
	colCode     = 0
	colName     = 1
	colType     = 2
	colCategory = 3
	colNormal   = 4
	colParent   = 5
	colDirect   = 6
	colSystem   = 7
	colActive   = 8
	colOpening  = 9
	colDesc     = 10
)

// ReadAccounts reads chart-of-accounts.csv.
func ReadAccounts(r io.Reader) ([]model.Account, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading accounts CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var accounts []model.Account
	for i, rec := range records[1:] {
		acct, err := UnmarshalAccount(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// WriteAccounts writes chart-of-accounts.csv.
func WriteAccounts(w io.Writer, accounts []model.Account) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, acct := range accounts {
		if err := cw.Write(MarshalAccount(acct)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalAccount converts an Account to a CSV row.
func MarshalAccount(acct model.Account) []string {
	row := make([]string, numFields)
	row[colCode] = acct.Code
	row[colName] = acct.Name
	row[colType] = string(acct.Type)
	row[colCategory] = acct.Category
	row[colNormal] = string(acct.NormalBalance)
	row[colParent] = acct.ParentCode
	row[colDirect] = strconv.FormatBool(acct.AllowDirectPosting)
	row[colSystem] = strconv.FormatBool(acct.IsSystemAccount)
	row[colActive] = strconv.FormatBool(acct.IsActive)
	row[colOpening] = acct.OpeningBalance.StringFixed(2)
	row[colDesc] = acct.Description
	return row
}

// UnmarshalAccount converts a CSV row to an Account.
func UnmarshalAccount(record []string) (model.Account, error) {
	if len(record) != numFields {
		return model.Account{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	typ := model.AccountType(record[colType])
	if !typ.Valid() {
		return model.Account{}, fmt.Errorf("unknown account_type %q", record[colType])
	}

	normal := model.NormalBalance(record[colNormal])
	if normal == "" {
		normal = model.NormalBalanceFor(typ)
	}

	flags := make([]bool, 3)
	for i, col := range []int{colDirect, colSystem, colActive} {
		v, err := strconv.ParseBool(record[col])
		if err != nil {
			return model.Account{}, fmt.Errorf("parsing boolean column %d %q: %w", col+1, record[col], err)
		}
		flags[i] = v
	}

	opening := decimal.Zero
	if record[colOpening] != "" {
		var err error
		opening, err = decimal.NewFromString(record[colOpening])
		if err != nil {
			return model.Account{}, fmt.Errorf("parsing opening_balance %q: %w", record[colOpening], err)
		}
	}

	return model.Account{
		Code:               model.CanonicalCode(record[colCode]),
		Name:               record[colName],
		Type:               typ,
		Category:           record[colCategory],
		NormalBalance:      normal,
		ParentCode:         model.CanonicalCode(record[colParent]),
		AllowDirectPosting: flags[0],
		IsSystemAccount:    flags[1],
		IsActive:           flags[2],
		OpeningBalance:     opening,
		Description:        record[colDesc],
	}, nil
}
