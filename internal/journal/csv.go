package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
)

// Header is the CSV header for exported transaction lines.
const Header = "line_id,set_id,seq,date,account_code,description,debit,credit,reference,status"

const (
	numFields = 10
	colLineID = 0
	colSetID  = 1
	colSeq    = 2
	colDate   = 3
	colAcct   = 4
	colDesc   = 5
	colDebit  = 6
	colCredit = 7
	colRef    = 8
	colStatus = 9
)

// ReadLines reads transaction lines from a CSV reader.
func ReadLines(r io.Reader) ([]model.Line, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading lines CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	// Skip header row.
	var lines []model.Line
	for i, rec := range records[1:] {
		l, err := UnmarshalLine(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// WriteLines writes lines to w, including the header.
func WriteLines(w io.Writer, lines []model.Line) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, l := range lines {
		if err := cw.Write(MarshalLine(l)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalLine converts a Line to a CSV row.
func MarshalLine(l model.Line) []string {
	row := make([]string, numFields)
	row[colLineID] = l.ID
	row[colSetID] = l.SetID
	row[colSeq] = strconv.Itoa(l.Seq)
	row[colDate] = l.Date.Format(model.DateFormat)
	row[colAcct] = l.AccountCode
	row[colDesc] = l.Description

	if !l.Debit.IsZero() {
		row[colDebit] = l.Debit.StringFixed(2)
	}
	if !l.Credit.IsZero() {
		row[colCredit] = l.Credit.StringFixed(2)
	}

	row[colRef] = l.Reference.String()
	row[colStatus] = string(l.Status)
	return row
}

// UnmarshalLine converts a CSV row to a Line.
func UnmarshalLine(record []string) (model.Line, error) {
	if len(record) != numFields {
		return model.Line{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	date, err := time.Parse(model.DateFormat, record[colDate])
	if err != nil {
		return model.Line{}, fmt.Errorf("parsing date %q: %w", record[colDate], err)
	}

	seq, err := strconv.Atoi(record[colSeq])
	if err != nil {
		return model.Line{}, fmt.Errorf("parsing seq %q: %w", record[colSeq], err)
	}

	var debit, credit decimal.Decimal
	if record[colDebit] != "" {
		debit, err = decimal.NewFromString(record[colDebit])
		if err != nil {
			return model.Line{}, fmt.Errorf("parsing debit %q: %w", record[colDebit], err)
		}
	}
	if record[colCredit] != "" {
		credit, err = decimal.NewFromString(record[colCredit])
		if err != nil {
			return model.Line{}, fmt.Errorf("parsing credit %q: %w", record[colCredit], err)
		}
	}

	return model.Line{
		ID:          record[colLineID],
		SetID:       record[colSetID],
		Seq:         seq,
		Date:        date,
		AccountCode: record[colAcct],
		Description: record[colDesc],
		Debit:       debit,
		Credit:      credit,
		Reference:   ParseReference(record[colRef]),
		Status:      model.LineStatus(record[colStatus]),
	}, nil
}

// ParseReference splits "type:id" back into a Reference.
func ParseReference(s string) model.Reference {
	if typ, id, ok := strings.Cut(s, ":"); ok {
		return model.Reference{Type: typ, ID: id}
	}
	return model.Reference{ID: s}
}
