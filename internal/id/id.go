package id

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Number prefixes for human-readable document numbers.
const (
	PrefixTransactionSet = "TS"
	PrefixVoucher        = "JV"
)

// New returns a random identifier for a stored record.
func New() string {
	return uuid.NewString()
}

// SequenceName is the counter key for a prefix within a year.
func SequenceName(prefix string, year int) string {
	return fmt.Sprintf("%s-%04d", prefix, year)
}

// FormatNumber returns a document number like "JV-2025-000042".
func FormatNumber(prefix string, year int, seq int64) string {
	return fmt.Sprintf("%s-%04d-%06d", prefix, year, seq)
}

// ParseNumber parses "JV-2025-000042" into prefix, year, seq.
func ParseNumber(number string) (prefix string, year int, seq int64, err error) {
	parts := strings.SplitN(number, "-", 3)
	if len(parts) != 3 || parts[0] == "" {
		return "", 0, 0, fmt.Errorf("invalid document number format: %q", number)
	}

	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid year in document number %q: %w", number, err)
	}

	seq, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid sequence in document number %q: %w", number, err)
	}

	return parts[0], year, seq, nil
}

// LineID returns the ID of the n-th line of a set, e.g. "<set>/3".
func LineID(setID string, n int) string {
	return setID + "/" + strconv.Itoa(n)
}
