// Package importer reads bank statement exports and posts each row to the
// ledger as a bank receipt or bank payment.
package importer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cleared-dev/ledger/internal/model"
)

// Parser turns one bank's statement export into rows.
type Parser interface {
	Parse(r io.Reader) ([]model.BankTransaction, error)
	Format() string
}

// Registry maps format names, case-insensitively, to parsers.
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[string]Parser, len(parsers))}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate statement format: " + key)
	}
	r.parsers[key] = p
}

// Lookup returns the parser for format.
func (r *Registry) Lookup(format string) (Parser, error) {
	if p, ok := r.parsers[strings.ToLower(format)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("unknown statement format %q (known: %s)", format, strings.Join(r.Formats(), ", "))
}

// Formats lists the registered format names in order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for k := range r.parsers {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	return NewRegistry(&ChaseParser{})
}

// Statement is a CSV waiting in the inbox.
type Statement struct {
	Name string
	Path string
	Size int64
}

// Inbox is the statement drop folder of a ledger directory: new files land
// in import/, imported ones are archived to import/processed/.
type Inbox struct {
	dir string
}

func NewInbox(ledgerDir string) Inbox {
	return Inbox{dir: filepath.Join(ledgerDir, "import")}
}

func (b Inbox) archiveDir() string { return filepath.Join(b.dir, "processed") }

// Pending returns the CSV statements not yet archived, sorted by name.
// A missing inbox is empty.
func (b Inbox) Pending() ([]Statement, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var out []Statement
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		out = append(out, Statement{Name: e.Name(), Path: filepath.Join(b.dir, e.Name()), Size: info.Size()})
	}
	slices.SortFunc(out, func(a, b Statement) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Archive moves an imported statement to import/processed/. A statement
// re-exported under a name already archived gets a numeric suffix
// instead of overwriting the earlier file.
func (b Inbox) Archive(name string) (string, error) {
	if err := os.MkdirAll(b.archiveDir(), 0o755); err != nil {
		return "", fmt.Errorf("creating processed dir: %w", err)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	dst := filepath.Join(b.archiveDir(), name)
	for n := 2; ; n++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		dst = filepath.Join(b.archiveDir(), fmt.Sprintf("%s_%d%s", base, n, ext))
	}
	if err := os.Rename(filepath.Join(b.dir, name), dst); err != nil {
		return "", fmt.Errorf("archiving %s: %w", name, err)
	}
	return dst, nil
}
