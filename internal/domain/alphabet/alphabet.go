// Package alphabet provides the immutable symbol tables the sequence encoders
// are built on.  A Table maps residue characters to dense indices 0..A-1 and
// is constructed once per configuration; every per-sequence structure in the
// encoders is keyed by these indices rather than by characters.
//
// Two protein tables exist because the two encoder families enumerate the
// amino acids in different orders: the natural-vector family uses the
// biochemical ordering its reference vectors were published with, while the
// energy-entropy family uses plain alphabetical order.  The orderings fix the
// layout of every output vector, so they must never change.
package alphabet

import (
	"sort"
	"strings"

	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Table
// ─────────────────────────────────────────────────────────────────────────────

// Table is an immutable mapping from residue symbol to dense index.  All
// methods are safe for concurrent use; a Table is never mutated after
// construction.
type Table struct {
	name    string
	symbols string
	index   [256]int8 // -1 for symbols outside the alphabet
}

func newTable(name, symbols string) *Table {
	t := &Table{name: name, symbols: symbols}
	for i := range t.index {
		t.index[i] = -1
	}
	for i := 0; i < len(symbols); i++ {
		t.index[symbols[i]] = int8(i)
	}
	return t
}

// Package-level singletons, built once at init.
var (
	protein20           = newTable("protein20", "ARNDCQEGHILKMFPSTWYV")
	proteinAlphabetical = newTable("protein", "ACDEFGHIKLMNPQRSTVWY")
	dna                 = newTable("dna", "ACGT")
	rna                 = newTable("rna", "ACGU")
)

// Protein20 returns the 20-symbol amino-acid table in biochemical order,
// the fixed alphabet of the natural-vector encoder.
func Protein20() *Table { return protein20 }

// ProteinAlphabetical returns the 20-symbol amino-acid table in alphabetical
// order, used by the energy-entropy encoder's "protein" configuration.
func ProteinAlphabetical() *Table { return proteinAlphabetical }

// DNA returns the 4-symbol nucleotide table A, C, G, T.
func DNA() *Table { return dna }

// RNA returns the 4-symbol nucleotide table A, C, G, U.
func RNA() *Table { return rna }

// ForName resolves a configuration alphabet name ("dna", "rna", "protein",
// case-insensitive) to its Table.  Unknown names produce a configuration
// error carrying the offending name.
func ForName(name string) (*Table, error) {
	switch strings.ToLower(name) {
	case "dna":
		return dna, nil
	case "rna":
		return rna, nil
	case "protein":
		return proteinAlphabetical, nil
	default:
		return nil, errors.New(errors.ErrCodeAlphabetUnsupported,
			"unsupported alphabet").WithDetailf("name=%q (want dna, rna, or protein)", name)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Accessors
// ─────────────────────────────────────────────────────────────────────────────

// Name returns the table's configuration name.
func (t *Table) Name() string { return t.name }

// Size returns the number of symbols in the alphabet.
func (t *Table) Size() int { return len(t.symbols) }

// Symbols returns the ordered symbol string; index i of the string is the
// symbol with dense index i.
func (t *Table) Symbols() string { return t.symbols }

// Index returns the dense index of symbol b, or -1 when b is outside the
// alphabet.
func (t *Table) Index(b byte) int { return int(t.index[b]) }

// Contains reports whether b belongs to the alphabet.
func (t *Table) Contains(b byte) bool { return t.index[b] >= 0 }

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// InvalidSymbols returns the sorted, deduplicated set of characters in seq
// that do not belong to the alphabet.  An empty result means every character
// maps to an index.
func (t *Table) InvalidSymbols(seq string) []string {
	var bad map[rune]struct{}
	for _, r := range seq {
		if r > 255 || t.index[byte(r)] < 0 {
			if bad == nil {
				bad = make(map[rune]struct{})
			}
			bad[r] = struct{}{}
		}
	}
	if len(bad) == 0 {
		return nil
	}
	out := make([]string, 0, len(bad))
	for r := range bad {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}

// Validate checks that every character of seq belongs to the alphabet and
// reports the full offending symbol set when any does not.  Length
// requirements are the encoders' concern, not the table's: an empty sequence
// passes Validate.
func (t *Table) Validate(seq string) error {
	bad := t.InvalidSymbols(seq)
	if len(bad) == 0 {
		return nil
	}
	return errors.New(errors.ErrCodeSequenceInvalidSymbols,
		"sequence contains symbols outside the alphabet").
		WithDetailf("alphabet=%s symbols=%s", t.name, strings.Join(bad, ","))
}
