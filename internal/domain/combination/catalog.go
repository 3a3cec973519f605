// Package combination precomputes the symbol-subset tables used by the
// energy-entropy encoder in the BioSeq-Intelligence platform.  A Catalog is
// built once per encoder configuration and holds every k-subset of the
// alphabet for k = 1..maxK together with the r-subsets used for mutual
// information, keyed by a bitmask over alphabet indices for O(1) window
// matching.  Catalogs are immutable after construction and safe for
// concurrent use.
package combination

import (
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/alphabet"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Catalog Structure
// ─────────────────────────────────────────────────────────────────────────────

// Catalog holds precomputed symbol subsets over one alphabet.  Subsets are
// stored as ascending dense-index slices in the order a lexicographic
// enumeration over the alphabet produces them, so feature vectors built from
// a Catalog have a stable, reproducible column order.
type Catalog struct {
	table *alphabet.Table
	maxK  int
	r     int

	// subsetsByK[k-1] lists all k-subsets; empty when k exceeds the
	// alphabet size.
	subsetsByK [][][]int

	// kTotal is the total number of subsets across all k = 1..maxK.
	kTotal int

	// rSubsets lists all r-subsets in enumeration order; rIndex maps the
	// bitmask of each subset back to its position in that list.
	rSubsets [][]int
	rIndex   map[uint32]int
}

// New builds a Catalog over the given alphabet.  maxK is the largest subset
// size for the energy terms (0 means no k-subsets at all); r is the window
// width for the mutual-information term.  r must lie in [1, alphabet size],
// since wider windows can never match a subset of distinct symbols.
func New(table *alphabet.Table, maxK, r int) (*Catalog, error) {
	if table == nil {
		return nil, errors.FromCode(errors.ErrCodeConfigInvalid).
			WithDetail("combination catalog requires an alphabet table")
	}
	size := table.Size()
	if maxK < 0 {
		return nil, errors.FromCode(errors.ErrCodeEnergyValuesInvalid).
			WithDetailf("maxK=%d (want >= 0)", maxK)
	}
	if r < 1 || r > size {
		return nil, errors.FromCode(errors.ErrCodeMutualInfoInvalid).
			WithDetailf("r=%d alphabet=%s size=%d (want 1 <= r <= size)", r, table.Name(), size)
	}

	c := &Catalog{
		table:      table,
		maxK:       maxK,
		r:          r,
		subsetsByK: make([][][]int, maxK),
	}
	for k := 1; k <= maxK; k++ {
		subs := indexSubsets(size, k)
		c.subsetsByK[k-1] = subs
		c.kTotal += len(subs)
	}

	c.rSubsets = indexSubsets(size, r)
	c.rIndex = make(map[uint32]int, len(c.rSubsets))
	for pos, sub := range c.rSubsets {
		c.rIndex[maskOf(sub)] = pos
	}
	return c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Accessors
// ─────────────────────────────────────────────────────────────────────────────

// Table returns the alphabet the catalog was built over.
func (c *Catalog) Table() *alphabet.Table { return c.table }

// MaxK returns the largest k-subset size held by the catalog.
func (c *Catalog) MaxK() int { return c.maxK }

// R returns the mutual-information window width.
func (c *Catalog) R() int { return c.r }

// Subsets returns all k-subsets for the given k, or nil when k is outside
// [1, MaxK].  Callers must not mutate the returned slices.
func (c *Catalog) Subsets(k int) [][]int {
	if k < 1 || k > c.maxK {
		return nil
	}
	return c.subsetsByK[k-1]
}

// KSubsetTotal returns the number of subsets summed over all k = 1..MaxK.
// Each of the three energy terms emits exactly this many values.
func (c *Catalog) KSubsetTotal() int { return c.kTotal }

// RSubsets returns all r-subsets in enumeration order.  Callers must not
// mutate the returned slices.
func (c *Catalog) RSubsets() [][]int { return c.rSubsets }

// RCount returns the number of r-subsets, i.e. the length of the E4 block.
func (c *Catalog) RCount() int { return len(c.rSubsets) }

// RIndex resolves the bitmask of a window's symbol set to its r-subset
// position.  The second result is false when the mask matches no subset,
// which covers windows with repeated or extraneous symbols.
func (c *Catalog) RIndex(mask uint32) (int, bool) {
	pos, ok := c.rIndex[mask]
	return pos, ok
}

// ─────────────────────────────────────────────────────────────────────────────
// Subset Generation
// ─────────────────────────────────────────────────────────────────────────────

// indexSubsets enumerates all k-subsets of {0..n-1} in lexicographic order,
// each subset ascending.  Returns an empty list when k > n.
func indexSubsets(n, k int) [][]int {
	if k < 0 || k > n {
		return nil
	}
	out := make([][]int, 0, Binomial(n, k))
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		sub := make([]int, k)
		copy(sub, idx)
		out = append(out, sub)

		// Advance to the next combination: find the rightmost index that
		// can still move, bump it, and reset everything after it.
		i := k - 1
		for i >= 0 && idx[i] == i+n-k {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	return out
}

// maskOf packs a subset of dense indices into a bitmask.  Alphabets never
// exceed 20 symbols, so uint32 is always wide enough.
func maskOf(sub []int) uint32 {
	var mask uint32
	for _, idx := range sub {
		mask |= 1 << uint(idx)
	}
	return mask
}

// Binomial returns C(n, k), or 0 when k is outside [0, n].  Exact for every
// alphabet this platform supports.
func Binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	res := 1
	for i := 1; i <= k; i++ {
		res = res * (n - k + i) / i
	}
	return res
}
