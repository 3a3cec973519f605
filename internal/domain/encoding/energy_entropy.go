package encoding

import (
	"math"
	"sync"

	"github.com/turtacn/BioSeq-Intelligence/internal/domain/alphabet"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/combination"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// condEntropyEpsilon guards the logarithm argument in the conditional
// entropy term.  It is added inside the log only, never to the probability
// itself, and dimers with a zero count are skipped entirely rather than
// contributing a smoothed near-zero term.  Downstream comparability depends
// on this exact convention, so it must not be "fixed".
const condEntropyEpsilon = 1e-10

// ─────────────────────────────────────────────────────────────────────────────
// Energy-Entropy Encoder
// ─────────────────────────────────────────────────────────────────────────────

// EnergyEntropyEncoder embeds a sequence as the concatenation E1++E2++E3++E4
// of four information-theoretic blocks:
//
//	E1  self-information H_X(letter) = −p·log2(p) from marginal frequencies
//	E2  conditional entropy H_second(b) accumulated over adjacent dimers
//	    ending in b
//	E3  positional entropy H_rel(letter) from the letter's share of the
//	    total position sum
//	E4  mutual information of width-r windows against an independence
//	    baseline, one value per r-subset of the alphabet
//
// E1, E2 and E3 each emit, for every k in 1..energyValues−1 and every
// k-subset of the alphabet, the product (Σ entropy over the subset) ×
// (Σ occurrence count over the subset), in catalog enumeration order.  The
// output length is therefore 3·Σ C(A,k) + C(A,r), fixed at construction.
type EnergyEntropyEncoder struct {
	table        *alphabet.Table
	catalog      *combination.Catalog
	energyValues int
	r            int
	dim          int
	pool         sync.Pool
}

// eeScratch is the per-call working set.  The per-symbol and per-subset
// buffers have configuration-fixed sizes; only the index buffer grows with
// sequence length.
type eeScratch struct {
	idx     []int8    // dense symbol index per position
	counts  []int     // occurrences per symbol
	posSum  []int64   // sum of 1-based positions per symbol
	dimers  []int     // adjacent-pair counts, row-major [first][second]
	windows []int     // matched window count per r-subset
	px      []float64 // marginal probability per symbol
	hx      []float64 // self-information per symbol
	hsec    []float64 // conditional entropy contribution per second symbol
	hrel    []float64 // positional entropy per symbol
}

// NewEnergyEntropy constructs an encoder for the named alphabet ("dna",
// "rna", or "protein") with the given energy term bound and mutual
// information window width.  Invalid parameters are rejected here, before
// any sequence is processed.
func NewEnergyEntropy(alphabetName string, energyValues, mutualInformationEnergy int) (*EnergyEntropyEncoder, error) {
	table, err := alphabet.ForName(alphabetName)
	if err != nil {
		return nil, err
	}
	if energyValues < 1 {
		return nil, errors.FromCode(errors.ErrCodeEnergyValuesInvalid).
			WithDetailf("energy_values=%d (want >= 1)", energyValues)
	}

	catalog, err := combination.New(table, energyValues-1, mutualInformationEnergy)
	if err != nil {
		return nil, err
	}

	size := table.Size()
	e := &EnergyEntropyEncoder{
		table:        table,
		catalog:      catalog,
		energyValues: energyValues,
		r:            mutualInformationEnergy,
		dim:          3*catalog.KSubsetTotal() + catalog.RCount(),
	}
	e.pool.New = func() interface{} {
		return &eeScratch{
			counts:  make([]int, size),
			posSum:  make([]int64, size),
			dimers:  make([]int, size*size),
			windows: make([]int, catalog.RCount()),
			px:      make([]float64, size),
			hx:      make([]float64, size),
			hsec:    make([]float64, size),
			hrel:    make([]float64, size),
		}
	}
	return e, nil
}

// Name returns the stable encoder identifier.
func (e *EnergyEntropyEncoder) Name() string {
	return string(seqtypes.EncoderEnergyEntropy)
}

// Dimension returns the configured output vector length.
func (e *EnergyEntropyEncoder) Dimension() int { return e.dim }

// Alphabet returns the name of the configured symbol table.
func (e *EnergyEntropyEncoder) Alphabet() string { return e.table.Name() }

// EnergyValues returns the configured energy term bound.
func (e *EnergyEntropyEncoder) EnergyValues() int { return e.energyValues }

// MutualInformationEnergy returns the configured window width r.
func (e *EnergyEntropyEncoder) MutualInformationEnergy() int { return e.r }

// Encode validates the sequence and computes its energy-entropy vector.
// Sequences shorter than two symbols or containing symbols outside the
// configured alphabet are rejected before any numeric work.
func (e *EnergyEntropyEncoder) Encode(sequence string) ([]float64, error) {
	n := len(sequence)
	if n < 2 {
		return nil, errors.FromCode(errors.ErrCodeSequenceTooShort).
			WithDetailf("length=%d (want >= 2)", n)
	}
	if err := e.table.Validate(sequence); err != nil {
		return nil, err
	}

	size := e.table.Size()

	s := e.pool.Get().(*eeScratch)
	defer e.pool.Put(s)
	s.reset(n)

	// Single linear pass: per-symbol counts and position sums, adjacent
	// dimer counts, and width-r window matches against the subset catalog.
	for p := 0; p < n; p++ {
		i := e.table.Index(sequence[p])
		s.idx[p] = int8(i)
		s.counts[i]++
		s.posSum[i] += int64(p + 1)
	}
	for p := 0; p+1 < n; p++ {
		s.dimers[int(s.idx[p])*size+int(s.idx[p+1])]++
	}
	r := e.r
	for p := 0; p+r <= n; p++ {
		// A window matches an r-subset exactly when its symbols are r
		// distinct alphabet members; a repeated symbol can only match
		// when r=1, where repetition is impossible.
		var mask uint32
		matched := true
		for w := 0; w < r; w++ {
			bit := uint32(1) << uint(s.idx[p+w])
			if mask&bit != 0 {
				matched = false
				break
			}
			mask |= bit
		}
		if !matched {
			continue
		}
		if pos, ok := e.catalog.RIndex(mask); ok {
			s.windows[pos]++
		}
	}

	// Letter entropy profiles.  Zero counts and zero probabilities always
	// contribute exactly 0, never NaN or −Inf.
	for i := 0; i < size; i++ {
		s.px[i] = float64(s.counts[i]) / float64(n)
		if s.counts[i] > 0 {
			s.hx[i] = -s.px[i] * math.Log2(s.px[i])
		} else {
			s.hx[i] = 0
		}
	}
	totalPairs := float64(n - 1)
	for a := 0; a < size; a++ {
		base := a * size
		for b := 0; b < size; b++ {
			cnt := s.dimers[base+b]
			if cnt == 0 {
				continue
			}
			prob := float64(cnt) / totalPairs
			s.hsec[b] += -prob * math.Log2(prob+condEntropyEpsilon)
		}
	}
	uniformSum := int64(n) * int64(n+1) / 2
	for i := 0; i < size; i++ {
		rel := float64(uniformSum-s.posSum[i]) / float64(uniformSum)
		if rel > 0 {
			s.hrel[i] = -rel * math.Log2(rel)
		} else {
			s.hrel[i] = 0
		}
	}

	out := make([]float64, e.dim)
	pos := 0

	// E1, E2, E3: one weighted value per k-subset, concatenated across
	// increasing k, one block per entropy profile.
	for _, profile := range [][]float64{s.hx, s.hsec, s.hrel} {
		for k := 1; k < e.energyValues; k++ {
			for _, sub := range e.catalog.Subsets(k) {
				var ent float64
				cnt := 0
				for _, m := range sub {
					ent += profile[m]
					cnt += s.counts[m]
				}
				out[pos] = ent * float64(cnt)
				pos++
			}
		}
	}

	// E4: mutual information per r-subset.  A matched window implies every
	// member symbol occurred, so the independence baseline is nonzero
	// whenever the count is.
	for wpos, sub := range e.catalog.RSubsets() {
		cnt := s.windows[wpos]
		if cnt == 0 {
			pos++
			continue
		}
		pcomb := 1.0
		for _, m := range sub {
			pcomb *= s.px[m]
		}
		prob := float64(cnt) / float64(n)
		out[pos] = math.Log2(prob/pcomb) * prob * float64(cnt)
		pos++
	}

	return out, nil
}

// reset readies the scratch for a sequence of length n, clearing every
// accumulator while reusing prior allocations.
func (s *eeScratch) reset(n int) {
	if cap(s.idx) < n {
		s.idx = make([]int8, n)
	} else {
		s.idx = s.idx[:n]
	}
	for i := range s.counts {
		s.counts[i] = 0
		s.posSum[i] = 0
		s.hsec[i] = 0
	}
	for i := range s.dimers {
		s.dimers[i] = 0
	}
	for i := range s.windows {
		s.windows[i] = 0
	}
}
