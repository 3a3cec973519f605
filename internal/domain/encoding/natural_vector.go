package encoding

import (
	"sync"

	"github.com/turtacn/BioSeq-Intelligence/internal/domain/alphabet"
	"github.com/turtacn/BioSeq-Intelligence/internal/domain/combination"
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// ─────────────────────────────────────────────────────────────────────────────
// Natural Vector Encoder
// ─────────────────────────────────────────────────────────────────────────────

// NaturalVectorEncoder embeds a protein sequence as the concatenation of four
// blocks over the 20-symbol amino-acid alphabet:
//
//	[0..19]    n_i    occurrence count of symbol i
//	[20..39]   κ_i    sum of the cumulative-rank profile divided by n_i
//	[40..59]   D_i    squared deviation of the rank profile from its mean,
//	                  divided by n_i²
//	[60..249]  cov    pairwise rank covariances, strict lower triangle in
//	                  row order (1,0), (2,0), (2,1), ... (19,18)
//
// The cumulative-rank profile of symbol i assigns to each position p the
// number of occurrences of i at or before p.  Symbols absent from the
// sequence contribute zero to every block they appear in.
type NaturalVectorEncoder struct {
	table *alphabet.Table
	dim   int
	pool  sync.Pool
}

// nvScratch is the per-call working set.  Buffers are sized on first use and
// grown when a longer sequence arrives; each Encode call owns one scratch
// exclusively for its duration.
type nvScratch struct {
	idx    []int8    // dense symbol index per position
	counts []int     // occurrences per symbol
	sigma  []float64 // rank-profile sum per symbol
	theta  []float64 // rank-profile mean per symbol
	ranks  []float64 // rank rows, one per symbol, centered in place
}

// NewNaturalVector constructs the encoder.  It takes no parameters: the
// alphabet is always the 20 amino acids and the output length is always
// 3·20 + C(20,2) = 250.
func NewNaturalVector() *NaturalVectorEncoder {
	table := alphabet.Protein20()
	size := table.Size()
	e := &NaturalVectorEncoder{
		table: table,
		dim:   3*size + combination.Binomial(size, 2),
	}
	e.pool.New = func() interface{} {
		return &nvScratch{
			counts: make([]int, size),
			sigma:  make([]float64, size),
			theta:  make([]float64, size),
		}
	}
	return e
}

// Name returns the stable encoder identifier.
func (e *NaturalVectorEncoder) Name() string {
	return string(seqtypes.EncoderNaturalVector)
}

// Dimension returns 250.
func (e *NaturalVectorEncoder) Dimension() int { return e.dim }

// Alphabet returns the name of the symbol table the encoder validates
// against.
func (e *NaturalVectorEncoder) Alphabet() string { return e.table.Name() }

// Encode validates the sequence and computes its natural vector.  An empty
// sequence or one containing symbols outside the amino-acid alphabet is
// rejected before any numeric work.
func (e *NaturalVectorEncoder) Encode(sequence string) ([]float64, error) {
	if len(sequence) == 0 {
		return nil, errors.FromCode(errors.ErrCodeSequenceEmpty)
	}
	if err := e.table.Validate(sequence); err != nil {
		return nil, err
	}

	n := len(sequence)
	size := e.table.Size()

	s := e.pool.Get().(*nvScratch)
	defer e.pool.Put(s)
	s.grow(size, n)

	// Pass 1: resolve each position to its dense index and count symbols.
	for p := 0; p < n; p++ {
		i := e.table.Index(sequence[p])
		s.idx[p] = int8(i)
		s.counts[i]++
	}

	// Pass 2: build one cumulative-rank row per occurring symbol.  The rank
	// at position p is the running count of the symbol, so it steps from 0
	// up to n_i as the scan crosses each occurrence.
	for i := 0; i < size; i++ {
		if s.counts[i] == 0 {
			s.sigma[i] = 0
			s.theta[i] = 0
			continue
		}
		row := s.ranks[i*n : (i+1)*n]
		rank, sum := 0.0, 0.0
		for p := 0; p < n; p++ {
			if int(s.idx[p]) == i {
				rank++
			}
			row[p] = rank
			sum += rank
		}
		s.sigma[i] = sum
		s.theta[i] = sum / float64(n)
	}

	out := make([]float64, e.dim)

	// Counts, κ, and D blocks.  Centering each row in place here leaves the
	// deviations ready for the covariance pass.
	for i := 0; i < size; i++ {
		out[i] = float64(s.counts[i])
		if s.counts[i] == 0 {
			continue
		}
		ni := float64(s.counts[i])
		row := s.ranks[i*n : (i+1)*n]
		theta := s.theta[i]
		var dev2 float64
		for p := 0; p < n; p++ {
			d := row[p] - theta
			row[p] = d
			dev2 += d * d
		}
		out[size+i] = s.sigma[i] / ni
		out[2*size+i] = dev2 / (ni * ni)
	}

	// Covariance block: strict lower triangle, both symbols present.  Rows
	// of absent symbols are never read, so their stale pool contents are
	// harmless.
	pos := 3 * size
	for i := 1; i < size; i++ {
		for j := 0; j < i; j++ {
			if s.counts[i] > 0 && s.counts[j] > 0 {
				ri := s.ranks[i*n : (i+1)*n]
				rj := s.ranks[j*n : (j+1)*n]
				var acc float64
				for p := 0; p < n; p++ {
					acc += ri[p] * rj[p]
				}
				out[pos] = acc / (float64(s.counts[i]) * float64(s.counts[j]))
			}
			pos++
		}
	}

	return out, nil
}

// grow readies the scratch for a sequence of length n over size symbols,
// reusing prior allocations when they are large enough.
func (s *nvScratch) grow(size, n int) {
	if cap(s.idx) < n {
		s.idx = make([]int8, n)
	} else {
		s.idx = s.idx[:n]
	}
	if cap(s.ranks) < size*n {
		s.ranks = make([]float64, size*n)
	} else {
		s.ranks = s.ranks[:size*n]
	}
	for i := range s.counts {
		s.counts[i] = 0
	}
}
