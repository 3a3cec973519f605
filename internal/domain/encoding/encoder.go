// Package encoding implements the sequence embedding engines of the
// BioSeq-Intelligence platform.  Two encoder families are provided: the
// natural vector encoder, which summarizes per-symbol positional statistics
// (counts, cumulative-rank means and dispersions, pairwise rank covariances)
// into a fixed 250-length vector over the 20 amino acids, and the
// energy-entropy encoder, which aggregates Shannon self-information,
// conditional entropy, positional entropy, and window mutual information
// over symbol subsets into a configuration-length vector.
//
// Encoders are built once, hold only immutable tables plus pooled scratch
// buffers, and may encode different sequences from many goroutines
// concurrently.  Every Encode call returns a freshly allocated vector whose
// length depends on configuration alone, never on sequence content.
package encoding

import (
	"github.com/turtacn/BioSeq-Intelligence/pkg/errors"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// Default energy-entropy configuration.  With the protein alphabet this
// yields a 250-length vector, the same dimensionality the natural vector
// encoder produces.
const (
	DefaultAlphabet                = "protein"
	DefaultEnergyValues            = 2
	DefaultMutualInformationEnergy = 2
)

// Encoder converts one validated sequence into a numeric feature vector.
// Implementations are safe for concurrent use; each call owns its scratch
// state exclusively and the returned slice is never shared or retained.
type Encoder interface {
	// Name returns the stable encoder identifier used in APIs and storage.
	Name() string

	// Dimension returns the output vector length.  It is fixed at
	// construction and identical for every successful Encode call.
	Dimension() int

	// Encode validates the sequence and computes its feature vector.
	Encode(sequence string) ([]float64, error)
}

// Config carries the tunable parameters of the energy-entropy family.  The
// natural vector encoder takes no parameters and ignores it.
type Config struct {
	// Alphabet names the symbol set: "dna", "rna", or "protein".
	Alphabet string `json:"alphabet"`

	// EnergyValues bounds the subset sizes of the three energy terms:
	// k runs over 1..EnergyValues-1.  Must be at least 1.
	EnergyValues int `json:"energy_values"`

	// MutualInformationEnergy is the sliding-window width r of the mutual
	// information term.  Must be at least 1 and at most the alphabet size.
	MutualInformationEnergy int `json:"mutual_information_energy"`
}

// DefaultConfig returns the platform default encoder parameters.
func DefaultConfig() Config {
	return Config{
		Alphabet:                DefaultAlphabet,
		EnergyValues:            DefaultEnergyValues,
		MutualInformationEnergy: DefaultMutualInformationEnergy,
	}
}

// ForKind constructs the encoder matching a wire-level encoder kind.
func ForKind(kind seqtypes.EncoderKind, cfg Config) (Encoder, error) {
	switch kind {
	case seqtypes.EncoderNaturalVector:
		return NewNaturalVector(), nil
	case seqtypes.EncoderEnergyEntropy:
		e, err := NewEnergyEntropy(cfg.Alphabet, cfg.EnergyValues, cfg.MutualInformationEnergy)
		if err != nil {
			// An explicit nil keeps the interface comparable to nil on the
			// error path; forwarding e would wrap a typed nil pointer.
			return nil, err
		}
		return e, nil
	default:
		return nil, errors.FromCode(errors.ErrCodeEncoderUnsupported).
			WithDetailf("kind=%q (want %q or %q)",
				kind, seqtypes.EncoderNaturalVector, seqtypes.EncoderEnergyEntropy)
	}
}
