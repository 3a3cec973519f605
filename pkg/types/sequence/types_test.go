package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceType_Validate(t *testing.T) {
	assert.NoError(t, TypeProtein.Validate())
	assert.NoError(t, TypeDNA.Validate())
	assert.NoError(t, TypeRNA.Validate())
	assert.Error(t, SequenceType("peptide").Validate())
	assert.Error(t, SequenceType("").Validate())
}

func TestSequenceType_AlphabetSize(t *testing.T) {
	assert.Equal(t, 20, TypeProtein.AlphabetSize())
	assert.Equal(t, 4, TypeDNA.AlphabetSize())
	assert.Equal(t, 4, TypeRNA.AlphabetSize())
	assert.Equal(t, 0, SequenceType("bogus").AlphabetSize())
}

func TestEncoderKind_Validate(t *testing.T) {
	assert.NoError(t, EncoderNaturalVector.Validate())
	assert.NoError(t, EncoderEnergyEntropy.Validate())
	assert.Error(t, EncoderKind("tfidf").Validate())
}
