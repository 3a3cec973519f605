package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/BioSeq-Intelligence/internal/domain/encoding"
	"github.com/turtacn/BioSeq-Intelligence/internal/infrastructure/ingest"
	seqtypes "github.com/turtacn/BioSeq-Intelligence/pkg/types/sequence"
)

// embedOptions holds the flags of the embed command.
type embedOptions struct {
	input          string
	output         string
	encoder        string
	format         string
	sequenceColumn string
	nameColumn     string
	labelColumn    string
	alphabet       string
	energyValues   int
	miEnergy       int
}

// newEmbedCommand builds the offline encoding command.  It needs no server:
// the file is parsed and encoded in-process and the matrix written as CSV
// with one row per sequence (name, label, v0..vD-1).
func newEmbedCommand() *cobra.Command {
	opts := &embedOptions{}

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Encode a sequence file into an embedding matrix (local, no server)",
		Example: `  bioseq embed -i proteins.fasta -e natural_vector --out matrix.csv
  bioseq embed -i reads.csv -e energy_entropy --alphabet dna \
      --seq-column sequence --name-column id --label-column family`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEmbed(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "input file (.fasta, .fa, .faa, .fna, .csv, .tsv)")
	f.StringVar(&opts.output, "out", "", "output CSV path (default stdout)")
	f.StringVarP(&opts.encoder, "encoder", "e", string(seqtypes.EncoderNaturalVector),
		"encoder kind: natural_vector or energy_entropy")
	f.StringVar(&opts.format, "format", "", "input format override: fasta, csv, or tsv")
	f.StringVar(&opts.sequenceColumn, "seq-column", "sequence", "sequence column (CSV/TSV)")
	f.StringVar(&opts.nameColumn, "name-column", "", "name column (CSV/TSV; empty uses the row index)")
	f.StringVar(&opts.labelColumn, "label-column", "", "label column (CSV/TSV)")
	f.StringVar(&opts.alphabet, "alphabet", encoding.DefaultAlphabet,
		"energy-entropy alphabet: dna, rna, or protein")
	f.IntVar(&opts.energyValues, "energy-values", encoding.DefaultEnergyValues,
		"energy-entropy subset bound (k runs over 1..n-1)")
	f.IntVar(&opts.miEnergy, "mi-energy", encoding.DefaultMutualInformationEnergy,
		"energy-entropy mutual-information window width")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runEmbed(cmd *cobra.Command, opts *embedOptions) error {
	enc, err := encoding.ForKind(seqtypes.EncoderKind(opts.encoder), encoding.Config{
		Alphabet:                opts.alphabet,
		EnergyValues:            opts.energyValues,
		MutualInformationEnergy: opts.miEnergy,
	})
	if err != nil {
		return err
	}

	format := ingest.Format(opts.format)
	if opts.format == "" {
		if format, err = ingest.DetectFormat(opts.input); err != nil {
			return err
		}
	}

	in, err := os.Open(opts.input)
	if err != nil {
		return fmt.Errorf("embed: open input: %w", err)
	}
	defer in.Close()

	rows, err := ingest.Parse(in, format, ingest.DelimitedOptions{
		SequenceColumn: opts.sequenceColumn,
		NameColumn:     opts.nameColumn,
		LabelColumn:    opts.labelColumn,
	})
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if opts.output != "" {
		file, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("embed: create output: %w", err)
		}
		defer file.Close()
		out = file
	}

	encoded, failed, err := writeMatrix(out, enc, rows)
	if err != nil {
		return err
	}
	for _, f := range failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %q: %v\n", f.name, f.err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "encoded %d of %d sequences (%s, dimension %d)\n",
		encoded, len(rows), enc.Name(), enc.Dimension())
	return nil
}

// embedFailure is one input row the encoder rejected.
type embedFailure struct {
	name string
	err  error
}

// writeMatrix encodes every row and streams the matrix as CSV.  Rejected
// rows are collected, not fatal, matching the server-side batch policy.
func writeMatrix(w io.Writer, enc encoding.Encoder, rows []ingest.RawSequence) (int, []embedFailure, error) {
	cw := csv.NewWriter(w)

	header := make([]string, 2, 2+enc.Dimension())
	header[0], header[1] = "name", "label"
	for i := 0; i < enc.Dimension(); i++ {
		header = append(header, "v"+strconv.Itoa(i))
	}
	if err := cw.Write(header); err != nil {
		return 0, nil, fmt.Errorf("embed: write header: %w", err)
	}

	var failed []embedFailure
	encoded := 0
	record := make([]string, 0, len(header))
	for _, row := range rows {
		vec, err := enc.Encode(row.Residues)
		if err != nil {
			failed = append(failed, embedFailure{name: row.Name, err: err})
			continue
		}
		record = record[:0]
		record = append(record, row.Name, row.Label)
		for _, v := range vec {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(record); err != nil {
			return encoded, failed, fmt.Errorf("embed: write row %q: %w", row.Name, err)
		}
		encoded++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return encoded, failed, fmt.Errorf("embed: flush: %w", err)
	}
	return encoded, failed, nil
}
