package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/turtacn/BioSeq-Intelligence/pkg/client"
)

// newIngestCommand uploads one sequence file into a dataset on the server.
func newIngestCommand(opts *RootOptions) *cobra.Command {
	var (
		dataset        string
		format         string
		seqType        string
		sequenceColumn string
		nameColumn     string
		labelColumn    string
	)

	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Upload a sequence file into a dataset",
		Args:  cobra.ExactArgs(1),
		Example: `  bioseq ingest proteins.fasta --dataset sprot
  bioseq ingest reads.tsv --dataset run42 --type dna --seq-column seq`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(opts)
			if err != nil {
				return err
			}

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("ingest: open file: %w", err)
			}
			defer file.Close()

			res, err := c.Datasets().Ingest(cmd.Context(), client.IngestRequest{
				Dataset:        dataset,
				Filename:       filepath.Base(args[0]),
				File:           file,
				Format:         format,
				Type:           seqType,
				SequenceColumn: sequenceColumn,
				NameColumn:     nameColumn,
				LabelColumn:    labelColumn,
			})
			if err != nil {
				return err
			}

			if opts.OutputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"dataset %s: %d parsed, %d created, %d failed (%d ms)\n",
				res.Dataset, res.Total, res.Created, res.Failed, res.ElapsedMs)
			for _, f := range res.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "  row %d (%s): %s\n", f.Index, f.Name, f.Error.Message)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&dataset, "dataset", "d", "", "target dataset name")
	f.StringVar(&format, "format", "", "format override: fasta, csv, or tsv")
	f.StringVar(&seqType, "type", "", "sequence type: protein, dna, or rna")
	f.StringVar(&sequenceColumn, "seq-column", "sequence", "sequence column (CSV/TSV)")
	f.StringVar(&nameColumn, "name-column", "", "name column (CSV/TSV)")
	f.StringVar(&labelColumn, "label-column", "", "label column (CSV/TSV)")
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

// newDatasetsCommand groups dataset lifecycle operations.
func newDatasetsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "List, embed, export, and delete datasets",
	}
	cmd.AddCommand(
		newDatasetsListCommand(opts),
		newDatasetsEmbedCommand(opts),
		newDatasetsExportCommand(opts),
		newDatasetsDeleteCommand(opts),
	)
	return cmd
}

func newDatasetsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List datasets with record counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := apiClient(opts)
			if err != nil {
				return err
			}
			summaries, err := c.Datasets().List(cmd.Context())
			if err != nil {
				return err
			}
			if opts.OutputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), summaries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATASET\tRECORDS\tEMBEDDED")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Dataset, s.RecordCount, s.EmbeddedCount)
			}
			return tw.Flush()
		},
	}
}

func newDatasetsEmbedCommand(opts *RootOptions) *cobra.Command {
	var encoder string

	cmd := &cobra.Command{
		Use:   "embed DATASET",
		Short: "Queue a background embedding job for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(opts)
			if err != nil {
				return err
			}
			job, err := c.Datasets().EnqueueEmbedding(cmd.Context(), args[0], encoder)
			if err != nil {
				return err
			}
			if opts.OutputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s queued (%s, encoder %s)\n",
				job.ID, job.Status, job.Encoder)
			return nil
		},
	}
	cmd.Flags().StringVarP(&encoder, "encoder", "e", "natural_vector",
		"encoder kind: natural_vector or energy_entropy")
	return cmd
}

func newDatasetsExportCommand(opts *RootOptions) *cobra.Command {
	var (
		encoder string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export DATASET",
		Short: "Download a dataset's embedding matrix as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("export: create output: %w", err)
				}
				defer file.Close()
				out = file
			}

			n, err := c.Datasets().ExportMatrix(cmd.Context(), args[0], encoder, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&encoder, "encoder", "e", "natural_vector",
		"encoder kind: natural_vector or energy_entropy")
	cmd.Flags().StringVar(&output, "out", "", "output path (default stdout)")
	return cmd
}

func newDatasetsDeleteCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete DATASET",
		Short: "Delete a dataset from every backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("datasets delete: pass --yes to confirm removing dataset %q", args[0])
			}
			c, err := apiClient(opts)
			if err != nil {
				return err
			}
			res, err := c.Datasets().Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if opts.OutputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"dataset %s removed: %d records, %d documents, %d graph nodes, %d objects\n",
				res.Dataset, res.RemovedRecords, res.RemovedDocs, res.RemovedNodes, res.RemovedObjects)
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "  warning: %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
