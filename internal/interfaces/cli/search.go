package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/turtacn/BioSeq-Intelligence/pkg/client"
)

// newSearchCommand groups metadata search and similarity queries.
func newSearchCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search sequence metadata and query nearest neighbors",
	}
	cmd.AddCommand(
		newSearchMetadataCommand(opts),
		newSearchNearestCommand(opts),
		newSearchNeighborsCommand(opts),
	)
	return cmd
}

func newSearchMetadataCommand(opts *RootOptions) *cobra.Command {
	var (
		dataset  string
		seqType  string
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "metadata QUERY",
		Short: "Full-text search over sequence names, labels, and source files",
		Args:  cobra.ExactArgs(1),
		Example: `  bioseq search metadata hemoglobin
  bioseq search metadata "kinase" --dataset sprot --type protein`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(opts)
			if err != nil {
				return err
			}
			pageRes, _, err := c.Search().Metadata(cmd.Context(), client.MetadataSearchOptions{
				Query:    args[0],
				Dataset:  dataset,
				Type:     seqType,
				Page:     page,
				PageSize: pageSize,
			})
			if err != nil {
				return err
			}
			if opts.OutputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), pageRes)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tNAME\tLABEL\tDATASET\tTYPE\tLENGTH")
			for _, hit := range pageRes.Hits {
				d := hit.Document
				fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\t%s\t%d\n",
					hit.Score, d.Name, d.Label, d.Dataset, d.Type, d.Length)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d matches (%d ms)\n", pageRes.Total, pageRes.TookMs)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&dataset, "dataset", "d", "", "restrict to one dataset")
	f.StringVar(&seqType, "type", "", "restrict to one sequence type")
	f.IntVar(&page, "page", 1, "result page")
	f.IntVar(&pageSize, "page-size", 20, "results per page")
	return cmd
}

func newSearchNearestCommand(opts *RootOptions) *cobra.Command {
	var (
		sequence string
		id       string
		encoder  string
		dataset  string
		topK     int
	)

	cmd := &cobra.Command{
		Use:   "nearest",
		Short: "Find the nearest stored sequences to a raw sequence or a stored record",
		Example: `  bioseq search nearest --sequence MVHLTPEEKSAVTALWGKV
  bioseq search nearest --id 6a1f... --encoder energy_entropy --top-k 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (sequence == "") == (id == "") {
				return fmt.Errorf("search nearest: exactly one of --sequence and --id is required")
			}
			c, err := apiClient(opts)
			if err != nil {
				return err
			}
			res, err := c.Search().Nearest(cmd.Context(), client.NearestQuery{
				SequenceID: id,
				Sequence:   sequence,
				Encoder:    encoder,
				TopK:       topK,
				Dataset:    dataset,
			})
			if err != nil {
				return err
			}
			if opts.OutputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printHits(cmd, res)
		},
	}

	f := cmd.Flags()
	f.StringVar(&sequence, "sequence", "", "raw query sequence")
	f.StringVar(&id, "id", "", "stored sequence record ID")
	f.StringVarP(&encoder, "encoder", "e", "natural_vector",
		"encoder kind: natural_vector or energy_entropy")
	f.StringVarP(&dataset, "dataset", "d", "", "restrict candidates to one dataset")
	f.IntVarP(&topK, "top-k", "k", 10, "number of neighbors")
	return cmd
}

func newSearchNeighborsCommand(opts *RootOptions) *cobra.Command {
	var (
		encoder string
		topK    int
	)

	cmd := &cobra.Command{
		Use:   "neighbors SEQUENCE_ID",
		Short: "List the stored neighbors of one sequence record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(opts)
			if err != nil {
				return err
			}
			res, err := c.Sequences().Neighbors(cmd.Context(), args[0], client.NeighborsOptions{
				Encoder: encoder,
				TopK:    topK,
			})
			if err != nil {
				return err
			}
			if opts.OutputFormat == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printHits(cmd, res)
		},
	}

	cmd.Flags().StringVarP(&encoder, "encoder", "e", "natural_vector",
		"encoder kind: natural_vector or energy_entropy")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "number of neighbors")
	return cmd
}

func printHits(cmd *cobra.Command, res *client.NearestResult) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tSEQUENCE\tDATASET\tLABEL")
	for _, hit := range res.Hits {
		fmt.Fprintf(tw, "%d\t%.4f\t%s\t%s\t%s\n",
			hit.Rank, hit.Score, hit.SequenceID, hit.Dataset, hit.Label)
	}
	return tw.Flush()
}
