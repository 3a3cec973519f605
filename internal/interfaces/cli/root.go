// Package cli implements the bioseq command tree.  The embed command runs
// the sequence encoders locally against a file; every other command talks to
// a running API server through the SDK client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/BioSeq-Intelligence/pkg/client"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// RootOptions holds the global flags shared by every subcommand.
type RootOptions struct {
	ServerAddr   string
	APIKey       string
	OutputFormat string // "table" | "json"
	Timeout      time.Duration
}

// NewRootCommand builds the bioseq root command and mounts the subcommands.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	root := &cobra.Command{
		Use:   "bioseq",
		Short: "Biological sequence embedding toolkit",
		Long: `bioseq converts biological sequences (protein, DNA, RNA) into numeric
feature vectors and manages them on a BioSeq-Intelligence server.

The embed command runs entirely locally: it parses a FASTA/CSV/TSV file,
encodes every sequence with the selected engine, and writes the embedding
matrix as CSV.  The ingest, datasets, and search commands require a running
API server (--server).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.ServerAddr, "server", "http://localhost:8080", "API server base URL")
	pf.StringVar(&opts.APIKey, "api-key", "", "API key (empty when the server runs without auth)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "table", "output format: table or json")
	pf.DurationVar(&opts.Timeout, "timeout", 60*time.Second, "request timeout")

	root.AddCommand(
		newVersionCommand(),
		newEmbedCommand(),
		newIngestCommand(opts),
		newDatasetsCommand(opts),
		newSearchCommand(opts),
	)

	return root
}

// newVersionCommand reports build information.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "bioseq %s (commit %s, built %s)\n",
				Version, GitCommit, BuildDate)
			return nil
		},
	}
}

// apiClient builds the SDK client from the global flags.
func apiClient(opts *RootOptions) (*client.Client, error) {
	return client.NewClient(opts.ServerAddr, opts.APIKey,
		client.WithTimeout(opts.Timeout),
	)
}

// printJSON renders v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
