package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nelalabs/retrievald/internal/tenant"
)

var queryK int

func init() {
	queryCmd.Flags().IntVar(&queryK, "k", 0, "number of results (default from config)")
}

var queryCmd = &cobra.Command{
	Use:   "query [text...]",
	Short: "Run a hybrid query for a tenant",
	Long: `Run a hybrid query: vector and keyword search are fused with weighted
scores, optionally re-ranked, and the top results printed.

Example:
  retrievald query --tenant acme --k 3 how do I rotate credentials`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}
		query := strings.Join(args, " ")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ranker, err := a.newRanker()
		if err != nil {
			return err
		}

		ctx := tenant.ContextWith(cmd.Context(), tenant.Info{TenantID: tenantID})
		results, err := ranker.Retrieve(ctx, tenantID, query, queryK)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}

		for _, res := range results {
			fmt.Printf("%2d. %s#%d  fused=%.4f (vector=%.4f keyword=%.4f)\n",
				res.Rank+1, res.Chunk.DocumentID, res.Chunk.ChunkIndex,
				res.FusedScore, res.VectorScore, res.KeywordScore)
			if res.Chunk.SourceName != "" {
				fmt.Printf("    source: %s\n", res.Chunk.SourceName)
			}
			fmt.Printf("    %s\n", snippet(res.Chunk.Content, 200))
		}
		return nil
	},
}

// snippet trims content to a single printable line of at most n runes.
func snippet(content string, n int) string {
	flat := strings.Join(strings.Fields(content), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "..."
}
