package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nelalabs/retrievald/internal/ingest"
	"github.com/nelalabs/retrievald/internal/tenant"
)

var (
	ingestDocumentID string
	ingestSourceName string
)

func init() {
	ingestCmd.Flags().StringVar(&ingestDocumentID, "document-id", "", "document identifier (defaults to the file name)")
	ingestCmd.Flags().StringVar(&ingestSourceName, "source", "", "human-readable source name (defaults to the file name)")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document for a tenant",
	Long: `Ingest a document: split it into chunks, embed each chunk through the
content-addressed cache and commit the result in atomic batches.

Reads from the file argument, or from stdin when the argument is "-".

Examples:
  retrievald ingest --tenant acme docs/runbook.md
  cat notes.txt | retrievald ingest --tenant acme --document-id notes -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}

		content, name, err := readDocument(args[0])
		if err != nil {
			return err
		}
		if ingestDocumentID == "" {
			ingestDocumentID = name
		}
		if ingestSourceName == "" {
			ingestSourceName = name
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		svc, err := a.newIngestService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx := tenant.ContextWith(cmd.Context(), tenant.Info{TenantID: tenantID})
		job, err := svc.Run(ctx, ingest.Request{
			TenantID:   tenantID,
			DocumentID: ingestDocumentID,
			SourceName: ingestSourceName,
			Content:    string(content),
		})
		if err != nil {
			return err
		}

		fmt.Printf("job:       %s\n", job.ID)
		fmt.Printf("status:    %s\n", job.Status)
		fmt.Printf("chunks:    %d/%d committed\n", job.ChunksCommitted, job.ChunksTotal)
		if job.Status != ingest.StatusCompleted {
			if job.FailedChunk >= 0 {
				fmt.Printf("failed at: chunk %d\n", job.FailedChunk)
			}
			return fmt.Errorf("ingestion %s: %s", job.Status, job.Reason)
		}
		return nil
	},
}

// readDocument loads the document from a path or stdin ("-") and derives a
// fallback name for it.
func readDocument(arg string) ([]byte, string, error) {
	if arg == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("reading stdin: %w", err)
		}
		return content, "stdin", nil
	}

	content, err := os.ReadFile(arg)
	if err != nil {
		return nil, "", fmt.Errorf("reading document: %w", err)
	}
	return content, filepath.Base(arg), nil
}
