package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nelalabs/retrievald/internal/tenant"
)

var deleteDocumentID string

func init() {
	deleteCmd.Flags().StringVar(&deleteDocumentID, "document-id", "", "document identifier")
	_ = deleteCmd.MarkFlagRequired("document-id")
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a document's chunks for a tenant",
	Long: `Delete every committed chunk of a document. The embedding cache is left
alone: cached vectors are content-addressed and may serve other documents.

Example:
  retrievald delete --tenant acme --document-id runbook.md`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireTenant(); err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := tenant.ContextWith(cmd.Context(), tenant.Info{TenantID: tenantID})
		removed, err := a.store.DeleteDocument(ctx, tenantID, deleteDocumentID)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d chunks of %s\n", removed, deleteDocumentID)
		return nil
	},
}
