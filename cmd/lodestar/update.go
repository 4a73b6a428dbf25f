package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lodestar-kb/lodestar/internal/indexing"
)

// newUpdateCmd creates the update subcommand.
func newUpdateCmd() *cobra.Command {
	var (
		boost        float64
		hidden       bool
		access       []string
		documentSets []string
	)

	cmd := &cobra.Command{
		Use:   "update [document-id...]",
		Short: "Update chunk metadata for documents in place",
		Long: `Update assigns boost, hidden, access, or document-set values on every
chunk of the named documents without re-embedding.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := indexing.UpdateRequest{DocumentIDs: args}
			if cmd.Flags().Changed("boost") {
				req.Boost = &boost
			}
			if cmd.Flags().Changed("hidden") {
				req.Hidden = &hidden
			}
			if cmd.Flags().Changed("access") {
				req.Access = access
			}
			if cmd.Flags().Changed("document-set") {
				req.DocumentSets = documentSets
			}

			index := buildEngineIndex()
			if err := index.Update(cmd.Context(), []indexing.UpdateRequest{req}); err != nil {
				return err
			}
			fmt.Printf("updated %d documents\n", len(args))
			return nil
		},
	}

	cmd.Flags().Float64Var(&boost, "boost", 1.0, "boost value to assign")
	cmd.Flags().BoolVar(&hidden, "hidden", false, "hidden flag to assign")
	cmd.Flags().StringSliceVar(&access, "access", nil, "access control entries to assign")
	cmd.Flags().StringSliceVar(&documentSets, "document-set", nil, "document sets to assign")

	return cmd
}

// newDeleteCmd creates the delete subcommand.
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [document-id...]",
		Short: "Delete documents and all their chunks from the engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index := buildEngineIndex()
			if err := index.Delete(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Printf("deleted %d documents\n", len(args))
			return nil
		},
	}
}
