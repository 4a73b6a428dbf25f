package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDeployCmd creates the deploy subcommand.
func newDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the engine schema bundle",
		Long: `Deploy posts the zipped schema bundle to the engine's config server.
The operation is idempotent and preserves stored data; schema changes that
conflict with existing data fail.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			index := buildEngineIndex()
			if err := index.EnsureIndicesExist(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("schema bundle deployed")
			return nil
		},
	}
}
