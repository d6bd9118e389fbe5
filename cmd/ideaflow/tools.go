package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var resolveAll bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect the tools an agent type resolves to",
}

var toolsResolveCmd = &cobra.Command{
	Use:   "resolve <agent-type>",
	Short: "Print the effective tool set of an agent type as JSON",
	Long: `Print the ordered, specialized tool set the model would receive for an
agent type. Disabled tools and assignments are hidden unless --all is set.

Example:
  ideaflow tools resolve ideation
  ideaflow tools resolve ideation --all`,
	Args: cobra.ExactArgs(1),
	RunE: runToolsResolve,
}

func init() {
	toolsResolveCmd.Flags().BoolVar(&resolveAll, "all", false, "include disabled tools and assignments")
	toolsCmd.AddCommand(toolsResolveCmd)
}

func runToolsResolve(_ *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	sc, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	at, err := sc.Store.Catalog().AgentTypeByName(ctx, args[0])
	if err != nil {
		return fmt.Errorf("agent type %q: %w", args[0], err)
	}
	resolved, err := sc.Resolver.Resolve(ctx, at.ID, !resolveAll)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(resolved, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tools: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
