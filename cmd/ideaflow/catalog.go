package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage agent types and their tool assignments",
}

var catalogSeedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load tools, agent types and assignments from a YAML seed file",
	Long: `Apply a YAML seed file to the catalog. Seeding is idempotent:
records are matched by name and updated in place.

Example:
  ideaflow catalog seed ./catalog.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogSeed,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent types with their enabled tools",
	RunE:  runCatalogList,
}

func init() {
	catalogCmd.AddCommand(catalogSeedCmd, catalogListCmd)
}

func runCatalogSeed(_ *cobra.Command, args []string) error {
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

	if err := seedCatalog(ctx, sc.Catalog, args[0], logger); err != nil {
		return err
	}
	fmt.Printf("Seeded catalog from %s\n", args[0])
	return nil
}

func runCatalogList(_ *cobra.Command, _ []string) error {
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

	types, err := sc.Store.Catalog().ListAgentTypes(ctx)
	if err != nil {
		return fmt.Errorf("listing agent types: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMODEL\tENABLED\tDEFAULT\tTOOLS")
	for _, at := range types {
		resolved, err := sc.Resolver.Resolve(ctx, at.ID, true)
		if err != nil {
			return fmt.Errorf("resolving tools for %s: %w", at.Name, err)
		}
		names := make([]string, 0, len(resolved))
		for _, t := range resolved {
			names = append(names, t.Name)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n", at.Name, at.Model, at.Enabled, at.IsDefault, strings.Join(names, ","))
	}
	return w.Flush()
}
