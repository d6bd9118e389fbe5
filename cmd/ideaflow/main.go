// Ideaflow: product ideation assistant with typed, streamed conversation blocks.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ideaflow",
	Short: "Ideaflow: agent tool resolver and streaming block relay.",
	Long: `Ideaflow serves agent types that help product teams turn ideas into plans.
Each agent type is bound to a curated set of tools; conversations stream to the
client as typed blocks (text, button groups, multi-selects) over a WebSocket.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.ideaflow/config.yaml)")
	rootCmd.AddCommand(serveCmd, catalogCmd, toolsCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
