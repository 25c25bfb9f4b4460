// Command veris-mcp is the stdio entrypoint for the context-memory MCP
// server: `serve` runs the JSON-RPC loop against configured stdin/stdout,
// `init` writes a starter config file. Exit codes follow spec.md §6:
// 0 on normal exit, 1 on configuration or startup failure.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/veris-memory/mcp-server/internal/config"
	"github.com/veris-memory/mcp-server/internal/obslog"
	"github.com/veris-memory/mcp-server/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "veris-mcp",
		Short:        "veris-memory-mcp-server: an MCP server fronting the context-memory service",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newInitCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC stdio server loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("veris-mcp: %w", err)
			}

			logger := obslog.New(obslog.ParseLevel(cfg.LogLevel), uuid.NewString())

			if err := server.Run(context.Background(), cfg, logger); err != nil {
				return fmt.Errorf("veris-mcp: %w", err)
			}
			return nil
		},
	}

	applyServeFlags(cmd.Flags(), &configPath)
	return cmd
}

func applyServeFlags(flags *pflag.FlagSet, configPath *string) {
	flags.StringVarP(configPath, "config", "c", "", "Path to a YAML config file (optional; env VERIS_* overrides, defaults otherwise)")
}

func newInitCmd() *cobra.Command {
	var outPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("veris-mcp: %s already exists (use --force to overwrite)", outPath)
				}
			}
			if err := os.WriteFile(outPath, []byte(config.DefaultYAML), 0o644); err != nil {
				return fmt.Errorf("veris-mcp: write %s: %w", outPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "config", "c", "veris-mcp.yaml", "Path to write the config file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite the file if it already exists")
	return cmd
}
