// auto-agent-harness is the command-line entry point for the harness.
//
// Usage:
//
//	auto-agent-harness serve                          # start the daemon (MCP + control API)
//	auto-agent-harness project create|list|get|rm|update-spec  # manage projects (no separate import subcommand)
//	auto-agent-harness run start|cancel                # trigger/cancel a project run
//	auto-agent-harness redesign start|approve|cancel   # trigger/drive a redesign session
//	auto-agent-harness update                          # self-update
//	auto-agent-harness version
//
// Every subcommand except "serve", "update" and "version" is a thin JSON-over-HTTP
// client against the control API "serve" exposes (spec.md §6); exit
// codes follow spec.md §6: 0 clean, 1 usage error, 2 runtime error, 3
// conflict.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	harness "github.com/nek1987/auto-agent-harness/internal/server"
	"github.com/nek1987/auto-agent-harness/internal/updater"
)

const (
	exitUsage    = 1
	exitRuntime  = 2
	exitConflict = 3
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newRootCmd() *cobra.Command {
	var apiAddr string

	root := &cobra.Command{
		Use:           "auto-agent-harness",
		Short:         "Turns a natural-language app spec into a tracked backlog and drives Claude Code to build it",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&apiAddr, "api", envOr("AUTO_AGENT_API", "http://localhost:8090"), "control API base URL")

	root.AddCommand(newServeCmd())
	root.AddCommand(newUpdateCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newProjectCmd(&apiAddr))
	root.AddCommand(newRunCmd(&apiAddr))
	root.AddCommand(newRedesignCmd(&apiAddr))

	return root
}

func newServeCmd() *cobra.Command {
	var listenAddr, dataDir, allowedRoot, skillManifest, claudeBinary string
	var maxConcurrent int64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the harness daemon: MCP tool surface + control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := harness.Config{
				DataDir:           envOr("DATA_DIR", dataDir),
				AllowedRoot:       envOr("ALLOWED_ROOT_DIRECTORY", allowedRoot),
				ListenAddr:        listenAddr,
				SkillManifestPath: skillManifest,
				MaxConcurrentRuns: maxConcurrent,
				ClaudeBinary:      envOr("CLAUDE_BINARY", claudeBinary),
			}
			h, cleanup, err := harness.New(cfg)
			if err != nil {
				return runtimeErr(err)
			}
			defer cleanup()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			if err := h.ListenAndServe(ctx); err != nil {
				return runtimeErr(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", envOr("LISTEN_ADDR", ":8090"), "address to serve the MCP/control API on")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./.auto-agent-harness", "directory for registry.db and the run log")
	cmd.Flags().StringVar(&allowedRoot, "allowed-root", "", "workspace paths must fall under this directory")
	cmd.Flags().StringVar(&skillManifest, "skills", "", "path to the skills manifest YAML")
	cmd.Flags().Int64Var(&maxConcurrent, "max-concurrent-runs", 4, "worker pool capacity for subprocess runs")
	cmd.Flags().StringVar(&claudeBinary, "claude-binary", "claude", "binary the out-of-band spec planner/extractor shells out to")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the harness version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("auto-agent-harness v%s\n", harness.Version)
			return nil
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Self-update to the latest released version",
		RunE: func(cmd *cobra.Command, args []string) error {
			result := updater.CheckVersion(harness.Version)
			if !result.UpdateAvailable {
				fmt.Printf("already at the latest version (v%s)\n", result.CurrentVersion)
				return nil
			}
			fmt.Printf("updating v%s -> v%s...\n", result.CurrentVersion, result.LatestVersion)
			if err := updater.SelfUpdate(harness.Version); err != nil {
				return runtimeErr(fmt.Errorf("update failed: %w (download manually: %s)", err, result.ReleaseURL))
			}
			fmt.Printf("updated to v%s, restart to use it\n", result.LatestVersion)
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
