package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hiveplane",
	Short: "Hiveplane - multi-agent coordination daemon",
	Long: `Hiveplane coordinates fleets of coding agents: a shared registry of
agents, tasks, claims and zones, per-agent checkpoints and inboxes,
path-scoped resource locks, and soul/body identity transfers for agents
approaching their token budget.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr string
	agentID string
)

func init() {
	hostname, _ := os.Hostname()

	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&agentID, "agent", fmt.Sprintf("cli@%s", hostname), "Agent identity for CLI actions")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(soulCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
