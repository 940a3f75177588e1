package main

import (
	"fmt"
	"os"

	"github.com/cuemby/rookery/pkg/config"
	"github.com/cuemby/rookery/pkg/coord"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rookery",
	Short: "Rookery - automatic failover for replicated Redis",
	Long: `Rookery watches a Redis primary and its replicas from several manager
processes. The managers elect a leader through etcd; the leader combines
every manager's view of the nodes and promotes a replica when the primary
is unreachable by a majority.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Rookery version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file (default ./rookery.yaml or /etc/rookery/rookery.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(failoverCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadConfig(path)
}

// openCoordinator connects to the configured coordination service
func openCoordinator(cfg *config.Config) (coord.Coordinator, error) {
	switch cfg.Coordinator.Backend {
	case config.BackendMemory:
		return coord.NewMemory(), nil
	default:
		c, err := coord.NewEtcd(cfg.EtcdConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to etcd: %w", err)
		}
		return c, nil
	}
}

// openSharedCoordinator is openCoordinator for commands that talk to running
// managers, which an in-process memory backend cannot reach
func openSharedCoordinator(cfg *config.Config) (coord.Coordinator, error) {
	if cfg.Coordinator.Backend == config.BackendMemory {
		return nil, fmt.Errorf("the memory coordinator is private to one process; configure the etcd backend")
	}
	return openCoordinator(cfg)
}
