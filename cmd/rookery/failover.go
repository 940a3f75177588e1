package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/storage"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/spf13/cobra"
)

var failoverCmd = &cobra.Command{
	Use:   "failover [ADDR]",
	Short: "Request a manual failover",
	Long: `Request that the leader promote a replica.

The request is written to the coordination service; the current leader
promotes the node and clears the request.

Examples:
  # Promote a specific replica
  rookery failover 10.0.0.2:6379

  # Promote any replica
  rookery failover --any`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFailover,
}

func init() {
	failoverCmd.Flags().Bool("any", false, "Promote any available replica")
	failoverCmd.Flags().Duration("wait", 0, "Wait up to this long for the leader to handle the request")
}

func failoverTarget(args []string, anyReplica bool) (string, error) {
	switch {
	case anyReplica && len(args) > 0:
		return "", fmt.Errorf("give either an address or --any, not both")
	case anyReplica:
		return types.AnyReplica, nil
	case len(args) == 0:
		return "", fmt.Errorf("an address or --any is required")
	}

	addr, err := types.ParseAddr(args[0])
	if err != nil {
		return "", err
	}
	return string(addr), nil
}

func runFailover(cmd *cobra.Command, args []string) error {
	anyReplica, _ := cmd.Flags().GetBool("any")
	wait, _ := cmd.Flags().GetDuration("wait")

	target, err := failoverTarget(args, anyReplica)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := openSharedCoordinator(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	store := storage.NewTopologyStore(c, cfg.BasePath)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second+wait)
	defer cancel()

	if err := store.RequestFailover(ctx, target); err != nil {
		return fmt.Errorf("failed to request failover: %w", err)
	}
	fmt.Printf("Failover to %s requested\n", target)

	if wait <= 0 {
		return nil
	}

	if err := waitHandled(ctx, store, wait); err != nil {
		return err
	}

	rec, err := store.ReadTopology(ctx)
	if err != nil {
		return fmt.Errorf("failed to read topology: %w", err)
	}
	fmt.Printf("Primary: %s\n", rec.Primary)
	return nil
}

// waitHandled polls until the leader has cleared the request
func waitHandled(ctx context.Context, store *storage.TopologyStore, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		_, err := store.ReadFailoverRequest(ctx)
		if errors.Is(err, coord.ErrNoNode) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read failover request: %w", err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("failover request still pending after %s; is a leader running?", wait)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
