package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/storage"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the recorded topology and every manager's view",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
}

// clusterStatus is what the coordination service holds for one deployment
type clusterStatus struct {
	Topology       *types.TopologyRecord        `json:"topology,omitempty" yaml:"topology,omitempty"`
	Managers       map[string]types.ManagerView `json:"managers" yaml:"managers"`
	ManualFailover string                       `json:"manual_failover,omitempty" yaml:"manual_failover,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := openSharedCoordinator(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := readStatus(ctx, storage.NewTopologyStore(c, cfg.BasePath))
	if err != nil {
		return err
	}
	return printStatus(os.Stdout, st, output)
}

func readStatus(ctx context.Context, store *storage.TopologyStore) (*clusterStatus, error) {
	st := &clusterStatus{}

	rec, err := store.ReadTopology(ctx)
	switch {
	case err == nil:
		st.Topology = rec
	case !errors.Is(err, coord.ErrNoNode):
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}

	st.Managers, err = store.ReadManagerViews(ctx)
	if err != nil {
		return nil, err
	}

	req, err := store.ReadFailoverRequest(ctx)
	switch {
	case err == nil:
		st.ManualFailover = req
	case !errors.Is(err, coord.ErrNoNode):
		return nil, fmt.Errorf("failed to read failover request: %w", err)
	}
	return st, nil
}

func printStatus(w io.Writer, st *clusterStatus, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(st); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		return printStatusTable(w, st)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func printStatusTable(w io.Writer, st *clusterStatus) error {
	if st.Topology == nil {
		fmt.Fprintln(w, "No topology recorded")
	} else {
		primary := st.Topology.Primary
		if primary == "" {
			primary = "<none>"
		}
		fmt.Fprintf(w, "Primary:     %s\n", primary)
		fmt.Fprintf(w, "Replicas:    %s\n", joinOrDash(st.Topology.Replicas))
		fmt.Fprintf(w, "Unavailable: %s\n", joinOrDash(st.Topology.Unavailable))
		if !st.Topology.UpdatedAt.IsZero() {
			fmt.Fprintf(w, "Updated:     %s\n", st.Topology.UpdatedAt.Format(time.RFC3339))
		}
	}
	if st.ManualFailover != "" {
		fmt.Fprintf(w, "Pending failover: %s\n", st.ManualFailover)
	}
	fmt.Fprintln(w)

	ids := make([]string, 0, len(st.Managers))
	for id := range st.Managers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MANAGER\tAVAILABLE\tUNAVAILABLE\tSYNCING")
	for _, id := range ids {
		v := st.Managers[id]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", id, joinAddrs(v.Available), joinAddrs(v.Unavailable), joinAddrs(v.Syncing))
	}
	return tw.Flush()
}

func joinOrDash(s []string) string {
	if len(s) == 0 {
		return "-"
	}
	return strings.Join(s, ", ")
}

func joinAddrs(addrs []types.Addr) string {
	s := make([]string, len(addrs))
	for i, a := range addrs {
		s[i] = string(a)
	}
	return joinOrDash(s)
}
