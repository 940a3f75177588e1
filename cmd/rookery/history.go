package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/rookery/pkg/events"
	"github.com/cuemby/rookery/pkg/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent failover events",
	Long: `Show recent failover events recorded by a manager.

Without --api the journal in data_dir is read directly, which only works
while that manager is stopped. With --api the events are fetched from a
running manager's HTTP endpoint.

Examples:
  rookery history -n 20
  rookery history --api http://manager-1:9121 -o json`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntP("limit", "n", 50, "Number of events to show")
	historyCmd.Flags().String("api", "", "Base URL of a running manager's HTTP endpoint")
	historyCmd.Flags().StringP("output", "o", "table", "Output format: table, json or yaml")
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	apiURL, _ := cmd.Flags().GetString("api")
	output, _ := cmd.Flags().GetString("output")

	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	var (
		list []*events.Event
		err  error
	)
	if apiURL != "" {
		list, err = fetchHistory(apiURL, limit)
	} else {
		list, err = readJournal(cmd, limit)
	}
	if err != nil {
		return err
	}
	return printHistory(os.Stdout, list, output)
}

func readJournal(cmd *cobra.Command, limit int) ([]*events.Event, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	journal, err := storage.OpenJournal(cfg.DataDir, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w (is the manager running? use --api)", err)
	}
	defer journal.Close()

	return journal.List(limit)
}

func fetchHistory(base string, limit int) ([]*events.Event, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/history?limit=%d", strings.TrimRight(base, "/"), limit)

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("failed to fetch history: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var list []*events.Event
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return list, nil
}

func printHistory(w io.Writer, list []*events.Event, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case "yaml":
		return yaml.NewEncoder(w).Encode(list)
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", output)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No events recorded")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tNODE\tMESSAGE")
	for _, e := range list {
		node := e.Node
		if node == "" {
			node = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Type, node, e.Message)
	}
	return tw.Flush()
}
