package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/rookery/pkg/client"
	"github.com/spf13/cobra"
)

var leaderCmd = &cobra.Command{
	Use:   "leader",
	Short: "Find the manager holding leadership",
	Long: `Ask every given manager's gRPC health endpoint whether it holds leadership.

Example:
  rookery leader --managers m1:9122,m2:9122,m3:9122`,
	RunE: runLeader,
}

func init() {
	leaderCmd.Flags().StringSlice("managers", nil, "gRPC addresses of the managers (required)")
	leaderCmd.Flags().Duration("timeout", 2*time.Second, "Timeout per manager")
	_ = leaderCmd.MarkFlagRequired("managers")

	rootCmd.AddCommand(leaderCmd)
}

func runLeader(cmd *cobra.Command, args []string) error {
	managers, _ := cmd.Flags().GetStringSlice("managers")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	states := client.Survey(context.Background(), managers, timeout)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MANAGER\tROLE")
	for _, st := range states {
		role := "follower"
		switch {
		case st.Error != "":
			role = "error: " + st.Error
		case st.Leader:
			role = "leader"
		}
		fmt.Fprintf(tw, "%s\t%s\n", st.Addr, role)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := client.FindLeader(states)
	return err
}
