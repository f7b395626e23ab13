package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/sessionsync/internal/syncstate"
)

func newStateCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the sync state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print how many tool calls have been synced per task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, global)
			if err != nil {
				return err
			}
			state, err := syncstate.Read(cfg.State.Path)
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			return printState(cmd, cfg.State.Path, state)
		},
	})
	return cmd
}

func printState(cmd *cobra.Command, path string, state *syncstate.State) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State: %s (version %d)\n", path, state.Version)

	tasks := state.Tasks()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tool calls synced yet.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSYNCED CALLS")
	total := 0
	for _, id := range tasks {
		n := state.Count(id)
		total += n
		fmt.Fprintf(tw, "%s\t%d\n", id, n)
	}
	fmt.Fprintf(tw, "total\t%d\n", total)
	return tw.Flush()
}
