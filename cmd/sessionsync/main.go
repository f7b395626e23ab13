// Sessionsync forwards tool calls from agent session transcripts to the
// activity log of the tracker tasks they mention.
//
// Usage:
//
//	# Sync today's sessions
//	sessionsync
//
//	# Show what would be posted
//	sessionsync --dry-run
//
//	# Keep syncing as transcripts change
//	sessionsync watch --listen localhost:9464
//
// Configuration is read from ~/.config/sessionsync/config.yaml and
// SESSIONSYNC_* environment variables; flags override both.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "sessionsync failed: %v\n", err)
		return 1
	}
	return 0
}

// globalFlags override configuration for every command.
type globalFlags struct {
	configPath string
	apiBase    string
	agentsDir  string
	statePath  string
	user       string
	logLevel   string
}

// runFlags select the mode of a single sync.
type runFlags struct {
	dryRun bool
	now    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var global globalFlags
	var run runFlags

	root := &cobra.Command{
		Use:   "sessionsync",
		Short: "Forward agent session tool calls to tracker tasks",
		Long: `sessionsync reads today's agent session transcripts, finds the sessions that
mention each task in the tracker's doing column, and posts every tool call in
those sessions to the task's activity log exactly once.

Running without a subcommand is the same as "sessionsync run".`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, &global, &run)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&global.configPath, "config", "", "config file (default ~/.config/sessionsync/config.yaml)")
	pf.StringVar(&global.apiBase, "api", "", "tracker API base URL")
	pf.StringVar(&global.agentsDir, "agents-dir", "", "directory holding <agent>/sessions/*.jsonl")
	pf.StringVar(&global.statePath, "state", "", "sync state file")
	pf.StringVar(&global.user, "user", "", "user recorded on posted activity")
	pf.StringVar(&global.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	addRunFlags(root, &run)

	root.AddCommand(
		newRunCmd(&global),
		newWatchCmd(&global),
		newStateCmd(&global),
		newVersionCmd(),
	)
	return root
}

func addRunFlags(cmd *cobra.Command, run *runFlags) {
	cmd.Flags().BoolVar(&run.dryRun, "dry-run", false, "report what would be posted without posting or saving state")
	cmd.Flags().StringVar(&run.now, "now", "", "sync the day containing this RFC3339 time instead of today")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sessionsync by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
