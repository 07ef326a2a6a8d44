// Package cli implements the taskstream command line.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	projectPath string
	workspaceID string
	userID      string
	jsonOut     bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:     "taskstream",
		Version: Version,
		Short:   "Event-sourced task sessions",
		Long: `taskstream records the life of a task session as an append-only event stream.

Every change (progress, blocks, pauses, completion) is a command that is
validated against the session status machine and stored as an event.
Current state is always derived by replaying the stream.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.projectPath, "project", "C", "", "Workspace root (defaults to the current directory)")
	pf.StringVar(&opts.workspaceID, "workspace", "", "Workspace id that scopes sessions")
	pf.StringVar(&opts.userID, "user", "", "User id that scopes sessions")
	pf.BoolVar(&opts.jsonOut, "json", false, "Output JSON")

	root.AddCommand(
		newInitCmd(opts),
		newStartCmd(opts),
		newProgressCmd(opts),
		newBlockCmd(opts),
		newResolveCmd(opts),
		newPauseCmd(opts),
		newResumeCmd(opts),
		newCompleteCmd(opts),
		newCancelCmd(opts),
		newLinkThreadCmd(opts),
		newShowCmd(opts),
		newListCmd(opts),
		newEventsCmd(opts),
		newBlocksCmd(opts),
		newVerifyCmd(opts),
		newWatchCmd(opts),
		newReportCmd(opts),
		newRebuildCmd(opts),
		newDeadLettersCmd(opts),
	)
	return root
}

// Execute runs the command line. Hints attached to a CLIError are printed
// after cobra's error line.
func Execute() error {
	err := NewRootCmd().Execute()
	var cliErr *CLIError
	if errors.As(err, &cliErr) && cliErr.Hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", cliErr.Hint)
	}
	return err
}
