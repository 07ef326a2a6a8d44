package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/taskstream/pkg/application"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

type commandOutput struct {
	StreamID string              `json:"stream_id"`
	Version  int64               `json:"version"`
	Status   session.TaskStatus  `json:"status"`
	Events   []session.EventType `json:"events"`
	BlockID  string              `json:"block_id,omitempty"`
}

func printResult(w io.Writer, res *application.Result, jsonOut bool) error {
	out := commandOutput{
		StreamID: res.StreamID,
		Version:  res.Version,
		Status:   res.State.Status,
	}
	for _, ev := range res.Events {
		out.Events = append(out.Events, ev.EventType())
		if b, ok := ev.(session.TaskBlocked); ok {
			out.BlockID = b.BlockID
		}
	}
	if jsonOut {
		return writeJSON(w, out)
	}

	fmt.Fprintf(w, "Session %s is %s (version %d)\n", out.StreamID, statusStyle(out.Status).Render(string(out.Status)), out.Version)
	if out.BlockID != "" {
		fmt.Fprintf(w, "Block id: %s\n", out.BlockID)
	}
	return nil
}

// newCommandCmd builds a subcommand that sends one command to an existing session.
func newCommandCmd(opts *globalOptions, use, short string, args cobra.PositionalArgs, build func(args []string) session.Command) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				res, err := svc.Sessions.Execute(ctx, args[0], build(args))
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res, opts.jsonOut)
			})
		},
	}
}

func rest(args []string, from int) string {
	if len(args) <= from {
		return ""
	}
	return strings.Join(args[from:], " ")
}

func newStartCmd(opts *globalOptions) *cobra.Command {
	var issue session.Issue
	var summary string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Open a new task session for an issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				res, err := svc.Sessions.Start(ctx, session.StartTask{
					Issue:          issue,
					InitialSummary: summary,
					WorkspaceID:    opts.workspaceID,
					UserID:         opts.userID,
				})
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), res, opts.jsonOut)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&issue.Provider, "provider", "manual", "Issue tracker (jira, github, linear, ...)")
	f.StringVar(&issue.ID, "issue", "", "Issue id in the tracker")
	f.StringVar(&issue.Title, "title", "", "Issue title")
	f.StringVar(&issue.URL, "url", "", "Issue URL")
	f.StringVarP(&summary, "summary", "m", "", "Initial summary")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newProgressCmd(opts *globalOptions) *cobra.Command {
	return newCommandCmd(opts, "progress <session> <summary...>", "Report progress on a session",
		cobra.MinimumNArgs(2), func(args []string) session.Command {
			return session.AddProgress{Summary: rest(args, 1)}
		})
}

func newBlockCmd(opts *globalOptions) *cobra.Command {
	return newCommandCmd(opts, "block <session> <reason...>", "Report a block",
		cobra.MinimumNArgs(2), func(args []string) session.Command {
			return session.ReportBlock{Reason: rest(args, 1)}
		})
}

func newResolveCmd(opts *globalOptions) *cobra.Command {
	return newCommandCmd(opts, "resolve <session> <block-id>", "Resolve an open block",
		cobra.ExactArgs(2), func(args []string) session.Command {
			return session.ResolveBlock{BlockID: args[1]}
		})
}

func newPauseCmd(opts *globalOptions) *cobra.Command {
	return newCommandCmd(opts, "pause <session> [reason...]", "Pause a session",
		cobra.MinimumNArgs(1), func(args []string) session.Command {
			return session.PauseTask{Reason: rest(args, 1)}
		})
}

func newResumeCmd(opts *globalOptions) *cobra.Command {
	return newCommandCmd(opts, "resume <session> [summary...]", "Resume a paused session",
		cobra.MinimumNArgs(1), func(args []string) session.Command {
			return session.ResumeTask{Summary: rest(args, 1)}
		})
}

func newCompleteCmd(opts *globalOptions) *cobra.Command {
	return newCommandCmd(opts, "complete <session> [summary...]", "Complete a session",
		cobra.MinimumNArgs(1), func(args []string) session.Command {
			return session.CompleteTask{Summary: rest(args, 1)}
		})
}

func newCancelCmd(opts *globalOptions) *cobra.Command {
	return newCommandCmd(opts, "cancel <session> [reason...]", "Cancel a session",
		cobra.MinimumNArgs(1), func(args []string) session.Command {
			return session.CancelTask{Reason: rest(args, 1)}
		})
}

func newLinkThreadCmd(opts *globalOptions) *cobra.Command {
	return newCommandCmd(opts, "link-thread <session> <channel> <thread-ts>", "Link a Slack thread to a session",
		cobra.ExactArgs(3), func(args []string) session.Command {
			return session.LinkSlackThread{Channel: args[1], ThreadTS: args[2]}
		})
}
