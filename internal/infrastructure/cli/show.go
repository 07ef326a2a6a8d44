package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
)

const timeLayout = "2006-01-02 15:04"

type showOutput struct {
	Session projection.SessionSummary `json:"session"`
	Blocks  []projection.BlockRecord  `json:"unresolved_blocks"`
	Recent  []events.Record           `json:"recent_events"`
}

func newShowCmd(opts *globalOptions) *cobra.Command {
	var recent int
	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Show a session with its open blocks and recent events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				id := args[0]
				sum, ok, err := svc.Backend.Reader.FindSession(ctx, id, opts.workspaceID, opts.userID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: %s", session.ErrStreamNotFound, id)
				}

				blocks, err := svc.Backend.Reader.UnresolvedBlocks(ctx, id)
				if err != nil {
					return err
				}
				records, err := svc.Backend.Reader.ListEvents(ctx, id, projection.EventFilter{Limit: recent})
				if err != nil {
					return err
				}

				out := showOutput{Session: sum, Blocks: blocks[id], Recent: records}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), out)
				}
				printSession(cmd, out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&recent, "recent", 5, "Number of recent events to show")
	return cmd
}

func printSession(cmd *cobra.Command, out showOutput) {
	w := cmd.OutOrStdout()
	s := out.Session
	fmt.Fprintln(w, headerStyle.Render(s.Title))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Session: "), s.ID)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Status:  "), statusStyle(s.Status).Render(s.Status.DisplayName()))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Issue:   "), s.Provider)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Started: "), s.CreatedAt.Local().Format(timeLayout))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Updated: "), s.UpdatedAt.Local().Format(timeLayout))
	if s.CompletedAt != nil {
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Done:    "), s.CompletedAt.Local().Format(timeLayout))
	}
	if s.SlackChannel != "" {
		fmt.Fprintf(w, "%s %s/%s\n", labelStyle.Render("Thread:  "), s.SlackChannel, s.SlackThreadTS)
	}
	if s.LastSummary != "" {
		fmt.Fprintf(w, "\n%s\n", s.LastSummary)
	}

	if len(out.Blocks) > 0 {
		fmt.Fprintf(w, "\n%s\n", statusErr.Render(fmt.Sprintf("Unresolved blocks (%d)", len(out.Blocks))))
		for _, b := range out.Blocks {
			fmt.Fprintf(w, "  %s  %s\n", b.ID, b.Reason)
		}
	}
	if len(out.Recent) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, eventTable(out.Recent))
	}
}

func eventTable(records []events.Record) string {
	columns := []table.Column{
		{Title: "V", Width: 4},
		{Title: "When", Width: 16},
		{Title: "Type", Width: 20},
		{Title: "Summary", Width: 50},
	}
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, table.Row{
			strconv.FormatInt(r.Version, 10),
			r.CreatedAt.Local().Format(timeLayout),
			string(r.Type),
			truncate(r.Summary, 50),
		})
	}
	return staticTable(columns, rows)
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var statuses []string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := projection.SessionFilter{
				WorkspaceID: opts.workspaceID,
				UserID:      opts.userID,
				Limit:       limit,
			}
			for _, s := range statuses {
				st, err := session.ParseTaskStatus(s)
				if err != nil {
					return err
				}
				filter.Statuses = append(filter.Statuses, st)
			}

			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				sums, err := svc.Backend.Reader.ListSessions(ctx, filter)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), sums)
				}
				if len(sums) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
					return nil
				}

				columns := []table.Column{
					{Title: "ID", Width: 36},
					{Title: "Status", Width: 12},
					{Title: "Title", Width: 40},
					{Title: "Updated", Width: 16},
				}
				rows := make([]table.Row, 0, len(sums))
				for _, s := range sums {
					rows = append(rows, table.Row{
						s.ID,
						string(s.Status),
						truncate(s.Title, 40),
						s.UpdatedAt.Local().Format(timeLayout),
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sessions (%d)\n", len(sums))
				fmt.Fprintln(cmd.OutOrStdout(), staticTable(columns, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only sessions with these statuses")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of sessions")
	return cmd
}

func newEventsCmd(opts *globalOptions) *cobra.Command {
	var types []string
	var limit int
	var all bool
	cmd := &cobra.Command{
		Use:   "events <session>",
		Short: "Show a session's event timeline, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := projection.EventFilter{Limit: limit, IncludeInternal: all}
			for _, t := range types {
				filter.Types = append(filter.Types, session.EventType(t))
			}

			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				records, err := svc.Backend.Reader.ListEvents(ctx, args[0], filter)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), records)
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No events.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), eventTable(records))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only events of these types")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events")
	cmd.Flags().BoolVar(&all, "all", false, "Include internal bookkeeping events")
	return cmd
}

func newBlocksCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "blocks [session...]",
		Short: "List unresolved blocks",
		Long:  "List unresolved blocks of the given sessions, or of every blocked session in scope.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				ids := args
				if len(ids) == 0 {
					sums, err := svc.Backend.Reader.ListSessions(ctx, projection.SessionFilter{
						WorkspaceID: opts.workspaceID,
						UserID:      opts.userID,
						Statuses:    []session.TaskStatus{session.StatusBlocked},
					})
					if err != nil {
						return err
					}
					for _, s := range sums {
						ids = append(ids, s.ID)
					}
				}

				blocks, err := svc.Backend.Reader.UnresolvedBlocks(ctx, ids...)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), blocks)
				}
				if len(blocks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No unresolved blocks.")
					return nil
				}

				w := cmd.OutOrStdout()
				for _, id := range ids {
					bs, ok := blocks[id]
					if !ok {
						continue
					}
					fmt.Fprintln(w, headerStyle.Render(id))
					for _, b := range bs {
						fmt.Fprintf(w, "  %s  %s  %s\n", b.ID, b.CreatedAt.Local().Format(time.DateTime), b.Reason)
					}
				}
				return nil
			})
		},
	}
}
