package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
)

type completedSession struct {
	projection.SessionSummary
	Duration string `json:"duration,omitempty"`
}

// reportWindow parses --from/--to. An empty from is the start of today and
// an empty to is one day after from.
func reportWindow(from, to string, now time.Time) (time.Time, time.Time, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if from != "" {
		t, err := time.ParseInLocation(time.DateOnly, from, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
		}
		start = t
	}
	end := start.AddDate(0, 0, 1)
	if to != "" {
		t, err := time.ParseInLocation(time.DateOnly, to, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
		end = t
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to must be after --from")
	}
	return start, end, nil
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Sessions completed in a time window",
		Long:  "List the workspace's sessions completed in [--from, --to), defaulting to today.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := reportWindow(from, to, time.Now())
			if err != nil {
				return err
			}

			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				sums, err := svc.Backend.Reader.CompletedSessions(ctx, opts.workspaceID, start, end)
				if err != nil {
					return err
				}

				out := make([]completedSession, 0, len(sums))
				for _, s := range sums {
					c := completedSession{SessionSummary: s}
					d, ok, err := svc.Backend.Reader.CompletionDuration(ctx, s.ID)
					if err != nil {
						return err
					}
					if ok {
						c.Duration = d.Round(time.Minute).String()
					}
					out = append(out, c)
				}

				w := cmd.OutOrStdout()
				if opts.jsonOut {
					return writeJSON(w, out)
				}
				fmt.Fprintf(w, "Completed %s to %s: %d session(s)\n", start.Format(time.DateOnly), end.Format(time.DateOnly), len(out))
				if len(out) == 0 {
					return nil
				}
				columns := []table.Column{
					{Title: "ID", Width: 36},
					{Title: "Title", Width: 40},
					{Title: "Completed", Width: 16},
					{Title: "Took", Width: 10},
				}
				rows := make([]table.Row, 0, len(out))
				for _, c := range out {
					rows = append(rows, table.Row{
						c.ID,
						truncate(c.Title, 40),
						c.CompletedAt.Local().Format(timeLayout),
						c.Duration,
					})
				}
				fmt.Fprintln(w, staticTable(columns, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Start date (YYYY-MM-DD), inclusive")
	cmd.Flags().StringVar(&to, "to", "", "End date (YYYY-MM-DD), exclusive")
	return cmd
}
