package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/wiring"
)

type verifyReport struct {
	StreamID   string   `json:"stream_id"`
	Violations []string `json:"violations,omitempty"`
}

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [session...]",
		Short: "Check stored histories against the session rules",
		Long: `Replay every stream (or the given ones) and report events the status machine
would have rejected. On the file backend the hash chain of each stream file
is checked as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				ids := args
				if len(ids) == 0 {
					all, err := svc.Backend.Records.Streams(ctx)
					if err != nil {
						return err
					}
					ids = all
				}

				var reports []verifyReport
				bad := 0
				for _, id := range ids {
					rep := verifyReport{StreamID: id}
					violations, err := svc.Sessions.Audit(ctx, id)
					if err != nil {
						return err
					}
					for _, v := range violations {
						rep.Violations = append(rep.Violations, v.String())
					}
					if svc.Backend.Files != nil {
						chain, err := svc.Backend.Files.VerifyIntegrity(id)
						if err != nil {
							return err
						}
						rep.Violations = append(rep.Violations, chain...)
					}
					if len(rep.Violations) > 0 {
						bad++
					}
					reports = append(reports, rep)
				}

				w := cmd.OutOrStdout()
				if opts.jsonOut {
					if err := writeJSON(w, reports); err != nil {
						return err
					}
				} else {
					for _, rep := range reports {
						if len(rep.Violations) == 0 {
							fmt.Fprintf(w, "%s %s\n", statusDone.Render("ok  "), rep.StreamID)
							continue
						}
						fmt.Fprintf(w, "%s %s\n", statusErr.Render("FAIL"), rep.StreamID)
						for _, v := range rep.Violations {
							fmt.Fprintf(w, "     - %s\n", v)
						}
					}
					fmt.Fprintf(w, "%d stream(s) checked, %d with violations\n", len(reports), bad)
				}
				if bad > 0 {
					e := NewCLIError(fmt.Sprintf("%d stream(s) failed verification", bad), "Inspect the listed events; the log is append-only and is never repaired automatically", nil)
					e.ExitCode = 2
					return e
				}
				return nil
			})
		},
	}
}
