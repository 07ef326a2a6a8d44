package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/config"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/wiring"
)

func newRebuildCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild session summaries from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				if svc.Backend.Name == config.BackendFile {
					if err := svc.Workspace.Repo.ResetSummaries(); err != nil {
						return err
					}
				}
				n, err := svc.Projector.Rebuild(ctx, svc.Backend.Records)
				if err != nil {
					return err
				}
				if opts.jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]int{"rebuilt": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %d session summary(ies)\n", n)
				return nil
			})
		},
	}
}
