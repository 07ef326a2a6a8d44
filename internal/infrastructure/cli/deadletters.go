package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/messaging"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

func newDeadLettersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-letters",
		Short: "List notifications that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				store := svc.DeadLetters
				if store == nil {
					store = messaging.NewDeadLetterStore(filepath.Join(svc.Workspace.Repo.Dir(), storage.DeadLetterFile))
				}
				letters, err := store.ReadAll()
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if opts.jsonOut {
					return writeJSON(w, letters)
				}
				if len(letters) == 0 {
					fmt.Fprintln(w, "No dead letters.")
					return nil
				}
				for _, dl := range letters {
					fmt.Fprintf(w, "%s  %s  %s v%d (%s) after %d attempt(s): %s\n",
						dl.Timestamp.Local().Format(timeLayout), dl.Adapter, dl.StreamID, dl.Version, dl.EventType, dl.Attempts, statusErr.Render(dl.Error))
				}
				return nil
			})
		},
	}
}
