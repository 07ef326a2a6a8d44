package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/metrics"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/sse"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/watch"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var debounce time.Duration
	var replay bool
	var listen string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow events as they are appended",
		Long: `Print events as other processes append them to the workspace's stream files.
With --listen (or metrics.addr in the config) an HTTP server exposes
/metrics and an /events Server-Sent Events feed of the same records.
Requires the file backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withServices(cmd, func(ctx context.Context, svc *wiring.AppServices) error {
				if svc.Backend.Files == nil {
					return NewCLIError("watch requires the file backend", "Set store.backend to 'file' in .taskstream/config.yaml", nil)
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()

				w := cmd.OutOrStdout()
				feed := sse.NewHandler()
				tail := watch.NewTail(svc.Backend.Files.Dir(), svc.Backend.Files, debounce, func(r events.Record) {
					feed.Publish(r)
					fmt.Fprintf(w, "%s  %s  v%d  %-20s %s\n",
						r.CreatedAt.Local().Format(timeLayout), r.StreamID, r.Version, r.Type, r.Summary)
				}, svc.Workspace.Logger)
				if !replay {
					if err := tail.Skip(ctx); err != nil {
						return err
					}
				}

				fmt.Fprintf(w, "Watching %s (Ctrl+C to stop)\n", svc.Backend.Files.Dir())
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error { return tail.Run(ctx) })
				if listen == "" {
					listen = svc.Workspace.Config.Metrics.Addr
				}
				if listen != "" {
					mux := http.NewServeMux()
					mux.Handle("/metrics", metrics.Handler(svc.Registry))
					mux.Handle("/events", feed)
					svc.Workspace.Logger.Info("serving metrics and event feed", "addr", listen)
					g.Go(func() error { return metrics.Serve(ctx, listen, mux) })
				}
				if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "Wait this long for writes to settle")
	cmd.Flags().BoolVar(&replay, "replay", false, "Print existing events first")
	cmd.Flags().StringVar(&listen, "listen", "", "Address for /metrics and /events (defaults to metrics.addr)")
	return cmd
}
