// Package wiring assembles stores and services from workspace configuration.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/cache"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/config"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/messaging"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/metrics"
	"github.com/felixgeelhaar/taskstream/pkg/application"
	"github.com/felixgeelhaar/taskstream/pkg/domain/events"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
	"github.com/felixgeelhaar/taskstream/pkg/storage/driver"
)

// Backend is the storage selected by configuration.
type Backend struct {
	Name      string
	Store     events.Store
	Records   events.RecordReader
	Summaries projection.SummaryStore
	Reader    projection.Reader
	// Files is set for the file backend, which supports integrity checks
	// and tailing.
	Files *storage.FileEventStore
	close func() error
}

// AppServices exposes the services wired together for a workspace.
type AppServices struct {
	Workspace   *Workspace
	Backend     *Backend
	Sessions    *application.SessionService
	Projector   *application.Projector
	Dispatcher  *events.Dispatcher
	Notifier    application.Notifier
	Relay       *application.NotificationRelay
	DeadLetters *messaging.DeadLetterStore
	Metrics     *metrics.Recorder
	Registry    *prometheus.Registry
	Cache       *cache.SummaryCache
}

// BuildAppServices loads the workspace at root and wires its services.
func BuildAppServices(ctx context.Context, ws *Workspace) (*AppServices, error) {
	backend, err := OpenBackend(ctx, ws)
	if err != nil {
		return nil, err
	}
	svc := &AppServices{
		Workspace:  ws,
		Backend:    backend,
		Dispatcher: events.NewDispatcher(),
		Registry:   prometheus.NewRegistry(),
	}
	svc.Metrics = metrics.NewRecorder(svc.Registry)

	summaries := backend.Summaries
	var invalidator application.Invalidator
	if cc := ws.Config.Cache; cc.Enabled {
		client, err := cache.Connect(ctx, cache.RedisConfig{Addr: cc.Addr, Password: cc.Password, DB: cc.DB, TTL: cc.TTL})
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		svc.Cache = cache.NewSummaryCache(client, summaries, cc.TTL, ws.Logger)
		summaries = svc.Cache
		invalidator = svc.Cache
		if _, ok := backend.Reader.(*projection.Service); ok {
			backend.Reader = projection.NewService(backend.Records, summaries)
		}
	}

	svc.Projector = application.NewProjector(summaries, invalidator, ws.Logger)
	svc.Projector.Register(svc.Dispatcher)

	routes, err := messaging.Routes(ws.Config.Notifications.Adapters)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	if len(routes) > 0 {
		if err := ws.Repo.Initialize(); err != nil {
			_ = svc.Close()
			return nil, err
		}
		svc.DeadLetters = messaging.NewDeadLetterStore(filepath.Join(ws.Repo.Dir(), storage.DeadLetterFile))
		svc.Notifier = metrics.InstrumentNotifier(
			messaging.NewDispatcher(routes, svc.DeadLetters, ws.Logger),
			svc.Metrics,
		)
		svc.Relay = application.NewNotificationRelay(svc.Notifier, ws.Logger)
		svc.Relay.Register(svc.Dispatcher)
	}

	svc.Sessions = application.NewSessionService(backend.Store,
		application.WithDispatcher(svc.Dispatcher),
		application.WithLogger(ws.Logger),
		application.WithObserver(svc.Metrics),
		application.WithRetry(ws.Config.Retry.MaxAttempts, ws.Config.Retry.InitialDelay),
	)
	return svc, nil
}

// Close waits for pending notifications, then releases the backend and
// cache connections.
func (s *AppServices) Close() error {
	if s.Relay != nil {
		s.Relay.Wait()
	}
	var errs []error
	if s.Cache != nil {
		errs = append(errs, s.Cache.Close())
	}
	if s.Backend != nil {
		errs = append(errs, s.Backend.Close())
	}
	return errors.Join(errs...)
}

// Close releases the backend.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// OpenBackend opens the store selected by ws.Config.Store.
func OpenBackend(ctx context.Context, ws *Workspace) (*Backend, error) {
	sc := ws.Config.Store
	switch sc.Backend {
	case config.BackendMemory:
		m := storage.NewMemoryStore(nil)
		return &Backend{Name: sc.Backend, Store: m, Records: m, Summaries: m, Reader: projection.NewService(m, m)}, nil

	case config.BackendFile:
		if err := ws.Repo.Initialize(); err != nil {
			return nil, err
		}
		files := ws.Repo.EventStore(nil)
		if n, err := files.CleanupStale(storage.StaleArtifactAge); err != nil {
			ws.Logger.Warn("stale artifact cleanup failed", "error", err)
		} else if n > 0 {
			ws.Logger.Info("removed stale stream artifacts", "count", n)
		}
		return &Backend{
			Name:      sc.Backend,
			Store:     files,
			Records:   files,
			Summaries: ws.Repo,
			Reader:    projection.NewService(files, ws.Repo),
			Files:     files,
		}, nil

	case config.BackendSQLite, config.BackendPostgres:
		dialect, err := driver.ParseDialect(sc.Backend)
		if err != nil {
			return nil, err
		}
		dsn := sc.DSN
		if dsn == "" && dialect == driver.DialectSQLite {
			if err := ws.Repo.Initialize(); err != nil {
				return nil, err
			}
			dsn = filepath.Join(ws.Repo.Dir(), storage.DatabaseFile)
		}
		s, err := storage.OpenSQLStore(ctx, driver.Config{Dialect: dialect, DSN: dsn}, storage.WithSQLLogger(ws.Logger))
		if err != nil {
			return nil, err
		}
		return &Backend{Name: sc.Backend, Store: s, Records: s, Summaries: s, Reader: s, close: s.Close}, nil

	case config.BackendBadger:
		path := sc.DSN
		if path == "" {
			if err := ws.Repo.Initialize(); err != nil {
				return nil, err
			}
			path = filepath.Join(ws.Repo.Dir(), storage.BadgerDir)
		}
		b, err := storage.OpenBadgerStore(path, nil)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: sc.Backend, Store: b, Records: b, Summaries: b, Reader: projection.NewService(b, b), close: b.Close}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
}
