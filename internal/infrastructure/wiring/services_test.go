package wiring

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/config"
	"github.com/felixgeelhaar/taskstream/internal/infrastructure/messaging"
	"github.com/felixgeelhaar/taskstream/pkg/domain/projection"
	"github.com/felixgeelhaar/taskstream/pkg/domain/session"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

func workspace(t *testing.T, mutate func(*config.Config)) *Workspace {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewWorkspace(t.TempDir(), cfg, io.Discard)
}

func build(t *testing.T, ws *Workspace) *AppServices {
	t.Helper()
	svc, err := BuildAppServices(context.Background(), ws)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func startAndBlock(t *testing.T, svc *AppServices) string {
	t.Helper()
	ctx := context.Background()
	res, err := svc.Sessions.Start(ctx, session.StartTask{
		Issue:       session.Issue{Provider: "linear", ID: "L-1", Title: "Migrate"},
		WorkspaceID: "ws", UserID: "u",
	})
	require.NoError(t, err)
	_, err = svc.Sessions.Execute(ctx, res.StreamID, session.ReportBlock{Reason: "awaiting access"})
	require.NoError(t, err)
	return res.StreamID
}

func TestBuildAppServices_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendFile, config.BackendSQLite, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			ws := workspace(t, func(c *config.Config) { c.Store.Backend = backend })
			svc := build(t, ws)
			assert.Equal(t, backend, svc.Backend.Name)

			id := startAndBlock(t, svc)
			ctx := context.Background()

			sum, ok, err := svc.Backend.Reader.FindSession(ctx, id, "ws", "u")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, session.StatusBlocked, sum.Status)

			blocks, err := svc.Backend.Reader.UnresolvedBlocks(ctx, id)
			require.NoError(t, err)
			require.Len(t, blocks[id], 1)
			assert.Equal(t, "awaiting access", blocks[id][0].Reason)
		})
	}
}

func TestBuildAppServices_FileBackendExposesFiles(t *testing.T) {
	svc := build(t, workspace(t, nil))
	require.NotNil(t, svc.Backend.Files)

	id := startAndBlock(t, svc)
	_, err := os.Stat(filepath.Join(svc.Backend.Files.Dir(), id+".jsonl"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(svc.Workspace.Repo.Dir(), storage.SessionsFile))
	assert.NoError(t, err)
}

func TestBuildAppServices_SQLiteFileLocation(t *testing.T) {
	ws := workspace(t, func(c *config.Config) { c.Store.Backend = config.BackendSQLite })
	build(t, ws)
	_, err := os.Stat(filepath.Join(ws.Repo.Dir(), storage.DatabaseFile))
	assert.NoError(t, err)
}

func TestBuildAppServices_UnknownBackend(t *testing.T) {
	ws := workspace(t, func(c *config.Config) { c.Store.Backend = "cassandra" })
	_, err := BuildAppServices(context.Background(), ws)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestBuildAppServices_WithCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ws := workspace(t, func(c *config.Config) {
		c.Store.Backend = config.BackendMemory
		c.Cache = config.CacheConfig{Enabled: true, Addr: mr.Addr(), TTL: time.Minute}
	})
	svc := build(t, ws)
	require.NotNil(t, svc.Cache)
	_, isService := svc.Backend.Reader.(*projection.Service)
	assert.True(t, isService)

	id := startAndBlock(t, svc)
	_, ok, err := svc.Backend.Reader.FindSession(context.Background(), id, "ws", "u")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("taskstream:summary:"+id))

	_, err = svc.Sessions.Execute(context.Background(), id, session.CancelTask{Reason: "dropped"})
	require.NoError(t, err)
	assert.False(t, mr.Exists("taskstream:summary:"+id))
}

func TestBuildAppServices_Notifications(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ws := workspace(t, func(c *config.Config) {
		c.Store.Backend = config.BackendMemory
		c.Notifications.Adapters = []messaging.AdapterConfig{{
			Name: "hook", Type: "webhook", URL: server.URL, Enabled: true, EventFilters: []string{"blocked"},
		}}
	})
	svc := build(t, ws)
	require.NotNil(t, svc.Notifier)
	require.NotNil(t, svc.DeadLetters)

	startAndBlock(t, svc)
	assert.Eventually(t, func() bool { return hits.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestLoadWorkspace(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendBadger
	require.NoError(t, config.Save(root, cfg))

	ws, err := LoadWorkspace(root, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, config.BackendBadger, ws.Config.Store.Backend)
	assert.Equal(t, root, ws.Repo.Root())
}
