package wiring

import (
	"io"
	"log/slog"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/config"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

// Workspace bundles the project directory with its configuration.
type Workspace struct {
	Root   string
	Repo   *storage.FilesystemRepository
	Config config.Config
	Logger *slog.Logger
}

// LoadWorkspace reads the configuration under root. Logs go to logOut.
func LoadWorkspace(root string, logOut io.Writer) (*Workspace, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return NewWorkspace(root, cfg, logOut), nil
}

// NewWorkspace creates a workspace with an explicit configuration.
func NewWorkspace(root string, cfg config.Config, logOut io.Writer) *Workspace {
	return &Workspace{
		Root:   root,
		Repo:   storage.NewFilesystemRepository(root),
		Config: cfg,
		Logger: config.NewLogger(cfg.Log, logOut),
	}
}
