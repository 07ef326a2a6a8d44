package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/wiring"
)

func (o *globalOptions) projectRoot() (string, error) {
	if o.projectPath != "" {
		abs, err := filepath.Abs(o.projectPath)
		if err != nil {
			return "", fmt.Errorf("invalid project path %q: %w", o.projectPath, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("project path %q: %w", abs, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("project path %q is not a directory", abs)
		}
		return abs, nil
	}
	return os.Getwd()
}

func (o *globalOptions) loadWorkspace(cmd *cobra.Command) (*wiring.Workspace, error) {
	root, err := o.projectRoot()
	if err != nil {
		return nil, err
	}
	return wiring.LoadWorkspace(root, cmd.ErrOrStderr())
}

// withServices builds the services for the selected workspace, runs fn and
// releases them.
func (o *globalOptions) withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *wiring.AppServices) error) (err error) {
	ws, err := o.loadWorkspace(cmd)
	if err != nil {
		return err
	}
	svc, err := wiring.BuildAppServices(cmd.Context(), ws)
	if err != nil {
		return MapError(err)
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return MapError(fn(cmd.Context(), svc))
}
