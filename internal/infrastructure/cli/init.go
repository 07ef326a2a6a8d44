package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskstream/internal/infrastructure/config"
	"github.com/felixgeelhaar/taskstream/pkg/storage"
)

func newInitCmd(opts *globalOptions) *cobra.Command {
	var backend, dsn string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a taskstream workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := opts.projectRoot()
			if err != nil {
				return err
			}
			repo := storage.NewFilesystemRepository(root)
			if repo.IsInitialized() {
				return NewCLIError("workspace already initialized", "Edit .taskstream/config.yaml to change settings", nil)
			}

			cfg := config.Default()
			cfg.Store.Backend = backend
			cfg.Store.DSN = dsn
			if err := config.Save(root, cfg); err != nil {
				return fmt.Errorf("failed to initialize workspace: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized taskstream workspace in %s (store: %s)\n", repo.Dir(), backend)
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", config.BackendFile, "Store backend (memory, file, sqlite, postgres, badger)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Connection string or path for the store")
	return cmd
}
