package cmd

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kernel/chatbridge/internal/storage"
)

// InitCmd writes the default settings on first install.
type InitCmd struct {
	store storage.Store
	path  string
}

func (c InitCmd) Init(ctx context.Context) error {
	wrote, err := storage.Bootstrap(c.store)
	if err != nil {
		return err
	}
	if !wrote {
		pterm.Info.Printf("Storage already initialized at %s\n", c.path)
		return nil
	}
	pterm.Success.Printf("Initialized storage at %s\n", c.path)
	return nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the settings and prompt library on first install",
	Long: `Init writes the default settings and an empty prompt library to the storage file.
Existing values are never overwritten, so running it again is safe.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	store, err := getStore(cmd)
	if err != nil {
		return err
	}
	return InitCmd{store: store, path: store.Path()}.Init(cmd.Context())
}
