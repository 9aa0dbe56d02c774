package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kernel/chatbridge/internal/config"
)

type SetAPIKeyInput struct {
	Key string
}

// ConfigCmd manages the stored Kernel API key.
type ConfigCmd struct {
	keyring config.Keyring
	// prompt asks for the key when none was given.
	prompt func() (string, error)
}

func (c ConfigCmd) SetAPIKey(ctx context.Context, in SetAPIKeyInput) error {
	key := strings.TrimSpace(in.Key)
	if key == "" && c.prompt != nil {
		var err error
		if key, err = c.prompt(); err != nil {
			return err
		}
	}
	if key == "" {
		return errors.New("api key is required")
	}
	if err := config.SaveAPIKey(c.keyring, key); err != nil {
		return err
	}
	pterm.Success.Printf("Saved API key %s to the system keyring\n", config.MaskKey(key))
	return nil
}

func (c ConfigCmd) DeleteAPIKey(ctx context.Context) error {
	if err := config.DeleteAPIKey(c.keyring); err != nil {
		return err
	}
	pterm.Success.Println("Removed API key from the system keyring")
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatbridge configuration",
}

var setAPIKeyCmd = &cobra.Command{
	Use:   "set-api-key [key]",
	Short: "Store the Kernel API key in the system keyring",
	Long: `Store the Kernel API key in the system keyring. KERNEL_API_KEY in the environment
or in a .env file takes precedence over the stored key.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSetAPIKey,
}

var deleteAPIKeyCmd = &cobra.Command{
	Use:   "delete-api-key",
	Short: "Remove the Kernel API key from the system keyring",
	Args:  cobra.NoArgs,
	RunE:  runDeleteAPIKey,
}

func init() {
	configCmd.AddCommand(setAPIKeyCmd)
	configCmd.AddCommand(deleteAPIKeyCmd)
	rootCmd.AddCommand(configCmd)
}

func runSetAPIKey(cmd *cobra.Command, args []string) error {
	c := ConfigCmd{
		keyring: config.SystemKeyring(),
		prompt: func() (string, error) {
			return pterm.DefaultInteractiveTextInput.WithMask("*").Show("Kernel API key")
		},
	}
	var key string
	if len(args) > 0 {
		key = args[0]
	}
	return c.SetAPIKey(cmd.Context(), SetAPIKeyInput{Key: key})
}

func runDeleteAPIKey(cmd *cobra.Command, args []string) error {
	return ConfigCmd{keyring: config.SystemKeyring()}.DeleteAPIKey(cmd.Context())
}
