// Package cmd holds the chatbridge command line.
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kernel/chatbridge/internal/config"
	"github.com/kernel/chatbridge/internal/site"
	"github.com/kernel/chatbridge/internal/storage"
	"github.com/kernel/chatbridge/pkg/util"
)

// Set at build time with -ldflags "-X github.com/kernel/chatbridge/cmd.version=...".
var version = "dev"

// stdout receives JSON output. Tests swap it.
var stdout io.Writer = os.Stdout

var rootCmd = &cobra.Command{
	Use:   "chatbridge",
	Short: "Bridge ChatGPT, Claude and Gemini tabs to a typed message protocol",
	Long: `chatbridge attaches an adapter to chat pages, either live tabs reached over the
Chrome DevTools Protocol or saved HTML pages, and exposes them through a small
request/response protocol: page info, conversation export and text insertion.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupRoot,
}

type ctxKey int

const (
	configKey ctxKey = iota
	loggerKey
)

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging on stderr")
	rootCmd.PersistentFlags().String("selectors", "", "YAML file overriding the built-in site selectors")
}

// Execute runs the root command until it returns or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fang.Execute(ctx, rootCmd, fang.WithVersion(version))
}

func setupRoot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if path, _ := cmd.Flags().GetString("selectors"); path != "" {
		cfg.SelectorsPath = path
	}
	debug, _ := cmd.Flags().GetBool("debug")

	ctx := context.WithValue(cmd.Context(), configKey, cfg)
	ctx = context.WithValue(ctx, loggerKey, newLogger(debug))
	cmd.SetContext(ctx)
	return nil
}

func newLogger(debug bool) *zap.Logger {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if debug {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func getConfig(cmd *cobra.Command) config.Config {
	if cfg, ok := cmd.Context().Value(configKey).(config.Config); ok {
		return cfg
	}
	return config.Config{}
}

func getLogger(cmd *cobra.Command) *zap.Logger {
	if l, ok := cmd.Context().Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

func getRegistry(cmd *cobra.Command) (*site.Registry, error) {
	return site.LoadRegistry(getConfig(cmd).SelectorsPath)
}

func getStore(cmd *cobra.Command) (*storage.FileStore, error) {
	if p := getConfig(cmd).StorePath; p != "" {
		return storage.NewFileStore(p), nil
	}
	p, err := storage.DefaultPath()
	if err != nil {
		return nil, err
	}
	return storage.NewFileStore(p), nil
}

func printJSON(v any) error {
	return util.WritePrettyJSON(stdout, v)
}
