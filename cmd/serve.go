package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kernel/chatbridge/internal/router"
	"github.com/kernel/chatbridge/internal/site"
)

type ServeInput struct {
	Path string
	URL  string
}

// ServeCmd answers protocol requests about a saved page over newline-delimited JSON.
type ServeCmd struct {
	registry *site.Registry
	logger   *zap.Logger
	in       io.Reader
	out      io.Writer
}

func (s ServeCmd) Serve(ctx context.Context, in ServeInput) error {
	doc, err := loadPage(in.Path, in.URL)
	if err != nil {
		return err
	}

	conn := router.NewStreamConn(s.in, s.out)
	defer conn.Close()
	server := router.NewServer(conn, s.logger)
	ctrl := newPageController(doc, s.registry, s.logger, server)
	defer ctrl.Destroy()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(server.Serve(gctx, ctrl))
	})
	if err := ctrl.Start(gctx); err != nil {
		_ = conn.Close()
		_ = g.Wait()
		return err
	}
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var serveCmd = &cobra.Command{
	Use:   "serve <page.html>",
	Short: "Serve the page protocol for a saved chat page on stdin/stdout",
	Long: `Serve reads one JSON envelope per line from stdin and writes responses and events
to stdout. A request looks like:

  {"request":{"type":"GET_PAGE_INFO","requestId":"r1","timestamp":1714557600000}}

The page announces itself with a CONTENT_SCRIPT_READY event once it is ready.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("url", "", "Page URL (defaults to the page's canonical link)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	reg, err := getRegistry(cmd)
	if err != nil {
		return err
	}
	pageURL, _ := cmd.Flags().GetString("url")
	s := ServeCmd{registry: reg, logger: getLogger(cmd), in: os.Stdin, out: os.Stdout}
	return s.Serve(cmd.Context(), ServeInput{Path: args[0], URL: pageURL})
}
