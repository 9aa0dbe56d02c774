package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kernel/chatbridge/internal/background"
	"github.com/kernel/chatbridge/internal/dom/htmldoc"
	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/router"
	"github.com/kernel/chatbridge/internal/site"
)

const watchTabID = "file"

type WatchInput struct {
	Path   string
	URL    string
	Output string
}

// WatchCmd re-exports a saved page each time the file changes on disk.
type WatchCmd struct {
	registry *site.Registry
	logger   *zap.Logger
	// notify receives each new snapshot. Defaults to printing it.
	notify func(protocol.ConversationSnapshot)
	// ready is called once the watcher is in place.
	ready func()
}

func (w WatchCmd) Watch(ctx context.Context, in WatchInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}
	abs, err := filepath.Abs(in.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	doc, err := loadPage(abs, in.URL)
	if err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()
	// Editors often replace the file, so watch its directory.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	notify := w.notify
	if notify == nil {
		notify = func(snap protocol.ConversationSnapshot) { printSnapshot(snap, in.Output) }
	}

	bgConn, pageConn := router.Pipe()
	server := router.NewServer(pageConn, w.logger)
	ctrl := newPageController(doc, w.registry, w.logger, server)
	client := router.NewClient(bgConn, w.logger)

	svc := background.New(w.logger)
	svc.OnSnapshot(func(_ string, snap protocol.ConversationSnapshot) { notify(snap) })

	g, gctx := errgroup.WithContext(ctx)
	svc.Attach(gctx, watchTabID, client)
	g.Go(func() error { return ignoreCanceled(server.Serve(gctx, ctrl)) })
	g.Go(func() error { return ignoreCanceled(client.Run(gctx)) })

	if err := ctrl.Start(gctx); err != nil {
		_ = bgConn.Close()
		_ = g.Wait()
		return err
	}
	if in.Output != "json" {
		pterm.Info.Printf("Watching %s (%s). Press Ctrl+C to stop.\n", abs, ctrl.Site())
	}
	if w.ready != nil {
		w.ready()
	}

	g.Go(func() error {
		defer func() {
			ctrl.Destroy()
			_ = bgConn.Close()
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := reloadPage(doc, abs); err != nil {
					w.logger.Warn("failed to reload page", zap.Error(err))
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				w.logger.Warn("file watcher error", zap.Error(err))
			}
		}
	})

	err = g.Wait()
	svc.Wait()
	return err
}

func reloadPage(doc *htmldoc.Document, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return doc.Reload(f)
}

func printSnapshot(snap protocol.ConversationSnapshot, output string) {
	if output == "json" {
		_ = printJSON(snap)
		return
	}
	pterm.Success.Printf("%s: %d messages (%s)\n", snap.Title, len(snap.Messages), snap.ExtractedAt.Local().Format("15:04:05"))
	if n := len(snap.Messages); n > 0 {
		last := snap.Messages[n-1]
		pterm.Printf("  %s: %s\n", last.Role, preview(last.Content))
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch <page.html>",
	Short: "Export a saved chat page again whenever it changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("url", "", "Page URL (defaults to the page's canonical link)")
	watchCmd.Flags().StringP("output", "o", "", "Output format (json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	reg, err := getRegistry(cmd)
	if err != nil {
		return err
	}
	pageURL, _ := cmd.Flags().GetString("url")
	output, _ := cmd.Flags().GetString("output")
	w := WatchCmd{registry: reg, logger: getLogger(cmd)}
	return w.Watch(cmd.Context(), WatchInput{Path: args[0], URL: pageURL, Output: output})
}
