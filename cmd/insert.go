package cmd

import (
	"context"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/site"
	"github.com/kernel/chatbridge/pkg/util"
)

type InsertInput struct {
	Path   string
	URL    string
	Text   string
	Save   string
	Output string
}

// InsertCmd writes text into the input box of a saved chat page.
type InsertCmd struct {
	registry *site.Registry
	logger   *zap.Logger
}

func (c InsertCmd) Insert(ctx context.Context, in InsertInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}
	doc, err := loadPage(in.Path, in.URL)
	if err != nil {
		return err
	}
	ctrl := newPageController(doc, c.registry, c.logger, nil)

	var res protocol.InsertTextResult
	if err := ask(ctx, ctrl, protocol.KindInsertText, protocol.InsertTextRequest{Text: in.Text}, &res); err != nil {
		return err
	}

	var saved int
	if res.Inserted && in.Save != "" {
		page := []byte(doc.HTML())
		if err := util.WriteFileAtomic(in.Save, page, 0o644); err != nil {
			return err
		}
		saved = len(page)
	}

	if in.Output == "json" {
		return printJSON(res)
	}
	if !res.Inserted {
		pterm.Warning.Println("No input element found on the page")
		return nil
	}
	pterm.Success.Printf("Inserted %d characters\n", len([]rune(in.Text)))
	if in.Save != "" {
		pterm.Info.Printf("Saved page to %s (%s)\n", in.Save, util.FormatBytes(int64(saved)))
	}
	return nil
}

var insertCmd = &cobra.Command{
	Use:   "insert <page.html> <text>...",
	Short: "Insert text into the input box of a saved chat page",
	Example: `  chatbridge insert chat.html "Summarize this thread" --url https://claude.ai/chat/1 --save out.html`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runInsert,
}

func init() {
	insertCmd.Flags().String("url", "", "Page URL (defaults to the page's canonical link)")
	insertCmd.Flags().String("save", "", "Write the modified page to this path")
	insertCmd.Flags().StringP("output", "o", "", "Output format (json)")
	rootCmd.AddCommand(insertCmd)
}

func runInsert(cmd *cobra.Command, args []string) error {
	reg, err := getRegistry(cmd)
	if err != nil {
		return err
	}
	pageURL, _ := cmd.Flags().GetString("url")
	save, _ := cmd.Flags().GetString("save")
	output, _ := cmd.Flags().GetString("output")
	c := InsertCmd{registry: reg, logger: getLogger(cmd)}
	return c.Insert(cmd.Context(), InsertInput{
		Path:   args[0],
		URL:    pageURL,
		Text:   strings.Join(args[1:], " "),
		Save:   save,
		Output: output,
	})
}
