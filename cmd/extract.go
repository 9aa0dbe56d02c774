package cmd

import (
	"context"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/site"
	"github.com/kernel/chatbridge/pkg/table"
	"github.com/kernel/chatbridge/pkg/util"
)

const previewLen = 80

type ExtractInput struct {
	Path   string
	URL    string
	Output string
}

// ExtractCmd exports the conversation of a saved chat page.
type ExtractCmd struct {
	registry *site.Registry
	logger   *zap.Logger
}

func (e ExtractCmd) Extract(ctx context.Context, in ExtractInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}
	doc, err := loadPage(in.Path, in.URL)
	if err != nil {
		return err
	}
	ctrl := newPageController(doc, e.registry, e.logger, nil)

	var snap protocol.ConversationSnapshot
	if err := ask(ctx, ctrl, protocol.KindExportConversation, nil, &snap); err != nil {
		return err
	}

	if in.Output == "json" {
		return printJSON(snap)
	}

	pterm.Info.Printf("%s (%s)\n", snap.Title, snap.Site)
	if len(snap.Messages) == 0 {
		pterm.Warning.Println("No messages found")
		return nil
	}
	rows := pterm.TableData{{"#", "Role", "Message", "Timestamp"}}
	rows = append(rows, lo.Map(snap.Messages, func(m protocol.ConversationMessage, i int) []string {
		return []string{strconv.Itoa(i + 1), string(m.Role), preview(m.Content), util.OrDash(m.Timestamp)}
	})...)
	table.PrintTableNoPad(rows, true)
	return nil
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen-1]) + "…"
}

var extractCmd = &cobra.Command{
	Use:   "extract <page.html>",
	Short: "Export the conversation from a saved chat page",
	Example: `  chatbridge extract chat.html --url https://chatgpt.com/c/abc
  chatbridge extract chat.html -o json > conversation.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().String("url", "", "Page URL (defaults to the page's canonical link)")
	extractCmd.Flags().StringP("output", "o", "", "Output format (json)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	reg, err := getRegistry(cmd)
	if err != nil {
		return err
	}
	pageURL, _ := cmd.Flags().GetString("url")
	output, _ := cmd.Flags().GetString("output")
	e := ExtractCmd{registry: reg, logger: getLogger(cmd)}
	return e.Extract(cmd.Context(), ExtractInput{Path: args[0], URL: pageURL, Output: output})
}
