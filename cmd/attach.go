package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	pkgbrowser "github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/kernel/chatbridge/internal/background"
	"github.com/kernel/chatbridge/internal/browser"
	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/pkg/table"
	"github.com/kernel/chatbridge/pkg/util"
)

// tabService is the part of the background service the attach loop drives.
type tabService interface {
	Tabs() []background.TabInfo
	PageInfo(ctx context.Context, tabID string) (protocol.PageInfo, error)
	Export(ctx context.Context, tabID string) (protocol.ConversationSnapshot, error)
	InsertText(ctx context.Context, tabID, text string) (bool, error)
	Sync(ctx context.Context, tabID string) (bool, error)
}

var _ tabService = (*background.Service)(nil)

// AttachCmd runs the interactive loop over attached tabs.
type AttachCmd struct {
	tabs   tabService
	rescan func(ctx context.Context) ([]string, error)
	in     io.Reader

	current string
}

// Loop reads commands until /quit, end of input or ctx is done. A line that is not a
// command is inserted into the current tab.
func (a *AttachCmd) Loop(ctx context.Context) error {
	if tabs := a.tabs.Tabs(); len(tabs) > 0 {
		a.current = tabs[0].ID
	}
	pterm.Info.Println("Type text to insert it into the current tab. Use /help for commands, /quit to exit.")

	scanner := bufio.NewScanner(a.in)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		pterm.Print(pterm.Cyan(fmt.Sprintf("[%s] > ", util.OrDash(a.current))))
		if !scanner.Scan() {
			pterm.Println()
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if !strings.HasPrefix(input, "/") {
			a.insert(ctx, input)
			continue
		}
		if exit := a.handleCommand(ctx, input); exit {
			pterm.Info.Println("Goodbye!")
			return nil
		}
	}
}

func (a *AttachCmd) handleCommand(ctx context.Context, input string) (exit bool) {
	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true
	case "/tabs":
		a.printTabs()
	case "/use":
		a.use(rest)
	case "/info":
		a.info(ctx)
	case "/export":
		a.export(ctx, rest == "json")
	case "/insert":
		if rest == "" {
			pterm.Warning.Println("Usage: /insert <text>")
			break
		}
		a.insert(ctx, rest)
	case "/sync":
		a.sync(ctx)
	case "/rescan":
		a.rescanTabs(ctx)
	case "/help", "/?":
		pterm.Println()
		pterm.Info.Println("Available commands:")
		pterm.Println("  /tabs          - List attached tabs")
		pterm.Println("  /use <tab>     - Switch the current tab")
		pterm.Println("  /info          - Show page info for the current tab")
		pterm.Println("  /export [json] - Export the current conversation")
		pterm.Println("  /insert <text> - Insert text into the chat input")
		pterm.Println("  /sync          - Export again and report whether anything changed")
		pterm.Println("  /rescan        - Attach chat tabs opened since start")
		pterm.Println("  /quit, /exit   - Exit")
		pterm.Println()
	default:
		pterm.Warning.Printf("Unknown command: %s (use /help for available commands)\n", name)
	}
	return false
}

func (a *AttachCmd) requireTab() bool {
	if a.current == "" {
		pterm.Warning.Println("No tab attached. Open a chat tab and use /rescan.")
		return false
	}
	return true
}

func (a *AttachCmd) printTabs() {
	tabs := a.tabs.Tabs()
	if len(tabs) == 0 {
		pterm.Info.Println("No tabs attached")
		return
	}
	rows := pterm.TableData{{"", "Tab", "Site", "Title", "Messages", "Ready"}}
	for _, t := range tabs {
		rows = append(rows, []string{
			lo.Ternary(t.ID == a.current, "*", ""),
			t.ID,
			util.OrDash(t.Page.Site),
			util.FirstOrDash(t.Page.Title, t.Page.URL),
			fmt.Sprintf("%d", t.Messages),
			lo.Ternary(t.Announced, "yes", "no"),
		})
	}
	table.PrintTableNoPad(rows, true)
}

func (a *AttachCmd) use(id string) {
	tabs := a.tabs.Tabs()
	matches := lo.Filter(tabs, func(t background.TabInfo, _ int) bool {
		return strings.HasPrefix(t.ID, id)
	})
	switch {
	case id == "":
		pterm.Warning.Println("Usage: /use <tab>")
	case len(matches) == 0:
		pterm.Warning.Printf("No tab matches %q\n", id)
	case len(matches) > 1:
		pterm.Warning.Printf("%q matches %d tabs\n", id, len(matches))
	default:
		a.current = matches[0].ID
		pterm.Info.Printf("Using tab %s\n", a.current)
	}
}

func (a *AttachCmd) info(ctx context.Context) {
	if !a.requireTab() {
		return
	}
	info, err := a.tabs.PageInfo(ctx, a.current)
	if err != nil {
		printRequestError(err)
		return
	}
	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Site", info.Site})
	rows = append(rows, []string{"URL", info.URL})
	rows = append(rows, []string{"Title", util.OrDash(info.Title)})
	rows = append(rows, []string{"Ready", fmt.Sprintf("%t", info.Ready)})
	rows = append(rows, []string{"Version", util.OrDash(info.Version)})
	table.PrintTableNoPad(rows, true)
}

func (a *AttachCmd) export(ctx context.Context, asJSON bool) {
	if !a.requireTab() {
		return
	}
	snap, err := a.tabs.Export(ctx, a.current)
	if err != nil {
		printRequestError(err)
		return
	}
	if asJSON {
		_ = printJSON(snap)
		return
	}
	pterm.Info.Printf("%s: %d messages\n", snap.Title, len(snap.Messages))
	for _, m := range snap.Messages {
		label := pterm.Cyan("You: ")
		if m.Role == protocol.RoleAssistant {
			label = pterm.Green("Assistant: ")
		}
		pterm.Println(label + m.Content)
	}
}

func (a *AttachCmd) insert(ctx context.Context, text string) {
	if !a.requireTab() {
		return
	}
	ok, err := a.tabs.InsertText(ctx, a.current, text)
	switch {
	case err != nil:
		printRequestError(err)
	case !ok:
		pterm.Warning.Println("No input element found on the page")
	default:
		pterm.Success.Println("Inserted")
	}
}

func (a *AttachCmd) sync(ctx context.Context) {
	if !a.requireTab() {
		return
	}
	changed, err := a.tabs.Sync(ctx, a.current)
	if err != nil {
		printRequestError(err)
		return
	}
	if changed {
		pterm.Success.Println("Conversation updated")
	} else {
		pterm.Info.Println("No changes")
	}
}

func (a *AttachCmd) rescanTabs(ctx context.Context) {
	if a.rescan == nil {
		return
	}
	ids, err := a.rescan(ctx)
	if err != nil {
		pterm.Error.Printf("Rescan failed: %v\n", err)
		return
	}
	if len(ids) == 0 {
		pterm.Info.Println("No new chat tabs")
		return
	}
	pterm.Success.Printf("Attached %s\n", util.JoinOrDash(ids...))
	if a.current == "" {
		a.current = ids[0]
	}
}

func printRequestError(err error) {
	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		pterm.Error.Printf("%s: %s\n", remote.Code, remote.Message)
		return
	}
	pterm.Error.Printf("Error: %v\n", err)
}

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to chat tabs in a live browser",
	Long: `Attach connects to a browser over the Chrome DevTools Protocol and runs an adapter
in every open ChatGPT, Claude or Gemini tab. The browser is chosen in this order:

  --cdp-url        an existing DevTools endpoint
  --browser-id     a Kernel browser (needs KERNEL_API_KEY or 'chatbridge config set-api-key')
  (neither)        a local Chrome launched for this session`,
	Example: `  chatbridge attach --browser-id abc123xyz --open
  chatbridge attach --cdp-url ws://127.0.0.1:9222/devtools/browser/<id>`,
	Args: cobra.NoArgs,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().String("cdp-url", "", "DevTools websocket URL of a running browser")
	attachCmd.Flags().String("browser-id", "", "Kernel browser id")
	attachCmd.Flags().Bool("headless", false, "Launch the local browser headless")
	attachCmd.Flags().Bool("open", false, "Open the Kernel live view in your browser")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := getConfig(cmd)
	reg, err := getRegistry(cmd)
	if err != nil {
		return err
	}
	cdpURL, _ := cmd.Flags().GetString("cdp-url")
	browserID, _ := cmd.Flags().GetString("browser-id")
	headless, _ := cmd.Flags().GetBool("headless")
	open, _ := cmd.Flags().GetBool("open")

	opts := browser.Options{
		CDPURL:          cdpURL,
		KernelBrowserID: browserID,
		Headless:        headless,
		Registry:        reg,
		ReadyTimeout:    cfg.ReadyTimeout,
		Logger:          getLogger(cmd),
	}
	if cfg.APIKey != "" {
		opts.Kernel = browser.NewKernelLookup(cfg.APIKey, cfg.BaseURL)
	}

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to browser...")
	session, err := browser.Connect(ctx, opts)
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			pterm.Warning.Printf("Failed to close browser session: %v\n", err)
		}
	}()

	if live := session.Endpoint().LiveViewURL; live != "" {
		pterm.Info.Printf("Live View: %s\n", live)
		if open {
			if err := pkgbrowser.OpenURL(live); err != nil {
				pterm.Warning.Printf("Could not open live view: %v\n", err)
			}
		}
	}

	svc := session.Service()
	svc.OnSnapshot(func(tabID string, snap protocol.ConversationSnapshot) {
		pterm.Info.Printf("[%s] conversation now has %d messages\n", tabID, len(snap.Messages))
	})

	ids, err := session.AttachSupportedTabs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		pterm.Warning.Println("No supported chat tabs are open. Open one, then use /rescan.")
	} else {
		pterm.Success.Printf("Attached %d tab(s)\n", len(ids))
	}

	a := &AttachCmd{tabs: svc, rescan: session.AttachSupportedTabs, in: os.Stdin}
	return a.Loop(ctx)
}
