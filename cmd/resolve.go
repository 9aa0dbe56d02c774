package cmd

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kernel/chatbridge/internal/site"
	"github.com/kernel/chatbridge/pkg/table"
)

type ResolveInput struct {
	URLs   []string
	Output string
}

type resolveResult struct {
	URL        string          `json:"url"`
	Site       site.Identifier `json:"site"`
	Extraction string          `json:"extraction"`
	Send       string          `json:"send"`
}

// ResolveCmd reports which chat site a URL belongs to.
type ResolveCmd struct {
	registry *site.Registry
}

func (r ResolveCmd) Resolve(ctx context.Context, in ResolveInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}

	results := make([]resolveResult, 0, len(in.URLs))
	for _, u := range in.URLs {
		id := site.Resolve(u)
		res := resolveResult{URL: u, Site: id, Extraction: "-", Send: "-"}
		if id.Supported() {
			res.Extraction = "not implemented"
			res.Send = "not implemented"
			if cfg, ok := r.registry.Lookup(id); ok {
				if cfg.CanExtract() {
					res.Extraction = "supported"
				}
				if cfg.CanSend() {
					res.Send = "supported"
				}
			}
		}
		results = append(results, res)
	}

	if in.Output == "json" {
		return printJSON(results)
	}

	rows := pterm.TableData{{"URL", "Site", "Extraction", "Send"}}
	for _, res := range results {
		rows = append(rows, []string{res.URL, res.Site.String(), res.Extraction, res.Send})
	}
	table.PrintTableNoPad(rows, true)
	return nil
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>...",
	Short: "Show which chat site each URL belongs to",
	Example: `  chatbridge resolve https://chatgpt.com/c/abc https://claude.ai/chat/123
  chatbridge resolve https://example.com -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringP("output", "o", "", "Output format (json)")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	reg, err := getRegistry(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	return ResolveCmd{registry: reg}.Resolve(cmd.Context(), ResolveInput{URLs: args, Output: output})
}
