package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/kernel/chatbridge/internal/config"
	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/site"
)

type statusComponent struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type statusGroup struct {
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	Components []statusComponent `json:"components"`
}

type statusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Groups  []statusGroup `json:"groups"`
}

const defaultBaseURL = "https://api.onkernel.com"

type StatusInput struct {
	Output  string
	Offline bool
}

// StatusCmd reports local setup and, unless offline, Kernel API health.
type StatusCmd struct {
	cfg      config.Config
	registry *site.Registry
	// storeReady reports whether `chatbridge init` has run.
	storeReady func() (path string, ok bool)
	// probe fetches the Kernel status page.
	probe func(ctx context.Context, baseURL string) (statusResponse, error)
}

func (s StatusCmd) Status(ctx context.Context, in StatusInput) error {
	if err := checkOutput(in.Output); err != nil {
		return err
	}

	resp := statusResponse{Status: "unknown", Version: protocol.Version}
	resp.Groups = append(resp.Groups, s.configGroup(), s.sitesGroup())

	if !in.Offline && s.probe != nil {
		remote, err := s.probe(ctx, baseURLOr(s.cfg.BaseURL))
		if err != nil {
			if in.Output != "json" {
				pterm.Warning.Println("Could not reach Kernel API. Check https://status.kernel.sh for updates.")
			}
			resp.Groups = append(resp.Groups, statusGroup{Name: "Kernel API", Status: "unknown"})
		} else {
			resp.Status = remote.Status
			resp.Groups = append(resp.Groups, remote.Groups...)
		}
	}

	if in.Output == "json" {
		return printJSON(resp)
	}
	printStatus(resp)
	return nil
}

func (s StatusCmd) configGroup() statusGroup {
	g := statusGroup{Name: "Configuration", Status: "operational"}

	key := statusComponent{Name: "API key", Status: "missing", Detail: "run 'chatbridge config set-api-key'"}
	if s.cfg.APIKey != "" {
		key = statusComponent{Name: "API key", Status: "configured", Detail: fmt.Sprintf("%s (%s)", config.MaskKey(s.cfg.APIKey), s.cfg.APIKeySource)}
	}
	sel := statusComponent{Name: "Selectors", Status: "configured", Detail: "built-in"}
	if s.cfg.SelectorsPath != "" {
		sel.Detail = s.cfg.SelectorsPath
	}
	store := statusComponent{Name: "Storage", Status: "missing", Detail: "run 'chatbridge init'"}
	if s.storeReady != nil {
		if path, ok := s.storeReady(); ok {
			store = statusComponent{Name: "Storage", Status: "configured", Detail: path}
		}
	}
	timeout := statusComponent{Name: "Ready timeout", Status: "configured", Detail: "5s (default)"}
	if s.cfg.ReadyTimeout > 0 {
		timeout.Detail = s.cfg.ReadyTimeout.String()
	}

	g.Components = []statusComponent{key, sel, store, timeout}
	for _, c := range g.Components {
		if c.Status == "missing" {
			g.Status = "degraded_performance"
		}
	}
	return g
}

func (s StatusCmd) sitesGroup() statusGroup {
	g := statusGroup{Name: "Sites", Status: "operational"}
	for _, id := range s.registry.Sites() {
		cfg, _ := s.registry.Lookup(id)
		c := statusComponent{Name: id.String(), Status: "operational", Detail: "export, insert"}
		if !cfg.CanExtract() {
			c.Status = "partial_outage"
			c.Detail = "insert only"
		}
		g.Components = append(g.Components, c)
	}
	return g
}

func baseURLOr(u string) string {
	if strings.TrimSpace(u) != "" {
		return strings.TrimRight(u, "/")
	}
	return defaultBaseURL
}

func fetchKernelStatus(ctx context.Context, baseURL string) (statusResponse, error) {
	var status statusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return status, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return status, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return status, fmt.Errorf("status request failed: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("invalid response: %w", err)
	}
	return status, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local setup and the operational status of Kernel services",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringP("output", "o", "", "Output format (json)")
	statusCmd.Flags().Bool("offline", false, "Skip the Kernel API check")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	offline, _ := cmd.Flags().GetBool("offline")
	reg, err := getRegistry(cmd)
	if err != nil {
		return err
	}

	s := StatusCmd{
		cfg:      getConfig(cmd),
		registry: reg,
		probe:    fetchKernelStatus,
		storeReady: func() (string, bool) {
			store, err := getStore(cmd)
			if err != nil {
				return "", false
			}
			keys, err := store.Keys()
			return store.Path(), err == nil && len(keys) > 0
		},
	}
	return s.Status(cmd.Context(), StatusInput{Output: output, Offline: offline})
}

// Colors match the dashboard's api-status-indicator.tsx
var statusDisplay = map[string]struct {
	label string
	rgb   pterm.RGB
}{
	"operational":          {label: "Operational", rgb: pterm.NewRGB(31, 163, 130)},
	"configured":           {label: "Configured", rgb: pterm.NewRGB(31, 163, 130)},
	"degraded_performance": {label: "Degraded Performance", rgb: pterm.NewRGB(245, 158, 11)},
	"missing":              {label: "Missing", rgb: pterm.NewRGB(245, 158, 11)},
	"partial_outage":       {label: "Partial Outage", rgb: pterm.NewRGB(242, 85, 51)},
	"full_outage":          {label: "Major Outage", rgb: pterm.NewRGB(239, 68, 68)},
	"maintenance":          {label: "Maintenance", rgb: pterm.NewRGB(36, 99, 235)},
	"unknown":              {label: "Unknown", rgb: pterm.NewRGB(128, 128, 128)},
}

func getStatusDisplay(status string) (string, pterm.RGB) {
	if d, ok := statusDisplay[status]; ok {
		return d.label, d.rgb
	}
	return "Unknown", pterm.NewRGB(128, 128, 128)
}

func coloredDot(rgb pterm.RGB) string {
	return rgb.Sprint("●")
}

func printStatus(resp statusResponse) {
	label, rgb := getStatusDisplay(resp.Status)
	pterm.Println()
	pterm.Println("  " + fmt.Sprintf("Kernel Status: %s", rgb.Sprint(label)))
	pterm.Println("  " + fmt.Sprintf("Protocol: %s", resp.Version))

	for _, group := range resp.Groups {
		pterm.Println()
		if len(group.Components) == 0 {
			groupLabel, groupColor := getStatusDisplay(group.Status)
			pterm.Printf("  %s %s  %s\n", coloredDot(groupColor), pterm.Bold.Sprint(group.Name), groupLabel)
			continue
		}
		pterm.Println("  " + pterm.Bold.Sprint(group.Name))
		for _, comp := range group.Components {
			compLabel, compColor := getStatusDisplay(comp.Status)
			line := fmt.Sprintf("    %s %-20s %s", coloredDot(compColor), comp.Name, compLabel)
			if comp.Detail != "" {
				line += "  " + pterm.Gray(comp.Detail)
			}
			pterm.Println(line)
		}
	}
	pterm.Println()
}
