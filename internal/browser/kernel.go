package browser

import (
	"context"
	"fmt"

	"github.com/kernel/kernel-go-sdk"
	"github.com/kernel/kernel-go-sdk/option"
)

// KernelBrowser is what a session needs to know about a Kernel cloud browser.
type KernelBrowser struct {
	ID          string
	CdpWsURL    string
	LiveViewURL string
}

// BrowserLookup resolves a Kernel browser id.
type BrowserLookup interface {
	Lookup(ctx context.Context, id string) (KernelBrowser, error)
}

type kernelLookup struct {
	client kernel.Client
}

// NewKernelLookup returns a BrowserLookup backed by the Kernel API.
func NewKernelLookup(apiKey, baseURL string) BrowserLookup {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return kernelLookup{client: kernel.NewClient(opts...)}
}

func (k kernelLookup) Lookup(ctx context.Context, id string) (KernelBrowser, error) {
	b, err := k.client.Browsers.Get(ctx, id, kernel.BrowserGetParams{})
	if err != nil {
		return KernelBrowser{}, fmt.Errorf("failed to get browser %s: %w", id, err)
	}
	return KernelBrowser{ID: id, CdpWsURL: b.CdpWsURL, LiveViewURL: b.BrowserLiveViewURL}, nil
}
