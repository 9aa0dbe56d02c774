package site

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default selector chains, shipped with the binary.
//
//go:embed selectors.yaml
var defaultSelectors []byte

// Config holds the fallback selector chains for one site. Every chain is ordered:
// earlier selectors are preferred. A Config is never mutated after load.
type Config struct {
	Site              Identifier `yaml:"-"`
	RoleAttribute     string     `yaml:"role_attribute"`
	Ready             []string   `yaml:"ready"`
	Container         []string   `yaml:"container"`
	Messages          []string   `yaml:"messages"`
	UserMessages      []string   `yaml:"user_messages"`
	AssistantMessages []string   `yaml:"assistant_messages"`
	Input             []string   `yaml:"input"`
	Title             []string   `yaml:"title"`
	Send              []string   `yaml:"send"`
}

// CanExtract reports whether conversation extraction is registered for the site.
func (c *Config) CanExtract() bool {
	return c != nil && len(c.Messages) > 0
}

// CanSend reports whether the site has a send control registered.
func (c *Config) CanSend() bool {
	return c != nil && len(c.Send) > 0
}

// Registry is the read-only set of site configs shared by all controllers.
type Registry struct {
	sites map[Identifier]*Config
}

type registryFile struct {
	Sites map[Identifier]*Config `yaml:"sites"`
}

// DefaultRegistry returns the registry built from the embedded selectors.
func DefaultRegistry() *Registry {
	reg, err := parseRegistry(defaultSelectors)
	if err != nil {
		panic(fmt.Sprintf("embedded selectors are invalid: %v", err))
	}
	return reg
}

// LoadRegistry reads a selectors file and overlays it on the embedded defaults. Sites
// present in the file replace the default entry for that site wholesale.
func LoadRegistry(path string) (*Registry, error) {
	reg := DefaultRegistry()
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors file: %w", err)
	}
	overlay, err := parseRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for id, cfg := range overlay.sites {
		reg.sites[id] = cfg
	}
	return reg, nil
}

func parseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	reg := &Registry{sites: make(map[Identifier]*Config, len(file.Sites))}
	for id, cfg := range file.Sites {
		if !id.Supported() {
			return nil, fmt.Errorf("unknown site %q", id)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.Site = id
		reg.sites[id] = cfg
	}
	return reg, nil
}

// Lookup returns the config for id.
func (r *Registry) Lookup(id Identifier) (*Config, bool) {
	cfg, ok := r.sites[id]
	return cfg, ok
}

// Sites returns the identifiers that have a config, in priority order.
func (r *Registry) Sites() []Identifier {
	var out []Identifier
	for _, id := range All {
		if _, ok := r.sites[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
