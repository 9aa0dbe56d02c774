// Package config resolves runtime settings from the environment, an optional .env
// file, and the OS keyring.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"
)

const (
	EnvAPIKey       = "KERNEL_API_KEY"
	EnvBaseURL      = "KERNEL_BASE_URL"
	EnvSelectors    = "CHATBRIDGE_SELECTORS"
	EnvReadyTimeout = "CHATBRIDGE_READY_TIMEOUT"
	EnvStore        = "CHATBRIDGE_STORE"

	KeyringService = "chatbridge"
	keyringUser    = "kernel-api-key"
)

// Config is the resolved runtime configuration. Zero fields mean "use the default".
type Config struct {
	APIKey        string
	APIKeySource  string
	BaseURL       string
	SelectorsPath string
	StorePath     string
	ReadyTimeout  time.Duration
}

// Keyring is the secret store used for the API key.
type Keyring interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
	Delete(service, user string) error
}

// ErrNoSecret is returned by Keyring implementations when nothing is stored.
var ErrNoSecret = keyring.ErrNotFound

type systemKeyring struct{}

func (systemKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (systemKeyring) Set(service, user, secret string) error  { return keyring.Set(service, user, secret) }
func (systemKeyring) Delete(service, user string) error       { return keyring.Delete(service, user) }

// SystemKeyring returns the OS keyring.
func SystemKeyring() Keyring {
	return systemKeyring{}
}

// Loader reads configuration. The zero value reads the process environment, ./.env
// and the OS keyring.
type Loader struct {
	Getenv   func(string) string
	Keyring  Keyring
	EnvFiles []string
}

// Load resolves configuration with the default Loader.
func Load() (Config, error) {
	return Loader{}.Load()
}

// Load resolves configuration. Process environment wins over .env files; the keyring
// is consulted only when no API key is set anywhere else.
func (l Loader) Load() (Config, error) {
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	files := l.EnvFiles
	if files == nil {
		files = []string{".env"}
	}
	kr := l.Keyring
	if kr == nil {
		kr = SystemKeyring()
	}

	fileEnv := map[string]string{}
	for _, f := range files {
		vals, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
		for k, v := range vals {
			if _, seen := fileEnv[k]; !seen {
				fileEnv[k] = v
			}
		}
	}
	lookup := func(key string) (string, string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v, "environment"
		}
		if v := strings.TrimSpace(fileEnv[key]); v != "" {
			return v, ".env"
		}
		return "", ""
	}

	var cfg Config
	cfg.APIKey, cfg.APIKeySource = lookup(EnvAPIKey)
	cfg.BaseURL, _ = lookup(EnvBaseURL)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SelectorsPath, _ = lookup(EnvSelectors)
	cfg.StorePath, _ = lookup(EnvStore)

	if raw, _ := lookup(EnvReadyTimeout); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q: must be a positive duration such as 5s", EnvReadyTimeout, raw)
		}
		cfg.ReadyTimeout = d
	}

	if cfg.APIKey == "" {
		// A locked or missing keyring backend is not fatal. Commands that need the key
		// report its absence.
		if key, err := kr.Get(KeyringService, keyringUser); err == nil {
			cfg.APIKey, cfg.APIKeySource = key, "keyring"
		}
	}
	return cfg, nil
}

// SaveAPIKey stores key in the keyring.
func SaveAPIKey(kr Keyring, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key is empty")
	}
	if kr == nil {
		kr = SystemKeyring()
	}
	if err := kr.Set(KeyringService, keyringUser, key); err != nil {
		return fmt.Errorf("failed to save api key to keyring: %w", err)
	}
	return nil
}

// DeleteAPIKey removes the stored key. Deleting an absent key is not an error.
func DeleteAPIKey(kr Keyring) error {
	if kr == nil {
		kr = SystemKeyring()
	}
	if err := kr.Delete(KeyringService, keyringUser); err != nil && !errors.Is(err, ErrNoSecret) {
		return fmt.Errorf("failed to delete api key from keyring: %w", err)
	}
	return nil
}

// MaskKey shows only the last four characters of a secret.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
