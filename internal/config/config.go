package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server   ServerConfig
	Remote   RemoteConfig
	Storage  StorageConfig
	Analysis AnalysisConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	// Token is the bearer token the extension presents to the local API.
	// Generated and persisted on first start when empty.
	Token string
}

type RemoteConfig struct {
	BaseURL string
	// APIToken authenticates against the analysis backend. Empty means
	// signed out.
	APIToken string
	UserID   string
}

type StorageConfig struct {
	DataDir string
}

type AnalysisConfig struct {
	// ReanalysisMode is "content-change" (reuse until the page changes) or
	// "always".
	ReanalysisMode string
	// InternalDomains is a comma-separated list of the product's own hosts;
	// analyses of them are flagged so the backend can skip quota charges.
	InternalDomains string
}

type LogConfig struct {
	Level string
}

// InternalDomainList splits the configured internal domains.
func (a AnalysisConfig) InternalDomainList() []string {
	if a.InternalDomains == "" {
		return nil
	}
	parts := strings.Split(a.InternalDomains, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Remote: RemoteConfig{
			BaseURL: "https://api.salespanel.app/v1",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Analysis: AnalysisConfig{
			ReanalysisMode: "content-change",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.salespanel.app) and the
// remote API token falls back to macOS Keychain.
// On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/salespanel/config.json and secrets come from environment
// variables or the local secrets file.
//
// Environment variables (SALESPANEL_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for the remote token if still empty.
	// A missing token is not an error: the daemon runs signed out.
	if cfg.Remote.APIToken == "" {
		if tok, err := kc.Get("salespanel", "remote_api_token"); err == nil && tok != "" {
			cfg.Remote.APIToken = tok
		}
	}

	switch cfg.Analysis.ReanalysisMode {
	case "content-change", "always":
	default:
		return Config{}, fmt.Errorf("invalid analysis.reanalysis_mode %q (want content-change or always)", cfg.Analysis.ReanalysisMode)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
