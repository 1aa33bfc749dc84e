package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lotas/ragex/internal/applog"
	"gopkg.in/yaml.v3"
)

// Config holds the resolved runtime settings.
// Precedence, lowest first: defaults, stored install settings, YAML file,
// environment, command-line flags.
type Config struct {
	APIBase           string        `yaml:"api_base"`
	MaxPages          int           `yaml:"max_pages"`
	Port              int           `yaml:"port"`
	DataDir           string        `yaml:"data_dir"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	AnalyzeTimeout    time.Duration `yaml:"analyze_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

const (
	DefaultAPIBase  = "http://127.0.0.1:8000/api/v1"
	DefaultMaxPages = 3
	DefaultPort     = 19292
)

// Setting keys written once on first install.
const (
	SettingAPIBase        = "apiBase"
	SettingMaxPages       = "maxPages"
	SettingSessionHistory = "sessionHistory"
)

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		APIBase:           DefaultAPIBase,
		MaxPages:          DefaultMaxPages,
		Port:              DefaultPort,
		DataDir:           filepath.Join(home, ".local", "share", "ragex"),
		PollInterval:      2 * time.Second,
		AnalyzeTimeout:    30 * time.Second,
		KeepaliveInterval: 20 * time.Second,
	}
}

// InstallSettings are the values persisted the first time the database is created.
func InstallSettings() map[string]string {
	return map[string]string{
		SettingAPIBase:        DefaultAPIBase,
		SettingMaxPages:       strconv.Itoa(DefaultMaxPages),
		SettingSessionHistory: "[]",
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/ragex/config.yaml, falling back to
// ~/.config/ragex/config.yaml.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "ragex", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ragex", "config.yaml")
}

// ApplySettings overlays stored settings. Unknown keys and unparsable
// values are ignored.
func (c Config) ApplySettings(settings map[string]string) Config {
	if v := settings[SettingAPIBase]; v != "" {
		c.APIBase = v
	}
	if n, err := strconv.Atoi(settings[SettingMaxPages]); err == nil && n > 0 {
		c.MaxPages = n
	}
	return c
}

// LoadFile overlays the YAML file at path on top of c. A missing file is
// not an error.
func (c Config) LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("read config %s: %w", path, err)
	}
	out := c
	if err := yaml.Unmarshal(data, &out); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return out, nil
}

// ApplyEnv overlays RAGEX_* environment variables.
func (c Config) ApplyEnv(getenv func(string) string) (Config, error) {
	if v := getenv("RAGEX_API_BASE"); v != "" {
		c.APIBase = v
	}
	if v := getenv("RAGEX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := getenv("RAGEX_MAX_PAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("RAGEX_MAX_PAGES: %w", err)
		}
		c.MaxPages = n
	}
	if v := getenv("RAGEX_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("RAGEX_PORT: %w", err)
		}
		c.Port = n
	}
	return c, nil
}

// Validate checks the values the rest of the program relies on.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api_base must be an http(s) URL, got %q", c.APIBase)
	}
	if c.MaxPages < 1 {
		return fmt.Errorf("max_pages must be at least 1, got %d", c.MaxPages)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.PollInterval <= 0 || c.AnalyzeTimeout <= 0 {
		return errors.New("poll_interval and analyze_timeout must be positive")
	}
	return nil
}

// TrimmedAPIBase returns APIBase without a trailing slash.
func (c Config) TrimmedAPIBase() string {
	return strings.TrimRight(c.APIBase, "/")
}

// Watch calls onChange with base re-overlaid by the file every time the
// file at path is written, until ctx is done. The parent directory is
// watched so editors that replace the file are handled.
func Watch(ctx context.Context, path string, base Config, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.Close()
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := base.LoadFile(path)
				if err == nil {
					err = cfg.Validate()
				}
				if err != nil {
					applog.Error("config.reload", err, "path", path)
					continue
				}
				applog.Info("config.reload", "path", path, "api_base", cfg.APIBase)
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				applog.Error("config.watch", err)
			}
		}
	}()
	return nil
}
