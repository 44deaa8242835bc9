package offgrid

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"offgrid/internal/store"
)

type Config struct {
	Server struct {
		Port    int    `yaml:"port"`
		Origin  string `yaml:"origin"`
		Control string `yaml:"control"`
	} `yaml:"server"`

	// Generation names the current blob cache generation. Bumping it on
	// deploy replaces the whole cache.
	Generation string `yaml:"generation"`

	Storage struct {
		Path       string        `yaml:"path"`
		Records    store.Backend `yaml:"records"`
		SQLitePath string        `yaml:"sqlitePath"`
		MaxBody    string        `yaml:"maxBody"`
	} `yaml:"storage"`

	Limits struct {
		Blobs   int `yaml:"blobs"`
		Records int `yaml:"records"`
	} `yaml:"limits"`

	Policy struct {
		APISegment       string   `yaml:"apiSegment"`
		MediaExtensions  []string `yaml:"mediaExtensions"`
		OfflineFallbacks []string `yaml:"offlineFallbacks"`
		OfflineMessage   string   `yaml:"offlineMessage"`
	} `yaml:"policy"`

	Install struct {
		Core    []string `yaml:"core"`
		Sitemap string   `yaml:"sitemap"`
	} `yaml:"install"`

	Network struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"network"`

	Background struct {
		Workers int    `yaml:"workers"`
		Timeout string `yaml:"timeout"`
	} `yaml:"background"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		StatsEvery string `yaml:"statsEvery"`
	} `yaml:"logging"`

	// compiled
	origin         *url.URL
	maxBodyBytes   int64
	networkTimeout time.Duration
	bgTimeout      time.Duration
	statsEvery     time.Duration
}

const defaultOfflineMessage = "You are offline. This page will be available again once the connection is restored."

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Compile(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Compile applies defaults and validates cfg. LoadConfig calls it; tests that
// build a Config in code call it directly.
func (cfg *Config) Compile() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	u, err := url.Parse(cfg.Server.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.origin must be an absolute url, got %q", cfg.Server.Origin)
	}
	cfg.origin = u
	if cfg.Server.Control == "" {
		cfg.Server.Control = "/__offgrid"
	}
	control := strings.Trim(cfg.Server.Control, "/")
	if control == "" {
		return fmt.Errorf("server.control must not be the root path")
	}
	cfg.Server.Control = "/" + control

	if cfg.Generation == "" {
		cfg.Generation = "v1"
	}
	if strings.ContainsRune(cfg.Generation, 0) {
		return fmt.Errorf("generation must not contain NUL")
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data/offgrid"
	}
	if cfg.Storage.Records == "" {
		cfg.Storage.Records = store.LevelDBBackend
	}
	if cfg.Storage.Records == store.SQLiteBackend && cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/records.db"
	}
	if cfg.Storage.MaxBody == "" {
		cfg.Storage.MaxBody = "256mb"
	}
	if cfg.maxBodyBytes, err = parseBytes(cfg.Storage.MaxBody); err != nil {
		return fmt.Errorf("storage.maxBody: %w", err)
	}

	if cfg.Limits.Blobs <= 0 {
		cfg.Limits.Blobs = 60
	}
	if cfg.Limits.Records <= 0 {
		cfg.Limits.Records = 100
	}

	if cfg.Policy.APISegment == "" {
		cfg.Policy.APISegment = "/api/"
	}
	if len(cfg.Policy.MediaExtensions) == 0 {
		cfg.Policy.MediaExtensions = []string{"mp4", "webm", "ogg", "m3u8"}
	}
	for i, ext := range cfg.Policy.MediaExtensions {
		cfg.Policy.MediaExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	if len(cfg.Policy.OfflineFallbacks) == 0 {
		cfg.Policy.OfflineFallbacks = []string{"/", "/index.html"}
	}
	if cfg.Policy.OfflineMessage == "" {
		cfg.Policy.OfflineMessage = defaultOfflineMessage
	}

	if cfg.networkTimeout, err = parseDurationDefault(cfg.Network.Timeout, 30*time.Second); err != nil {
		return fmt.Errorf("network.timeout: %w", err)
	}
	if cfg.Background.Workers <= 0 {
		cfg.Background.Workers = 32
	}
	if cfg.bgTimeout, err = parseDurationDefault(cfg.Background.Timeout, 30*time.Second); err != nil {
		return fmt.Errorf("background.timeout: %w", err)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.statsEvery, err = parseDurationDefault(cfg.Logging.StatsEvery, 0); err != nil {
		return fmt.Errorf("logging.statsEvery: %w", err)
	}
	return nil
}

func parseDurationDefault(s string, def time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Origin is the parsed server.origin.
func (cfg *Config) Origin() *url.URL { return cfg.origin }
