// Package config loads the service configuration: struct defaults, then an optional YAML
// file, then RECTREE_ environment variables. Nested keys are separated by a double
// underscore in variable names, e.g. RECTREE_SPOTIFY__CLIENT_ID sets spotify.client_id.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/tarstars/recommendation_tree/golang/rectree/classifiers"
	"github.com/tarstars/recommendation_tree/golang/rectree/logging"
	"github.com/tarstars/recommendation_tree/golang/rectree/spotify"
)

const (
	EnvPrefix      = "RECTREE_"
	ConfigPathEnv  = EnvPrefix + "CONFIG"
	nestingDivider = "__"
)

var DefaultConfigPaths = []string{
	"rectree.yaml",
	"rectree.yml",
	"/etc/rectree/config.yaml",
}

type Config struct {
	Server     ServerConfig       `koanf:"server" json:"server"`
	Tree       TreeConfig         `koanf:"tree" json:"tree"`
	Classifier classifiers.Config `koanf:"classifier" json:"classifier"`
	Spotify    spotify.Config     `koanf:"spotify" json:"spotify"`
	Paths      PathsConfig        `koanf:"paths" json:"paths"`
	Logging    logging.Config     `koanf:"logging" json:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host" json:"host"`
	Port            int           `koanf:"port" json:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	// requests per RateLimitWindow and client address; 0 disables the limit
	RateLimitRequests int           `koanf:"rate_limit_requests" json:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" json:"rate_limit_window"`
	LockFile          string        `koanf:"lock_file" json:"lock_file"`
}

type TreeConfig struct {
	// Recommend pushes the playlist into the tree when true, as the service always did.
	// When false recommendations are read-only queries.
	RecommendMutates bool  `koanf:"recommend_mutates" json:"recommend_mutates"`
	Seed             int64 `koanf:"seed" json:"seed"`
}

type PathsConfig struct {
	// directory of <id>.INDEX playlist files
	PlaylistSource string `koanf:"playlist_source" json:"playlist_source"`
	Reducer        string `koanf:"reducer" json:"reducer"`
	Journal        string `koanf:"journal" json:"journal"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      5 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
			LockFile:          "rectree.lock",
		},
		Tree: TreeConfig{
			RecommendMutates: true,
			Seed:             time.Now().UnixNano(),
		},
		Classifier: classifiers.DefaultConfig(),
		Spotify:    spotify.DefaultConfig(),
		Paths: PathsConfig{
			PlaylistSource: "playlists",
			Reducer:        "pca_reduce.npy",
			Journal:        "rectree.db",
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the configuration. An empty path falls back to RECTREE_CONFIG and then
// to DefaultConfigPaths; a missing file is not an error unless it was named explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if scopes, ok := k.Get("spotify.scopes").(string); ok {
		if err := k.Set("spotify.scopes", splitList(scopes)); err != nil {
			return nil, fmt.Errorf("failed to set spotify.scopes: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnv); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps RECTREE_SPOTIFY__CLIENT_ID to spotify.client_id.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	return strings.ReplaceAll(key, nestingDivider, ".")
}

func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// Validate checks field constraints and the rules that span several fields.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Spotify.ClientCredentials && (c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "") {
		return fmt.Errorf("spotify.client_credentials needs client_id and client_secret")
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("server.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CallbackURL is the OAuth redirect target served by this process.
func (s ServerConfig) CallbackURL() string {
	return fmt.Sprintf("http://%s/callback/", s.Addr())
}
