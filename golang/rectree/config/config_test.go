package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rectree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Tree.RecommendMutates)
	assert.Equal(t, "logistic", cfg.Classifier.Kind)
	assert.Equal(t, 100, cfg.Spotify.BatchSize)
	assert.Equal(t, "https://api.spotify.com/v1", cfg.Spotify.APIURL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "http://127.0.0.1:8080/callback/", cfg.Server.CallbackURL())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  shutdown_timeout: 3s
tree:
  recommend_mutates: false
  seed: 7
classifier:
  kind: boost
  boost:
    n_stages: 5
    linear_leaves: true
paths:
  playlist_source: /data/dump
spotify:
  client_id: abc
  scopes: [playlist-read-private, playlist-read-collaborative]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Tree.RecommendMutates)
	assert.Equal(t, int64(7), cfg.Tree.Seed)
	assert.Equal(t, "boost", cfg.Classifier.Kind)
	assert.Equal(t, 5, cfg.Classifier.Boost.NStages)
	assert.True(t, cfg.Classifier.Boost.LinearLeaves)
	assert.Equal(t, 3, cfg.Classifier.Boost.MaxDepth, "unset keys keep their defaults")
	assert.Equal(t, "/data/dump", cfg.Paths.PlaylistSource)
	assert.Equal(t, "abc", cfg.Spotify.ClientID)
	assert.Equal(t, []string{"playlist-read-private", "playlist-read-collaborative"}, cfg.Spotify.Scopes)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("RECTREE_SERVER__PORT", "9100")
	t.Setenv("RECTREE_SPOTIFY__CLIENT_SECRET", "s3cret")
	t.Setenv("RECTREE_SPOTIFY__SCOPES", "a, b")
	t.Setenv("RECTREE_TREE__RECOMMEND_MUTATES", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Spotify.ClientSecret)
	assert.Equal(t, []string{"a", "b"}, cfg.Spotify.Scopes)
	assert.False(t, cfg.Tree.RecommendMutates)
}

func TestConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9200\n")
	t.Setenv(ConfigPathEnv, path)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown classifier": "classifier:\n  kind: forest\n",
		"bad port":           "server:\n  port: 70000\n",
		"big batch":          "spotify:\n  batch_size: 500\n",
		"bad log level":      "logging:\n  level: loud\n",
		"credentials":        "spotify:\n  client_credentials: true\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvTransformFunc(t *testing.T) {
	assert.Equal(t, "spotify.client_id", envTransformFunc("RECTREE_SPOTIFY__CLIENT_ID"))
	assert.Equal(t, "classifier.boost.n_stages", envTransformFunc("RECTREE_CLASSIFIER__BOOST__N_STAGES"))
	assert.Empty(t, envTransformFunc("RECTREE_CONFIG"))
}
