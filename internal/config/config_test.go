package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs Load against an empty working directory and home.
func isolate(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "image_cache", cfg.CacheDir)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 5, cfg.FSMMaxRetries)
	assert.Empty(t, cfg.MirrorBucket)
}

func TestLoad_Environment(t *testing.T) {
	isolate(t)
	t.Setenv("APOD_CACHE_DIR", "/srv/apod")
	t.Setenv("APOD_HTTP_TIMEOUT", "5s")
	t.Setenv("APOD_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/apod", cfg.CacheDir)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "secret", cfg.APIKey)
}

func TestSave_RoundTripsThroughLoad(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.CacheDir = "/data/apod"
	cfg.HTTPTimeout = 45 * time.Second
	cfg.MirrorBucket = "apod-mirror"

	path := filepath.Join(dir, FileName)
	require.NoError(t, cfg.Save(path, false))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, toml.Unmarshal(raw, &decoded))
	assert.Equal(t, "45s", decoded["http-timeout"])

	viper.Reset()
	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/apod", loaded.CacheDir)
	assert.Equal(t, 45*time.Second, loaded.HTTPTimeout)
	assert.Equal(t, "apod-mirror", loaded.MirrorBucket)
}

func TestSave_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("cache-dir = 'x'\n"), 0644))

	cfg := &Config{CacheDir: "y"}
	assert.Error(t, cfg.Save(path, false))
	assert.NoError(t, cfg.Save(path, true))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			CacheDir:      "image_cache",
			FSMDBPath:     "image_cache_fsm",
			APIURL:        "https://api.nasa.gov/planetary/apod",
			APIKey:        "DEMO_KEY",
			HTTPTimeout:   time.Second,
			MirrorRegion:  "us-east-1",
			MaxImageSize:  1024,
			FSMMaxRetries: 3,
			LogLevel:      "info",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty cache dir", func(c *Config) { c.CacheDir = "" }, true},
		{"fsm same as cache", func(c *Config) { c.FSMDBPath = "image_cache/" }, true},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = 0 }, true},
		{"mirror without region", func(c *Config) { c.MirrorBucket = "b"; c.MirrorRegion = "" }, true},
		{"negative retries", func(c *Config) { c.FSMMaxRetries = -1 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, true},
		{"debug log level", func(c *Config) { c.LogLevel = "debug" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
