package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Vision.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Vision.Model)
	assert.Equal(t, "/home/keyence/iv3_images", cfg.Watch.Dir)
	assert.Equal(t, 3*time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, time.Second, cfg.Watch.StabilityWait)
	assert.Equal(t, 3, cfg.Watch.DefaultStrictness)
	assert.Equal(t, "0.0.0.0:502", cfg.Modbus.Addr)
	assert.Equal(t, uint16(1), cfg.Modbus.CoilAddress)
	assert.NoError(t, cfg.Validate())
}

func TestLoadPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("INSPECTOR_VISION_APIKEY", "sk-prefixed")
	t.Setenv("INSPECTOR_WATCH_DIR", "/home/pi/iv3_images")
	t.Setenv("INSPECTOR_WATCH_POLLINTERVAL", "5s")
	t.Setenv("INSPECTOR_MODBUS_COILADDRESS", "7")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-prefixed", cfg.Vision.APIKey)
	assert.Equal(t, "/home/pi/iv3_images", cfg.Watch.Dir)
	assert.Equal(t, 5*time.Second, cfg.Watch.PollInterval)
	assert.Equal(t, uint16(7), cfg.Modbus.CoilAddress)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := filepath.Join(t.TempDir(), "inspector.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watch:\n  defaultstrictness: 5\n  nobrand: true\nvision:\n  model: gpt-4o\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Watch.DefaultStrictness)
	assert.True(t, cfg.Watch.NoBrand)
	assert.Equal(t, "gpt-4o", cfg.Vision.Model)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"missing key":     func(c *Config) { c.Vision.APIKey = "" },
		"placeholder key": func(c *Config) { c.Vision.APIKey = PlaceholderAPIKey },
		"zero poll":       func(c *Config) { c.Watch.PollInterval = 0 },
		"strictness low":  func(c *Config) { c.Watch.DefaultStrictness = 0 },
		"strictness high": func(c *Config) { c.Watch.DefaultStrictness = 6 },
		"coil range":      func(c *Config) { c.Modbus.CoilAddress = 100 },
		"empty dir":       func(c *Config) { c.Watch.Dir = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
