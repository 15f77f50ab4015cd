package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptdesk/internal/status"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:5050", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.True(t, cfg.Statuses.Strict)
	assert.Equal(t, status.V2, cfg.StatusMapping())
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("api:\n  base_url: https://scripts.coop.film\nstatuses:\n  mapping: v1+v2\n  strict: false\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://scripts.coop.film", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.False(t, cfg.Statuses.Strict)
	assert.Equal(t, status.Combined, cfg.StatusMapping())
	assert.Equal(t, 4, cfg.Projector.RefreshConcurrency)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"relative url":    "api:\n  base_url: /api\n",
		"mapping":         "statuses:\n  mapping: v9\n",
		"concurrency":     "projector:\n  refresh_concurrency: 0\n",
		"poll":            "projector:\n  poll_interval: 10ms\n",
		"webhook url":     "webhooks:\n  - url: \"\"\n",
		"burst":           "api:\n  requests_per_second: 5\n  burst: 0\n",
		"negative limit":  "api:\n  requests_per_second: -1\n",
		"invalid yaml":    "api: [",
		"timeout zeroed":  "api:\n  timeout: 0s\n",
		"webhook event":   "webhooks:\n  - url: http://hooks.local\n    events: [\"\"]\n",
	}
	for name, doc := range cases {
		_, err := FromYAML([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadOptionalAndLoad(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sd config init")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "scriptdesk.yml"), []byte(GenerateDefault("http://127.0.0.1:9999")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.API.BaseURL)
}
