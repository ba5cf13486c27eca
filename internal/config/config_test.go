package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "auto", cfg.Backend)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 1000, cfg.Throttle)
	assert.Equal(t, 30, cfg.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DryRun)
	require.NoError(t, cfg.CheckValid())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: github
owner: acme
packages:
  - app
  - tools/*
keep-n-tagged: 5
delete-untagged: true
exclude-tags:
  - latest
  - "v*.*.*"
older-than: 30d
`), 0o600))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	require.NoError(t, cfg.CheckValid())

	assert.Equal(t, "github", cfg.Backend)
	assert.Equal(t, "acme", cfg.Owner)
	assert.Equal(t, []string{"app", "tools/*"}, cfg.Packages)
	assert.Equal(t, 5, cfg.KeepNTagged)
	assert.True(t, cfg.DeleteUntagged)
	assert.Equal(t, []string{"latest", "v*.*.*"}, cfg.ExcludeTags)
	assert.Equal(t, 30*24*time.Hour, cfg.OlderThanDuration())
	// File overlays keep unset fields at their defaults.
	assert.Equal(t, 3, cfg.Retries)
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REGCLEAN_BACKEND", "gitea")
	t.Setenv("REGCLEAN_PACKAGES", "app, web\ninfra/base")
	t.Setenv("REGCLEAN_DRY_RUN", "true")
	t.Setenv("REGCLEAN_KEEP_N_TAGGED", "7")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "gitea", cfg.Backend)
	assert.Equal(t, []string{"app", "web", "infra/base"}, cfg.Packages)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 7, cfg.KeepNTagged)
}

func TestApplyEnvActionInputFallback(t *testing.T) {
	t.Setenv("INPUT_OWNER", "from-input")
	t.Setenv("INPUT_TOKEN", "input-token")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "from-input", cfg.Owner)
	assert.Equal(t, "input-token", cfg.Token)
}

func TestApplyEnvPrefixPrecedence(t *testing.T) {
	t.Setenv("INPUT_OWNER", "from-input")
	t.Setenv("REGCLEAN_OWNER", "from-regclean")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "from-regclean", cfg.Owner)
}

func TestApplyEnvRejectsBadTypes(t *testing.T) {
	t.Setenv("REGCLEAN_DRY_RUN", "yes please")

	cfg := Default()
	err := cfg.ApplyEnv()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "DRY_RUN", verr.Field)
}

func TestCheckValid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{name: "defaults pass", mutate: func(c *Config) {}},
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Backend = "quay" },
			field:  "backend", wantErr: true,
		},
		{
			name:   "negative keep-n-tagged",
			mutate: func(c *Config) { c.KeepNTagged = -1 },
			field:  "keep-n-tagged", wantErr: true,
		},
		{
			name:   "negative retries",
			mutate: func(c *Config) { c.Retries = -1 },
			field:  "retries", wantErr: true,
		},
		{
			name:   "zero timeout",
			mutate: func(c *Config) { c.Timeout = 0 },
			field:  "timeout", wantErr: true,
		},
		{
			name:   "malformed older-than",
			mutate: func(c *Config) { c.OlderThan = "7 days" },
			field:  "older-than", wantErr: true,
		},
		{
			name:   "empty delete-tags pattern",
			mutate: func(c *Config) { c.DeleteTags = []string{""} },
			field:  "delete-tags", wantErr: true,
		},
		{name: "valid older-than", mutate: func(c *Config) { c.OlderThan = "2w" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.CheckValid()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestFilterPolicyMapping(t *testing.T) {
	cfg := Default()
	cfg.OlderThan = "1w"
	cfg.KeepNTagged = 4
	cfg.DeleteUntagged = true
	cfg.ExcludeTags = []string{"latest"}
	require.NoError(t, cfg.CheckValid())

	pol := cfg.FilterPolicy()
	assert.Equal(t, 7*24*time.Hour, pol.OlderThan)
	assert.Equal(t, 4, pol.KeepNTagged)
	assert.True(t, pol.DeleteUntagged)
	assert.Equal(t, []string{"latest"}, pol.ExcludeTags)
}

func TestTransportConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Throttle = 250
	cfg.Timeout = 10

	tc := cfg.TransportConfig()
	assert.Equal(t, 3, tc.Retries)
	assert.Equal(t, 250*time.Millisecond, tc.Throttle)
	assert.Equal(t, 10*time.Second, tc.Timeout)
}
