package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "defaults",
			setup: func() {
				viper.Reset()
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{".htm", ".html"}, cfg.Templates.AllowedExtensions)
				assert.Equal(t, 64, cfg.Templates.MaxResultTypes)
				assert.Equal(t, "./templates", cfg.Templates.Dir)
				assert.False(t, cfg.Sanitizer.AllowErrorHandlers)
				assert.Equal(t, 10*time.Second, cfg.Fetch.Timeout)
				assert.Equal(t, 5*time.Minute, cfg.Fetch.Redis.TTL)
				assert.Equal(t, "en-US", cfg.Locale.Culture)
				assert.Equal(t, "localhost", cfg.Server.Host)
				assert.Equal(t, 8085, cfg.Server.Port)
				assert.Equal(t, "info", cfg.Log.Level)
				assert.Nil(t, cfg.Locale.UserBias)
				assert.Equal(t, "sp", cfg.Search.Datasource)
				assert.Equal(t, 10, cfg.Search.ResultsCount)
			},
		},
		{
			name: "search section",
			setup: func() {
				viper.Reset()
				viper.Set("search.datasource", "graph")
				viper.Set("search.site_url", "https://contoso.sharepoint.com/sites/hr")
				viper.Set("search.results_count", 25)
				viper.Set("search.selected_properties", "Title,Path")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "graph", cfg.Search.Datasource)
				assert.Equal(t, "https://contoso.sharepoint.com/sites/hr", cfg.Search.SiteURL)
				assert.Equal(t, 25, cfg.Search.ResultsCount)
				assert.Equal(t, []string{"Title", "Path"}, cfg.Search.SelectedProperties)
			},
		},
		{
			name: "search disabled",
			setup: func() {
				viper.Reset()
				viper.Set("search.datasource", "")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Empty(t, cfg.Search.Datasource)
			},
		},
		{
			name: "search site url with file scheme",
			setup: func() {
				viper.Reset()
				viper.Set("search.site_url", "file:///etc/passwd")
			},
			expectError: true,
		},
		{
			name: "explicit values",
			setup: func() {
				viper.Reset()
				viper.Set("extensibility.libraries", []string{"b4c35af5-102d-4a2d-a448-4b25a7e66a94"})
				viper.Set("sanitizer.allow_error_handlers", true)
				viper.Set("fetch.timeout", "2s")
				viper.Set("locale.timezone", "UTC")
				viper.Set("locale.user_bias", -60)
				viper.Set("server.port", 0)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"b4c35af5-102d-4a2d-a448-4b25a7e66a94"}, cfg.Extensibility.Libraries)
				assert.True(t, cfg.Sanitizer.AllowErrorHandlers)
				assert.Equal(t, 2*time.Second, cfg.Fetch.Timeout)
				require.NotNil(t, cfg.Locale.UserBias)
				assert.Equal(t, -60, *cfg.Locale.UserBias)
				assert.Equal(t, 0, cfg.Server.Port)
				loc, err := cfg.Locale.Location()
				require.NoError(t, err)
				assert.Equal(t, "UTC", loc.String())
			},
		},
		{
			name: "invalid port",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", 70000)
			},
			expectError: true,
		},
		{
			name: "unknown time zone",
			setup: func() {
				viper.Reset()
				viper.Set("locale.timezone", "Mars/Olympus")
			},
			expectError: true,
		},
		{
			name: "extension without dot",
			setup: func() {
				viper.Reset()
				viper.Set("templates.allowed_extensions", []string{"html"})
			},
			expectError: true,
		},
		{
			name: "manifest with traversal",
			setup: func() {
				viper.Reset()
				viper.Set("extensibility.manifest", "../../etc/manifest.yml")
			},
			expectError: true,
		},
		{
			name: "unknown log format",
			setup: func() {
				viper.Reset()
				viper.Set("log.format", "xml")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer viper.Reset()

			cfg, err := Load()
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".searchparts.yml")
	content := `
extensibility:
  libraries:
    - 11111111-2222-3333-4444-555555555555
  manifest: plugins.yml
templates:
  max_result_types: 8
cache:
  num_counters: 1000
  max_cost: 4096
fetch:
  redis:
    address: localhost:6379
    db: 2
log:
  level: verbose
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"11111111-2222-3333-4444-555555555555"}, cfg.Extensibility.Libraries)
	assert.Equal(t, "plugins.yml", cfg.Extensibility.Manifest)
	assert.Equal(t, 8, cfg.Templates.MaxResultTypes)
	assert.Equal(t, int64(1000), cfg.Cache.NumCounters)
	assert.Equal(t, int64(4096), cfg.Cache.MaxCost)
	assert.Equal(t, "localhost:6379", cfg.Fetch.Redis.Address)
	assert.Equal(t, 2, cfg.Fetch.Redis.DB)
	assert.Equal(t, "verbose", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"./templates", false},
		{"templates/results", false},
		{"", true},
		{"../outside", true},
		{"templates;rm", true},
		{"$(whoami)", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
