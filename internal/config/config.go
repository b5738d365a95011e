// Package config provides configuration management for the search results
// engine using Viper for loading from files, environment variables and
// command-line flags.
//
// The configuration covers which extensibility libraries to load and where
// their modules live, template lookup and compilation limits, sanitizer
// switches, cache sizing, the optional Redis content cache, locale and time
// zone settings used by the date helpers, the search data source templates
// are previewed against, and the preview server.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MakingThingsWorkToronto/pnp-modern-search/internal/validation"
)

type Config struct {
	Extensibility ExtensibilityConfig `yaml:"extensibility" mapstructure:"extensibility"`
	Templates     TemplatesConfig     `yaml:"templates" mapstructure:"templates"`
	Sanitizer     SanitizerConfig     `yaml:"sanitizer" mapstructure:"sanitizer"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Fetch         FetchConfig         `yaml:"fetch" mapstructure:"fetch"`
	Locale        LocaleConfig        `yaml:"locale" mapstructure:"locale"`
	Search        SearchConfig        `yaml:"search" mapstructure:"search"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

type ExtensibilityConfig struct {
	// Libraries lists the library ids to load, in order.
	Libraries []string `yaml:"libraries" mapstructure:"libraries"`
	// Manifest points at the YAML file mapping library ids to plugin files.
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
}

type TemplatesConfig struct {
	Dir               string   `yaml:"dir" mapstructure:"dir"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	MaxResultTypes    int      `yaml:"max_result_types" mapstructure:"max_result_types"`
	Watch             bool     `yaml:"watch" mapstructure:"watch"`
}

type SanitizerConfig struct {
	// AllowErrorHandlers admits the onerror attribute. Off by default.
	AllowErrorHandlers bool `yaml:"allow_error_handlers" mapstructure:"allow_error_handlers"`
}

type CacheConfig struct {
	NumCounters int64 `yaml:"num_counters" mapstructure:"num_counters"`
	MaxCost     int64 `yaml:"max_cost" mapstructure:"max_cost"`
}

type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Redis   RedisConfig   `yaml:"redis" mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string        `yaml:"address" mapstructure:"address"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// LocaleConfig carries the page context the date helpers need: the
// culture name and the web/user regional time zone biases in minutes.
type LocaleConfig struct {
	Culture  string `yaml:"culture" mapstructure:"culture"`
	TimeZone string `yaml:"timezone" mapstructure:"timezone"`
	WebBias  int    `yaml:"web_bias" mapstructure:"web_bias"`
	WebDST   int    `yaml:"web_dst" mapstructure:"web_dst"`
	UserBias *int   `yaml:"user_bias" mapstructure:"user_bias"`
	UserDST  int    `yaml:"user_dst" mapstructure:"user_dst"`
}

// SearchConfig selects the data source templates are previewed against.
// An empty Datasource disables searching.
type SearchConfig struct {
	Datasource string `yaml:"datasource" mapstructure:"datasource"`
	SiteURL    string `yaml:"site_url" mapstructure:"site_url"`
	// Token is sent as a bearer token with every search request.
	Token              string   `yaml:"token" mapstructure:"token"`
	ResultsCount       int      `yaml:"results_count" mapstructure:"results_count"`
	QueryTemplate      string   `yaml:"query_template" mapstructure:"query_template"`
	SelectedProperties []string `yaml:"selected_properties" mapstructure:"selected_properties"`
	Refiners           []string `yaml:"refiners" mapstructure:"refiners"`
}

type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`

	// AllowedOrigins may open the live reload socket and post to the API.
	// The server's own origin is always allowed.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// File, when set, receives a JSON copy of every log entry.
	File string `yaml:"file" mapstructure:"file"`
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v, applies defaults and validates
// the result.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices set through env or flags arrive as strings.
	if v.IsSet("extensibility.libraries") && len(config.Extensibility.Libraries) == 0 {
		config.Extensibility.Libraries = v.GetStringSlice("extensibility.libraries")
	}
	if v.IsSet("templates.allowed_extensions") && len(config.Templates.AllowedExtensions) == 0 {
		config.Templates.AllowedExtensions = v.GetStringSlice("templates.allowed_extensions")
	}
	if v.IsSet("sanitizer.allow_error_handlers") {
		config.Sanitizer.AllowErrorHandlers = v.GetBool("sanitizer.allow_error_handlers")
	}
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("search.selected_properties") && len(config.Search.SelectedProperties) == 0 {
		config.Search.SelectedProperties = v.GetStringSlice("search.selected_properties")
	}
	if v.IsSet("search.refiners") && len(config.Search.Refiners) == 0 {
		config.Search.Refiners = v.GetStringSlice("search.refiners")
	}
	if v.IsSet("templates.watch") {
		config.Templates.Watch = v.GetBool("templates.watch")
	}

	if len(config.Templates.AllowedExtensions) == 0 {
		config.Templates.AllowedExtensions = []string{".htm", ".html"}
	}
	if config.Templates.MaxResultTypes == 0 {
		config.Templates.MaxResultTypes = 64
	}
	if config.Templates.Dir == "" {
		config.Templates.Dir = "./templates"
	}

	if config.Cache.NumCounters == 0 {
		config.Cache.NumCounters = 1e5
	}
	if config.Cache.MaxCost == 0 {
		config.Cache.MaxCost = 1 << 26
	}

	if config.Fetch.Timeout == 0 {
		config.Fetch.Timeout = 10 * time.Second
	}
	if config.Fetch.Redis.TTL == 0 {
		config.Fetch.Redis.TTL = 5 * time.Minute
	}

	if config.Locale.Culture == "" {
		config.Locale.Culture = "en-US"
	}
	if config.Locale.TimeZone == "" {
		config.Locale.TimeZone = "Local"
	}

	if config.Search.Datasource == "" && !v.IsSet("search.datasource") {
		config.Search.Datasource = "sp"
	}
	if config.Search.ResultsCount == 0 {
		config.Search.ResultsCount = 10
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 && !v.IsSet("server.port") {
		config.Server.Port = 8085
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Location resolves the configured time zone.
func (c *LocaleConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" || c.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.TimeZone)
}

func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateTemplatesConfig(&config.Templates); err != nil {
		return fmt.Errorf("templates config: %w", err)
	}
	if config.Extensibility.Manifest != "" {
		if err := validatePath(config.Extensibility.Manifest); err != nil {
			return fmt.Errorf("extensibility config: invalid manifest '%s': %w", config.Extensibility.Manifest, err)
		}
	}
	for _, id := range config.Extensibility.Libraries {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("extensibility config: empty library id")
		}
	}
	if config.Cache.NumCounters < 0 || config.Cache.MaxCost < 0 {
		return fmt.Errorf("cache config: sizes must be positive")
	}
	if _, err := config.Locale.Location(); err != nil {
		return fmt.Errorf("locale config: %w", err)
	}
	if err := validateSearchConfig(&config.Search); err != nil {
		return fmt.Errorf("search config: %w", err)
	}
	if config.Log.File != "" {
		if err := validatePath(config.Log.File); err != nil {
			return fmt.Errorf("log config: invalid file '%s': %w", config.Log.File, err)
		}
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log config: unknown format %q", config.Log.Format)
	}
	return nil
}

func validateServerConfig(config *ServerConfig) error {
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateSearchConfig(config *SearchConfig) error {
	if config.SiteURL != "" {
		if err := validation.ValidateURL(config.SiteURL); err != nil {
			return fmt.Errorf("invalid site_url: %w", err)
		}
	}
	if config.ResultsCount < 0 || config.ResultsCount > 500 {
		return fmt.Errorf("results_count %d is not in valid range 1-500", config.ResultsCount)
	}
	return nil
}

func validateTemplatesConfig(config *TemplatesConfig) error {
	if err := validatePath(config.Dir); err != nil {
		return fmt.Errorf("invalid dir '%s': %w", config.Dir, err)
	}
	for _, ext := range config.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("allowed extension %q must start with a dot", ext)
		}
	}
	if config.MaxResultTypes < 1 {
		return fmt.Errorf("max_result_types must be at least 1")
	}
	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
