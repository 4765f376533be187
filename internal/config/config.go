// file: internal/config/config.go
// version: 2.0.0
// guid: 7b8c9d0e-1f2a-3b4c-5d6e-7f8a9b0c1d2e

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session is one entry of the static session table.
type Session struct {
	Name        string `mapstructure:"name" yaml:"name"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
	Year        int    `mapstructure:"year" yaml:"year"`
	Manifest    string `mapstructure:"manifest" yaml:"manifest"`
	ChunkPrefix string `mapstructure:"chunk_prefix" yaml:"chunk_prefix"`
	Dataset     string `mapstructure:"dataset" yaml:"dataset,omitempty"`
}

// Config holds application configuration
type Config struct {
	// Data source: DataDir wins over DataURL when both are set.
	DataURL        string
	DataDir        string
	DefaultSession string
	Sessions       []Session

	// Loader
	ChunkCacheSize int
	FetchAttempts  int
	FetchBaseDelay time.Duration
	FetchTimeout   time.Duration
	FetchRateLimit float64
	DiskCachePath  string
	DiskCacheTTL   time.Duration

	// Search
	SearchLimit     int
	SearchThreshold float64
	SearchDebounce  time.Duration
	QueryCacheSize  int

	// Presentation
	Language         string
	ShowErrorDetails bool

	// Server
	Host          string
	Port          int
	RateLimit     float64
	RateBurst     int
	WatchDataDir  bool
	Preload       bool
	Workers       int
	ShutdownGrace time.Duration
}

var AppConfig Config

// DefaultSessions is the session table used when none is configured.
func DefaultSessions() []Session {
	return []Session{
		{
			Name:        "regular",
			DisplayName: "Session normale",
			Year:        2025,
			Manifest:    "regular/index.json",
			ChunkPrefix: "regular/chunks",
		},
		{
			Name:        "complementary",
			DisplayName: "Session complémentaire",
			Year:        2025,
			Manifest:    "complementary/index.json",
			ChunkPrefix: "complementary/chunks",
		},
	}
}

// SetDefaults registers every default with viper.
func SetDefaults() {
	viper.SetDefault("data_url", "")
	viper.SetDefault("data_dir", "")
	viper.SetDefault("default_session", "regular")

	viper.SetDefault("chunk_cache_size", 5)
	viper.SetDefault("fetch_attempts", 3)
	viper.SetDefault("fetch_base_delay", 500*time.Millisecond)
	viper.SetDefault("fetch_timeout", 15*time.Second)
	viper.SetDefault("fetch_rate_limit", 0.0)
	viper.SetDefault("disk_cache_path", "")
	viper.SetDefault("disk_cache_ttl", 24*time.Hour)

	viper.SetDefault("search_limit", 20)
	viper.SetDefault("search_threshold", 0.4)
	viper.SetDefault("search_debounce", 150*time.Millisecond)
	viper.SetDefault("query_cache_size", 100)

	viper.SetDefault("language", "ar")
	viper.SetDefault("show_error_details", false)

	viper.SetDefault("host", "0.0.0.0")
	viper.SetDefault("port", 8080)
	viper.SetDefault("rate_limit", 20.0)
	viper.SetDefault("rate_burst", 40)
	viper.SetDefault("watch_data_dir", false)
	viper.SetDefault("preload", false)
	viper.SetDefault("workers", 2)
	viper.SetDefault("shutdown_grace", 10*time.Second)
}

// InitConfig initializes the application configuration
func InitConfig() {
	SetDefaults()

	AppConfig = Config{
		DataURL:        strings.TrimSpace(viper.GetString("data_url")),
		DataDir:        strings.TrimSpace(viper.GetString("data_dir")),
		DefaultSession: viper.GetString("default_session"),

		ChunkCacheSize: viper.GetInt("chunk_cache_size"),
		FetchAttempts:  viper.GetInt("fetch_attempts"),
		FetchBaseDelay: viper.GetDuration("fetch_base_delay"),
		FetchTimeout:   viper.GetDuration("fetch_timeout"),
		FetchRateLimit: viper.GetFloat64("fetch_rate_limit"),
		DiskCachePath:  viper.GetString("disk_cache_path"),
		DiskCacheTTL:   viper.GetDuration("disk_cache_ttl"),

		SearchLimit:     viper.GetInt("search_limit"),
		SearchThreshold: viper.GetFloat64("search_threshold"),
		SearchDebounce:  viper.GetDuration("search_debounce"),
		QueryCacheSize:  viper.GetInt("query_cache_size"),

		Language:         viper.GetString("language"),
		ShowErrorDetails: viper.GetBool("show_error_details"),

		Host:          viper.GetString("host"),
		Port:          viper.GetInt("port"),
		RateLimit:     viper.GetFloat64("rate_limit"),
		RateBurst:     viper.GetInt("rate_burst"),
		WatchDataDir:  viper.GetBool("watch_data_dir"),
		Preload:       viper.GetBool("preload"),
		Workers:       viper.GetInt("workers"),
		ShutdownGrace: viper.GetDuration("shutdown_grace"),
	}

	var sessions []Session
	if viper.IsSet("sessions") {
		if err := viper.UnmarshalKey("sessions", &sessions); err != nil {
			sessions = nil
		}
	}
	if len(sessions) == 0 {
		sessions = DefaultSessions()
	}
	AppConfig.Sessions = sessions
}

// Session looks up a session by name.
func (c Config) Session(name string) (Session, bool) {
	for _, s := range c.Sessions {
		if s.Name == name {
			return s, true
		}
	}
	return Session{}, false
}

// Validate reports configuration errors that would make the loaders
// unusable.
func (c Config) Validate() error {
	var errs []error
	if len(c.Sessions) == 0 {
		errs = append(errs, errors.New("no sessions configured"))
	}
	seen := map[string]bool{}
	for i, s := range c.Sessions {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("session %d has no name", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("duplicate session %q", s.Name))
		}
		seen[s.Name] = true
		if s.Manifest == "" && s.Dataset == "" {
			errs = append(errs, fmt.Errorf("session %q needs a manifest or a dataset", s.Name))
		}
	}
	if c.DefaultSession != "" && !seen[c.DefaultSession] {
		errs = append(errs, fmt.Errorf("default session %q is not configured", c.DefaultSession))
	}
	if c.ChunkCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_cache_size must be positive, got %d", c.ChunkCacheSize))
	}
	if c.FetchAttempts <= 0 {
		errs = append(errs, fmt.Errorf("fetch_attempts must be positive, got %d", c.FetchAttempts))
	}
	if c.QueryCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("query_cache_size must be positive, got %d", c.QueryCacheSize))
	}
	if c.SearchThreshold < 0 || c.SearchThreshold > 1 {
		errs = append(errs, fmt.Errorf("search_threshold must be within [0,1], got %v", c.SearchThreshold))
	}
	return errors.Join(errs...)
}
