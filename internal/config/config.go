package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for RankWatch.
type Config struct {
	GSC      GSCConfig      `mapstructure:"gsc"      yaml:"gsc"`
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector"`
	Keywords KeywordsConfig `mapstructure:"keywords" yaml:"keywords"`
	Search   SearchConfig   `mapstructure:"search"   yaml:"search"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"  yaml:"fetcher"`
	Browser  BrowserConfig  `mapstructure:"browser"  yaml:"browser"`
	Scraper  ScraperConfig  `mapstructure:"scraper"  yaml:"scraper"`
	AI       AIConfig       `mapstructure:"ai"       yaml:"ai"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Trial    TrialConfig    `mapstructure:"trial"    yaml:"trial"`
	Storage  StorageConfig  `mapstructure:"storage"  yaml:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"  yaml:"metrics"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"`
}

// GSCConfig controls the search-console rank series client.
type GSCConfig struct {
	Endpoint       string        `mapstructure:"endpoint"        yaml:"endpoint"`
	AccessToken    string        `mapstructure:"access_token"    yaml:"access_token"`
	LagDays        int           `mapstructure:"lag_days"        yaml:"lag_days"`
	RowLimit       int           `mapstructure:"row_limit"       yaml:"row_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RequestsPerMin int           `mapstructure:"requests_per_min" yaml:"requests_per_min"`
}

// DetectorConfig holds the rank-drop policy knobs.
type DetectorConfig struct {
	ComparisonDays       int     `mapstructure:"comparison_days"        yaml:"comparison_days"`
	DropThreshold        float64 `mapstructure:"drop_threshold"         yaml:"drop_threshold"`
	KeywordDropThreshold float64 `mapstructure:"keyword_drop_threshold" yaml:"keyword_drop_threshold"`
}

// KeywordsConfig controls keyword prioritization.
type KeywordsConfig struct {
	MaxKeywords  int `mapstructure:"max_keywords"  yaml:"max_keywords"`
	MetricsLimit int `mapstructure:"metrics_limit" yaml:"metrics_limit"`
}

// SearchConfig controls competitor discovery.
type SearchConfig struct {
	APIEndpoint    string        `mapstructure:"api_endpoint"     yaml:"api_endpoint"`
	APIKey         string        `mapstructure:"api_key"          yaml:"api_key"`
	BrowserURL     string        `mapstructure:"browser_url"      yaml:"browser_url"`
	EnableBrowser  bool          `mapstructure:"enable_browser"   yaml:"enable_browser"`
	PreferFast     bool          `mapstructure:"prefer_fast"      yaml:"prefer_fast"`
	MaxCompetitors int           `mapstructure:"max_competitors"  yaml:"max_competitors"`
	RetryCount     int           `mapstructure:"retry_count"      yaml:"retry_count"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"      yaml:"retry_delay"`
	Locale         string        `mapstructure:"locale"           yaml:"locale"`
	RequestsPerMin int           `mapstructure:"requests_per_min" yaml:"requests_per_min"`
	CacheSize      int           `mapstructure:"cache_size"       yaml:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"        yaml:"cache_ttl"`
}

// FetcherConfig controls the plain HTTP page fetcher.
type FetcherConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"   yaml:"request_timeout"`
	FollowRedirects bool          `mapstructure:"follow_redirects"  yaml:"follow_redirects"`
	MaxRedirects    int           `mapstructure:"max_redirects"     yaml:"max_redirects"`
	MaxBodySize     int64         `mapstructure:"max_body_size"     yaml:"max_body_size"`
	TLSInsecure     bool          `mapstructure:"tls_insecure"      yaml:"tls_insecure"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout" yaml:"idle_conn_timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	UserAgents      []string      `mapstructure:"user_agents"       yaml:"user_agents"`
	Proxies         []string      `mapstructure:"proxies"           yaml:"proxies"`
	ProxyRotation   string        `mapstructure:"proxy_rotation"    yaml:"proxy_rotation"`
	ProxyCooldown   time.Duration `mapstructure:"proxy_cooldown"    yaml:"proxy_cooldown"`
}

// BrowserConfig controls the headless browser used for rendering.
type BrowserConfig struct {
	Enabled     bool          `mapstructure:"enabled"      yaml:"enabled"`
	ControlURL  string        `mapstructure:"control_url"  yaml:"control_url"`
	MaxPages    int           `mapstructure:"max_pages"    yaml:"max_pages"`
	Stealth     bool          `mapstructure:"stealth"      yaml:"stealth"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"  yaml:"nav_timeout"`
	WindowSize  string        `mapstructure:"window_size"  yaml:"window_size"`
	UserDataDir string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
}

// ScraperConfig controls article extraction.
type ScraperConfig struct {
	Concurrency  int `mapstructure:"concurrency"    yaml:"concurrency"`
	MinTextChars int `mapstructure:"min_text_chars" yaml:"min_text_chars"`

	// RespectRobots skips pages whose robots.txt disallows RankWatch.
	RespectRobots bool          `mapstructure:"respect_robots" yaml:"respect_robots"`
	RobotsTTL     time.Duration `mapstructure:"robots_ttl"     yaml:"robots_ttl"`
}

// AIConfig controls LLM integration for semantic diffs.
type AIConfig struct {
	Enabled        bool          `mapstructure:"enabled"          yaml:"enabled"`
	Provider       string        `mapstructure:"provider"         yaml:"provider"`
	Model          string        `mapstructure:"model"            yaml:"model"`
	Endpoint       string        `mapstructure:"endpoint"         yaml:"endpoint"`
	APIKey         string        `mapstructure:"api_key"          yaml:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"          yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"      yaml:"max_retries"`
	RequestsPerMin int           `mapstructure:"requests_per_min" yaml:"requests_per_min"`
	MaxInputChars  int           `mapstructure:"max_input_chars"  yaml:"max_input_chars"`
}

// PipelineConfig controls the three-step analysis.
type PipelineConfig struct {
	Deadline         time.Duration `mapstructure:"deadline"          yaml:"deadline"`
	Reserve          time.Duration `mapstructure:"reserve"           yaml:"reserve"`
	SemanticKeywords int           `mapstructure:"semantic_keywords" yaml:"semantic_keywords"`
	SkipSemantic     bool          `mapstructure:"skip_semantic"     yaml:"skip_semantic"`
	DetectDrop       bool          `mapstructure:"detect_drop"       yaml:"detect_drop"`
	StateDir         string        `mapstructure:"state_dir"         yaml:"state_dir"`
}

// TrialConfig controls the unauthenticated try-before-signup path.
type TrialConfig struct {
	SecondFetchTimeout time.Duration `mapstructure:"second_fetch_timeout" yaml:"second_fetch_timeout"`
}

// StorageConfig controls result persistence.
type StorageConfig struct {
	Type       string `mapstructure:"type"        yaml:"type"`
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	MongoURI   string `mapstructure:"mongo_uri"   yaml:"mongo_uri"`
	Database   string `mapstructure:"database"    yaml:"database"`
	Collection string `mapstructure:"collection"  yaml:"collection"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// APIConfig controls the HTTP step endpoints.
type APIConfig struct {
	Addr         string        `mapstructure:"addr"          yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GSC: GSCConfig{
			Endpoint:       "https://www.googleapis.com/webmasters/v3",
			LagDays:        2,
			RowLimit:       250,
			RequestTimeout: 20 * time.Second,
			RequestsPerMin: 600,
		},
		Detector: DetectorConfig{
			ComparisonDays:       7,
			DropThreshold:        2.0,
			KeywordDropThreshold: 10,
		},
		Keywords: KeywordsConfig{
			MaxKeywords:  3,
			MetricsLimit: 100,
		},
		Search: SearchConfig{
			APIEndpoint:    "https://google.serper.dev/search",
			BrowserURL:     "https://www.google.com/search",
			EnableBrowser:  false,
			PreferFast:     true,
			MaxCompetitors: 10,
			RetryCount:     2,
			RetryDelay:     500 * time.Millisecond,
			Locale:         "us-en",
			RequestsPerMin: 120,
			CacheSize:      512,
			CacheTTL:       30 * time.Minute,
		},
		Fetcher: FetcherConfig{
			RequestTimeout:  15 * time.Second,
			FollowRedirects: true,
			MaxRedirects:    10,
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    100,
			ProxyRotation:   "round_robin",
			ProxyCooldown:   time.Minute,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		Browser: BrowserConfig{
			Enabled:    false,
			MaxPages:   4,
			Stealth:    true,
			NavTimeout: 30 * time.Second,
			WindowSize: "1366,768",
		},
		Scraper: ScraperConfig{
			Concurrency:   5,
			MinTextChars:  200,
			RespectRobots: true,
			RobotsTTL:     time.Hour,
		},
		AI: AIConfig{
			Enabled:        false,
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			Timeout:        45 * time.Second,
			MaxRetries:     2,
			RequestsPerMin: 30,
			MaxInputChars:  6000,
		},
		Pipeline: PipelineConfig{
			Deadline:         60 * time.Second,
			Reserve:          5 * time.Second,
			SemanticKeywords: 1,
			DetectDrop:       true,
			StateDir:         "./state",
		},
		Trial: TrialConfig{
			SecondFetchTimeout: 8 * time.Second,
		},
		Storage: StorageConfig{
			Type:       "file",
			OutputPath: "./output",
			Database:   "rankwatch",
			Collection: "analyses",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		API: APIConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
		},
	}
}
