package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	// RANKWATCH_SEARCH_API_KEY overrides search.api_key, and so on.
	v.SetEnvPrefix("RANKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rankwatch")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".rankwatch"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper. AutomaticEnv only resolves
// keys viper already knows about, so every field needs an entry here.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("gsc.endpoint", cfg.GSC.Endpoint)
	v.SetDefault("gsc.access_token", cfg.GSC.AccessToken)
	v.SetDefault("gsc.lag_days", cfg.GSC.LagDays)
	v.SetDefault("gsc.row_limit", cfg.GSC.RowLimit)
	v.SetDefault("gsc.request_timeout", cfg.GSC.RequestTimeout)
	v.SetDefault("gsc.requests_per_min", cfg.GSC.RequestsPerMin)

	v.SetDefault("detector.comparison_days", cfg.Detector.ComparisonDays)
	v.SetDefault("detector.drop_threshold", cfg.Detector.DropThreshold)
	v.SetDefault("detector.keyword_drop_threshold", cfg.Detector.KeywordDropThreshold)

	v.SetDefault("keywords.max_keywords", cfg.Keywords.MaxKeywords)
	v.SetDefault("keywords.metrics_limit", cfg.Keywords.MetricsLimit)

	v.SetDefault("search.api_endpoint", cfg.Search.APIEndpoint)
	v.SetDefault("search.api_key", cfg.Search.APIKey)
	v.SetDefault("search.browser_url", cfg.Search.BrowserURL)
	v.SetDefault("search.enable_browser", cfg.Search.EnableBrowser)
	v.SetDefault("search.prefer_fast", cfg.Search.PreferFast)
	v.SetDefault("search.max_competitors", cfg.Search.MaxCompetitors)
	v.SetDefault("search.retry_count", cfg.Search.RetryCount)
	v.SetDefault("search.retry_delay", cfg.Search.RetryDelay)
	v.SetDefault("search.locale", cfg.Search.Locale)
	v.SetDefault("search.requests_per_min", cfg.Search.RequestsPerMin)
	v.SetDefault("search.cache_size", cfg.Search.CacheSize)
	v.SetDefault("search.cache_ttl", cfg.Search.CacheTTL)

	v.SetDefault("fetcher.request_timeout", cfg.Fetcher.RequestTimeout)
	v.SetDefault("fetcher.follow_redirects", cfg.Fetcher.FollowRedirects)
	v.SetDefault("fetcher.max_redirects", cfg.Fetcher.MaxRedirects)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.tls_insecure", cfg.Fetcher.TLSInsecure)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)
	v.SetDefault("fetcher.user_agents", cfg.Fetcher.UserAgents)
	v.SetDefault("fetcher.proxy_rotation", cfg.Fetcher.ProxyRotation)
	v.SetDefault("fetcher.proxy_cooldown", cfg.Fetcher.ProxyCooldown)

	v.SetDefault("browser.enabled", cfg.Browser.Enabled)
	v.SetDefault("browser.control_url", cfg.Browser.ControlURL)
	v.SetDefault("browser.max_pages", cfg.Browser.MaxPages)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.nav_timeout", cfg.Browser.NavTimeout)
	v.SetDefault("browser.window_size", cfg.Browser.WindowSize)
	v.SetDefault("browser.user_data_dir", cfg.Browser.UserDataDir)

	v.SetDefault("scraper.concurrency", cfg.Scraper.Concurrency)
	v.SetDefault("scraper.min_text_chars", cfg.Scraper.MinTextChars)
	v.SetDefault("scraper.respect_robots", cfg.Scraper.RespectRobots)
	v.SetDefault("scraper.robots_ttl", cfg.Scraper.RobotsTTL)

	v.SetDefault("ai.enabled", cfg.AI.Enabled)
	v.SetDefault("ai.provider", cfg.AI.Provider)
	v.SetDefault("ai.model", cfg.AI.Model)
	v.SetDefault("ai.endpoint", cfg.AI.Endpoint)
	v.SetDefault("ai.api_key", cfg.AI.APIKey)
	v.SetDefault("ai.timeout", cfg.AI.Timeout)
	v.SetDefault("ai.max_retries", cfg.AI.MaxRetries)
	v.SetDefault("ai.requests_per_min", cfg.AI.RequestsPerMin)
	v.SetDefault("ai.max_input_chars", cfg.AI.MaxInputChars)

	v.SetDefault("pipeline.deadline", cfg.Pipeline.Deadline)
	v.SetDefault("pipeline.reserve", cfg.Pipeline.Reserve)
	v.SetDefault("pipeline.semantic_keywords", cfg.Pipeline.SemanticKeywords)
	v.SetDefault("pipeline.skip_semantic", cfg.Pipeline.SkipSemantic)
	v.SetDefault("pipeline.detect_drop", cfg.Pipeline.DetectDrop)
	v.SetDefault("pipeline.state_dir", cfg.Pipeline.StateDir)

	v.SetDefault("trial.second_fetch_timeout", cfg.Trial.SecondFetchTimeout)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.database", cfg.Storage.Database)
	v.SetDefault("storage.collection", cfg.Storage.Collection)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("api.addr", cfg.API.Addr)
	v.SetDefault("api.read_timeout", cfg.API.ReadTimeout)
	v.SetDefault("api.write_timeout", cfg.API.WriteTimeout)
}
