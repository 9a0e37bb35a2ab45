package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if cfg.GSC.LagDays < 1 {
		return fmt.Errorf("gsc.lag_days must be >= 1, got %d", cfg.GSC.LagDays)
	}
	if cfg.GSC.RowLimit < 1 || cfg.GSC.RowLimit > 25000 {
		return fmt.Errorf("gsc.row_limit must be 1-25000, got %d", cfg.GSC.RowLimit)
	}
	if err := validateEndpoint("gsc.endpoint", cfg.GSC.Endpoint); err != nil {
		return err
	}

	if cfg.Detector.ComparisonDays < 1 {
		return fmt.Errorf("detector.comparison_days must be >= 1, got %d", cfg.Detector.ComparisonDays)
	}
	if cfg.Detector.DropThreshold < 0 {
		return fmt.Errorf("detector.drop_threshold must be >= 0, got %g", cfg.Detector.DropThreshold)
	}
	if cfg.Detector.KeywordDropThreshold < 1 {
		return fmt.Errorf("detector.keyword_drop_threshold must be >= 1, got %g", cfg.Detector.KeywordDropThreshold)
	}

	if cfg.Keywords.MaxKeywords < 1 {
		return fmt.Errorf("keywords.max_keywords must be >= 1, got %d", cfg.Keywords.MaxKeywords)
	}

	if cfg.Search.MaxCompetitors < 1 || cfg.Search.MaxCompetitors > 100 {
		return fmt.Errorf("search.max_competitors must be 1-100, got %d", cfg.Search.MaxCompetitors)
	}
	if cfg.Search.RetryCount < 0 {
		return fmt.Errorf("search.retry_count must be >= 0, got %d", cfg.Search.RetryCount)
	}
	if cfg.Search.CacheSize < 0 {
		return fmt.Errorf("search.cache_size must be >= 0, got %d", cfg.Search.CacheSize)
	}
	if cfg.Search.APIEndpoint != "" {
		if err := validateEndpoint("search.api_endpoint", cfg.Search.APIEndpoint); err != nil {
			return err
		}
	}

	if cfg.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("fetcher.request_timeout must be > 0")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}
	if cfg.Fetcher.MaxRedirects < 0 {
		return fmt.Errorf("fetcher.max_redirects must be >= 0")
	}
	switch cfg.Fetcher.ProxyRotation {
	case "", "round_robin", "random":
	default:
		return fmt.Errorf("fetcher.proxy_rotation must be round_robin or random, got %q", cfg.Fetcher.ProxyRotation)
	}
	for _, p := range cfg.Fetcher.Proxies {
		if err := validateEndpoint("fetcher.proxies", p); err != nil {
			return err
		}
	}

	if cfg.Browser.Enabled && cfg.Browser.MaxPages < 1 {
		return fmt.Errorf("browser.max_pages must be >= 1, got %d", cfg.Browser.MaxPages)
	}

	if cfg.Scraper.Concurrency < 1 || cfg.Scraper.Concurrency > 64 {
		return fmt.Errorf("scraper.concurrency must be 1-64, got %d", cfg.Scraper.Concurrency)
	}

	if cfg.AI.Enabled {
		validProviders := map[string]bool{
			"ollama": true, "openai": true, "custom": true, "eino": true,
		}
		if !validProviders[cfg.AI.Provider] {
			return fmt.Errorf("ai.provider must be ollama/openai/custom/eino, got %q", cfg.AI.Provider)
		}
		if cfg.AI.Provider == "custom" && cfg.AI.Endpoint == "" {
			return fmt.Errorf("ai.endpoint is required for the custom provider")
		}
	}

	if cfg.Pipeline.Deadline <= 0 {
		return fmt.Errorf("pipeline.deadline must be > 0")
	}
	if cfg.Pipeline.Reserve < 0 || cfg.Pipeline.Reserve >= cfg.Pipeline.Deadline {
		return fmt.Errorf("pipeline.reserve must be in [0, deadline), got %s", cfg.Pipeline.Reserve)
	}
	if cfg.Pipeline.SemanticKeywords < 0 {
		return fmt.Errorf("pipeline.semantic_keywords must be >= 0, got %d", cfg.Pipeline.SemanticKeywords)
	}

	validStorageTypes := map[string]bool{
		"file": true, "mongo": true, "multi": true, "none": true,
	}
	if !validStorageTypes[cfg.Storage.Type] {
		return fmt.Errorf("storage.type %q is not supported (valid: file, mongo, multi, none)", cfg.Storage.Type)
	}
	if (cfg.Storage.Type == "mongo" || cfg.Storage.Type == "multi") && cfg.Storage.MongoURI == "" {
		return fmt.Errorf("storage.mongo_uri is required for storage.type %q", cfg.Storage.Type)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}

func validateEndpoint(field, raw string) error {
	if err := ValidateURL(raw); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// ValidateURL checks if a URL string is a usable absolute http(s) URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
