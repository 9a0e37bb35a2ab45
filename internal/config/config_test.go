package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"comparison days", func(c *Config) { c.Detector.ComparisonDays = 0 }, "detector.comparison_days"},
		{"max keywords", func(c *Config) { c.Keywords.MaxKeywords = 0 }, "keywords.max_keywords"},
		{"competitors", func(c *Config) { c.Search.MaxCompetitors = 0 }, "search.max_competitors"},
		{"ai provider", func(c *Config) { c.AI.Enabled = true; c.AI.Provider = "bard" }, "ai.provider"},
		{"custom endpoint", func(c *Config) { c.AI.Enabled = true; c.AI.Provider = "custom" }, "ai.endpoint"},
		{"reserve", func(c *Config) { c.Pipeline.Reserve = c.Pipeline.Deadline }, "pipeline.reserve"},
		{"storage", func(c *Config) { c.Storage.Type = "s3" }, "storage.type"},
		{"mongo uri", func(c *Config) { c.Storage.Type = "mongo" }, "storage.mongo_uri"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"gsc endpoint", func(c *Config) { c.GSC.Endpoint = "ftp://x" }, "gsc.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rankwatch.yaml")
	yaml := `
detector:
  comparison_days: 14
  drop_threshold: 3.5
search:
  max_competitors: 5
  cache_ttl: 10m
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RANKWATCH_SEARCH_API_KEY", "secret")
	t.Setenv("RANKWATCH_KEYWORDS_MAX_KEYWORDS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Detector.ComparisonDays != 14 || cfg.Detector.DropThreshold != 3.5 {
		t.Errorf("detector = %+v", cfg.Detector)
	}
	if cfg.Search.MaxCompetitors != 5 || cfg.Search.CacheTTL != 10*time.Minute {
		t.Errorf("search = %+v", cfg.Search)
	}
	if cfg.Search.APIKey != "secret" {
		t.Errorf("api key from env = %q", cfg.Search.APIKey)
	}
	if cfg.Keywords.MaxKeywords != 7 {
		t.Errorf("max keywords from env = %d", cfg.Keywords.MaxKeywords)
	}
	// Untouched values keep their defaults.
	if cfg.GSC.LagDays != 2 {
		t.Errorf("lag days = %d, want default 2", cfg.GSC.LagDays)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
