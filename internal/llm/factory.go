package llm

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/RankWatch/internal/config"
	"github.com/IshaanNene/RankWatch/internal/observability"
)

// New builds the configured backend wrapped in a Limited. It returns nil
// and no error when AI is disabled.
func New(ctx context.Context, cfg *config.AIConfig, logger *slog.Logger, metrics *observability.Metrics) (Generator, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var backend Generator
	switch Provider(cfg.Provider) {
	case ProviderOllama, ProviderOpenAI, ProviderCustom:
		backend = NewHTTPClient(HTTPConfig{
			Provider:    Provider(cfg.Provider),
			Endpoint:    cfg.Endpoint,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Temperature: 0.2,
			Timeout:     cfg.Timeout,
		}, logger)
	case ProviderEino:
		g, err := NewEinoOpenAI(ctx, cfg.Endpoint, cfg.APIKey, cfg.Model, logger)
		if err != nil {
			return nil, err
		}
		backend = g
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	opts := []LimitedOption{
		WithTimeout(cfg.Timeout),
		WithRetries(cfg.MaxRetries, defaultRetryDelay),
		WithMetrics(metrics),
	}
	if cfg.RequestsPerMin > 0 {
		opts = append(opts, WithLimiter(rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMin)/60.0), 1)))
	}
	return NewLimited(backend, logger, opts...), nil
}
