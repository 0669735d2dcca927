package llm

import (
	"context"
	"log/slog"
	"time"

	"zapflow/internal/metrics"
)

// Fallback tries an ordered list of providers and short-circuits on the
// first non-empty reply. Providers without credentials are skipped.
type Fallback struct {
	providers []Provider
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewFallback builds the ordered chain.
func NewFallback(logger *slog.Logger, m *metrics.Metrics, providers ...Provider) *Fallback {
	return &Fallback{
		providers: providers,
		logger:    logger.With("component", "llm"),
		metrics:   m,
	}
}

// Chat runs the chain. A nil response with nil error means every provider
// was unavailable, failed or returned empty content; the caller stays silent.
func (f *Fallback) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, string, error) {
	for _, provider := range f.providers {
		if !provider.Available() {
			continue
		}

		start := time.Now()
		resp, err := provider.Chat(ctx, req)
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case resp == nil || resp.Content == "":
			status = "empty"
		}
		if f.metrics != nil {
			f.metrics.AIRequests.WithLabelValues(provider.Name(), status).Inc()
			f.metrics.AILatency.WithLabelValues(provider.Name(), status).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			f.logger.Warn("inference provider failed, trying next", "provider", provider.Name(), "error", err)
			continue
		}
		if resp == nil || resp.Content == "" {
			f.logger.Warn("inference provider returned empty content", "provider", provider.Name())
			continue
		}
		return resp, provider.Name(), nil
	}
	return nil, "", nil
}
