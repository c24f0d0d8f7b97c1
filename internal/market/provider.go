package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"voltguard/internal/config"
	"voltguard/internal/model"
)

// Provider supplies the point-in-time market view the evaluator runs
// against. Staleness is the caller's concern.
type Provider interface {
	GetSnapshot(ctx context.Context) (model.MarketSnapshot, error)
}

// HTTPProvider polls the market-data service. Endpoint and API key are
// injected through config, never read from ambient process state.
type HTTPProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewHTTPProvider(cfg config.MarketHTTPConfig, logger *slog.Logger) *HTTPProvider {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPProvider{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		attempts:   attempts,
		backoff:    cfg.RetryBackoff,
		logger:     logger,
	}
}

func (p *HTTPProvider) GetSnapshot(ctx context.Context) (model.MarketSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			if !backoffSleep(ctx, p.backoff*time.Duration(1<<(attempt-1))) {
				return model.MarketSnapshot{}, ctx.Err()
			}
		}
		snapshot, err := p.fetch(ctx)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
		if p.logger != nil {
			p.logger.Warn("snapshot fetch failed", "attempt", attempt+1, "err", err)
		}
	}
	return model.MarketSnapshot{}, fmt.Errorf("get snapshot: %w", lastErr)
}

func (p *HTTPProvider) fetch(ctx context.Context) (model.MarketSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/market/snapshot", nil)
	if err != nil {
		return model.MarketSnapshot{}, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return model.MarketSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.MarketSnapshot{}, fmt.Errorf("market data returned %d: %s", resp.StatusCode, string(snippet))
	}
	var snapshot model.MarketSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return model.MarketSnapshot{}, err
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}
	return snapshot, nil
}

func backoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
