package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"voltguard/internal/config"
	"voltguard/internal/model"
)

// Controller is the narrow surface of the external device-control
// service. Electrical safety interlocks live on the other side of it.
type Controller interface {
	GetDevices(ctx context.Context) ([]model.Device, error)
	// SetPower commands the target state for a set of devices and
	// returns a per-device error map (nil entry = command accepted).
	SetPower(ctx context.Context, deviceIDs []string, target model.DeviceStatus) (map[string]error, error)
}

// Client talks to the device-control service over HTTP. Endpoint and
// credentials are injected, never read from the environment. Calls
// retry with backoff and sit behind a circuit breaker so a dead
// service fails fast instead of stalling the control loop.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	attempts   int
	backoff    time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewClient(cfg config.DevicesConfig, logger *slog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:        "device-control",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Breaker.ConsecutiveFailures
		},
	}
	if logger != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("breaker state change", "name", name, "from", from.String(), "to", to.String())
		}
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		attempts:   attempts,
		backoff:    cfg.RetryBackoff,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}
}

type devicesResponse struct {
	Devices []model.Device `json:"devices"`
}

func (c *Client) GetDevices(ctx context.Context) ([]model.Device, error) {
	var out devicesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/devices", nil, &out); err != nil {
		return nil, fmt.Errorf("get devices: %w", err)
	}
	return out.Devices, nil
}

type setPowerRequest struct {
	DeviceIDs   []string           `json:"device_ids"`
	TargetState model.DeviceStatus `json:"target_state"`
}

type setPowerResponse struct {
	Results []struct {
		DeviceID string `json:"device_id"`
		OK       bool   `json:"ok"`
		Error    string `json:"error,omitempty"`
	} `json:"results"`
}

func (c *Client) SetPower(ctx context.Context, deviceIDs []string, target model.DeviceStatus) (map[string]error, error) {
	req := setPowerRequest{DeviceIDs: deviceIDs, TargetState: target}
	var out setPowerResponse
	if err := c.doJSON(ctx, http.MethodPost, "/devices/power", req, &out); err != nil {
		return nil, fmt.Errorf("set power: %w", err)
	}
	results := make(map[string]error, len(out.Results))
	for _, r := range out.Results {
		if r.OK {
			results[r.DeviceID] = nil
			continue
		}
		msg := r.Error
		if msg == "" {
			msg = "command rejected"
		}
		results[r.DeviceID] = fmt.Errorf("%s", msg)
	}
	return results, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			if !backoffSleep(ctx, c.backoff*time.Duration(1<<(attempt-1))) {
				return ctx.Err()
			}
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.doOnce(ctx, method, path, body, out)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			// No point retrying into an open breaker.
			return err
		}
		if c.logger != nil {
			c.logger.Warn("device control request failed", "method", method, "path", path, "attempt", attempt+1, "err", err)
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("device control returned %d: %s", resp.StatusCode, string(snippet))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
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
