package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fidde/herd_weight_dashboard/internal/metrics"
)

// Default client settings.
const (
	DefaultTimeout   = 5 * time.Second
	DefaultRateLimit = 1.0
	DefaultBurst     = 3

	maxReplyBytes = 64 << 10
)

// Config configures the generator client.
type Config struct {
	// Endpoint is the generator URL. Empty disables suggestions.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds each call
	Timeout time.Duration `yaml:"timeout"`

	// RateLimit is the sustained calls per second; Burst the bucket size
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   DefaultTimeout,
		RateLimit: DefaultRateLimit,
		Burst:     DefaultBurst,
	}
}

// Request is the body sent to the generator.
type Request struct {
	LatestDataSummary string `json:"latestDataSummary"`
	SearchHistory     string `json:"searchHistory"`
}

// Reply is the generator's answer: a comma-separated list.
type Reply struct {
	SuggestedTerms string `json:"suggestedTerms"`
}

// Client calls the suggestion generator.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient creates a client. A nil logger uses slog.Default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}

	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:   logger,
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// FetchSuggestions asks the generator for search terms. It never returns
// an error: a disabled client, a rate-limited call, a timeout or a bad
// reply all yield an empty list.
func (c *Client) FetchSuggestions(ctx context.Context, history []string, summary string) []string {
	if !c.Enabled() {
		return []string{}
	}
	if !c.limiter.Allow() {
		metrics.SuggestionRequests.WithLabelValues("rate_limited").Inc()
		return []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	terms, err := c.call(ctx, Request{
		LatestDataSummary: summary,
		SearchHistory:     HistoryText(history),
	})
	if err != nil {
		metrics.SuggestionRequests.WithLabelValues("error").Inc()
		c.logger.Warn("suggestion request failed", "error", err)
		return []string{}
	}

	metrics.SuggestionRequests.WithLabelValues("ok").Inc()
	return terms
}

func (c *Client) call(ctx context.Context, body Request) ([]string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling generator: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generator returned %s", resp.Status)
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	return ParseTerms(reply.SuggestedTerms), nil
}
