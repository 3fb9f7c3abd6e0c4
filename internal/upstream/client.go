package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"gexflow/config"
	"gexflow/internal/models"
	"gexflow/internal/pacing"
	"gexflow/logger"
)

// Queue names used when dispatching through the pacing gate. One queue per
// feed keeps a slow feed from starving the others.
const (
	QueueChain   = "chain"
	QueueBreadth = "breadth"
)

// Client talks to the upstream brokerage API. Every request is admitted
// through the pacing gate and carries its own deadline.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	gate       *pacing.Gate
	retry      config.RetryConfig
	log        *logger.Log
}

// NewClient builds a Client from the upstream config section.
func NewClient(cfg config.UpstreamConfig, gate *pacing.Gate) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		gate:       gate,
		retry:      cfg.Retry,
		log:        logger.GetLogger(),
	}
}

type chainResponse struct {
	Symbol  string  `json:"symbol"`
	Expiry  string  `json:"expiry"`
	Spot    float64 `json:"spot"`
	Strikes []struct {
		Strike      *float64 `json:"strike"`
		OIExposure  *float64 `json:"oi_exposure"`
		VolExposure *float64 `json:"vol_exposure"`
		CallOI      float64  `json:"call_oi"`
		PutOI       float64  `json:"put_oi"`
		CallVolume  float64  `json:"call_volume"`
		PutVolume   float64  `json:"put_volume"`
	} `json:"strikes"`
}

type expirationsResponse struct {
	Expirations []string `json:"expirations"`
}

type breadthResponse struct {
	Advancers       int     `json:"advancers"`
	Decliners       int     `json:"decliners"`
	Unchanged       int     `json:"unchanged"`
	AdvancingVolume float64 `json:"advancing_volume"`
	DecliningVolume float64 `json:"declining_volume"`
}

// FetchChain retrieves the per-strike exposure set for one underlying and
// expiry. Rows with missing or non-finite fields are dropped row-by-row, not
// surfaced as errors.
func (c *Client) FetchChain(ctx context.Context, symbol, expiry string, attempts int) (*models.ChainSnapshot, error) {
	query := url.Values{"symbol": {symbol}}
	if expiry != "" {
		query.Set("expiry", expiry)
	}

	var resp chainResponse
	if err := c.getWithRetry(ctx, QueueChain, "/v1/markets/options/exposure", query, attempts, &resp); err != nil {
		return nil, err
	}

	snap := &models.ChainSnapshot{
		Symbol:    symbol,
		Expiry:    resp.Expiry,
		Spot:      resp.Spot,
		FetchedAt: time.Now().UTC(),
	}
	dropped := 0
	for _, s := range resp.Strikes {
		if s.Strike == nil || s.OIExposure == nil || s.VolExposure == nil {
			dropped++
			continue
		}
		row := models.ExposureRow{
			Strike:      *s.Strike,
			OIExposure:  *s.OIExposure,
			VolExposure: *s.VolExposure,
			CallOI:      s.CallOI,
			PutOI:       s.PutOI,
			CallVolume:  s.CallVolume,
			PutVolume:   s.PutVolume,
		}
		if !row.Valid() || row.Strike <= 0 {
			dropped++
			continue
		}
		snap.Rows = append(snap.Rows, row)
	}
	if dropped > 0 {
		c.log.WithComponent("upstream").WithFields(logger.Fields{
			"symbol":  symbol,
			"dropped": dropped,
		}).Warn("filtered malformed exposure rows")
	}
	return snap, nil
}

// FetchExpirations returns the available expiry dates for symbol, sorted
// ascending. Used to resolve the near expiry at each trading-day rollover.
func (c *Client) FetchExpirations(ctx context.Context, symbol string, attempts int) ([]string, error) {
	var resp expirationsResponse
	query := url.Values{"symbol": {symbol}}
	if err := c.getWithRetry(ctx, QueueChain, "/v1/markets/options/expirations", query, attempts, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Expirations))
	for _, e := range resp.Expirations {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, fmt.Errorf("upstream returned no expirations for %s", symbol)
	}
	return out, nil
}

// FetchBreadth retrieves the current advance/decline readings.
func (c *Client) FetchBreadth(ctx context.Context, attempts int) (*models.BreadthSnapshot, error) {
	var resp breadthResponse
	if err := c.getWithRetry(ctx, QueueBreadth, "/v1/markets/breadth", nil, attempts, &resp); err != nil {
		return nil, err
	}
	return &models.BreadthSnapshot{
		Advancers:       resp.Advancers,
		Decliners:       resp.Decliners,
		Unchanged:       resp.Unchanged,
		AdvancingVolume: resp.AdvancingVolume,
		DecliningVolume: resp.DecliningVolume,
		FetchedAt:       time.Now().UTC(),
	}, nil
}

// getWithRetry issues a GET through the pacing gate with bounded exponential
// backoff. Jitter is deliberately absent here; the poll loops add jitter at
// the cadence layer instead.
func (c *Client) getWithRetry(ctx context.Context, queueID, path string, query url.Values, attempts int, result any) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.BaseDelay << uint(attempt-1)
			if delay > c.retry.MaxDelay {
				delay = c.retry.MaxDelay
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.gate.Run(ctx, queueID, func(ctx context.Context) error {
			return c.doGet(ctx, path, query, result)
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		c.log.WithComponent("upstream").WithFields(logger.Fields{
			"path":    path,
			"attempt": attempt + 1,
		}).WithError(err).Warn("retryable upstream failure")
	}
	return fmt.Errorf("upstream retries exhausted: %w", lastErr)
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, result any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		c.log.WithComponent("upstream").WithFields(logger.Fields{
			"path":   path,
			"status": resp.StatusCode,
			"body":   truncate(apiErr.Body, 256),
		}).Debug("upstream error response")
		return apiErr
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
