package datarods

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/landfall-rainfall-etl/internal/config"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/domain"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/observability"
	"github.com/couchcryptid/landfall-rainfall-etl/internal/retry"
	"golang.org/x/time/rate"
)

// responseType selects the tab-separated text layout parsed by domain.ParseSeries.
const responseType = "asc2"

// maxErrorBody caps how much of a failed response is kept in a ServiceError.
const maxErrorBody = 4 << 10

// Client fetches point time series from the GES DISC data rods service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	policy     retry.Policy
	limiter    *rate.Limiter // nil means unlimited
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a data rods client from the batch configuration.
func NewClient(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.DataRodsRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DataRodsRateLimit), 1)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.DataRodsTimeout,
		},
		baseURL: cfg.DataRodsBaseURL,
		policy: retry.Policy{
			MaxAttempts:     cfg.DataRodsMaxAttempts,
			InitialInterval: cfg.DataRodsRetryInitial,
			MaxInterval:     cfg.DataRodsRetryMax,
		},
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Fetch returns the raw asc2 response for one grid point over window.
// Non-200 responses and transport errors are retried up to the policy's
// attempt bound; exhaustion yields a *domain.ServiceError.
func (c *Client) Fetch(ctx context.Context, window domain.TimeWindow, point domain.GridPoint, variable string) (string, error) {
	fullURL := c.queryURL(window, point, variable)
	c.logger.Debug("data rods request", "url", fullURL)

	body, err := retry.Do(ctx, c.policy, func(ctx context.Context, _ int) (string, error) {
		return c.doRequest(ctx, fullURL)
	}, func(attempt int, err error, wait time.Duration) {
		c.metrics.DataRodsRetries.Inc()
		c.logger.Warn("data rods attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", c.policy.MaxAttempts,
			"wait", wait,
			"lat", point.Lat,
			"lon", point.Lon,
			"error", err,
		)
	})
	if err != nil {
		var svcErr *domain.ServiceError
		if errors.As(err, &svcErr) {
			svcErr.Attempts = max(c.policy.MaxAttempts, 1)
			return "", svcErr
		}
		return "", err
	}
	return body, nil
}

func (c *Client) queryURL(window domain.TimeWindow, point domain.GridPoint, variable string) string {
	params := url.Values{
		"variable":  {variable},
		"type":      {responseType},
		"location":  {fmt.Sprintf("GEOM:POINT(%s, %s)", formatCoord(point.Lon), formatCoord(point.Lat))},
		"startDate": {window.StartParam()},
		"endDate":   {window.EndParam()},
	}
	return c.baseURL + "?" + params.Encode()
}

// doRequest performs one attempt. Context errors are permanent; every other
// failure is returned as a *domain.ServiceError for the retry loop.
func (c *Client) doRequest(ctx context.Context, fullURL string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", retry.Permanent(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.DataRodsDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return "", retry.Permanent(ctx.Err())
		}
		c.metrics.DataRodsRequests.WithLabelValues("transport_error").Inc()
		return "", &domain.ServiceError{URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.DataRodsRequests.WithLabelValues("http_error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &domain.ServiceError{StatusCode: resp.StatusCode, URL: fullURL, Body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return "", retry.Permanent(ctx.Err())
		}
		c.metrics.DataRodsRequests.WithLabelValues("transport_error").Inc()
		return "", &domain.ServiceError{URL: fullURL, Err: fmt.Errorf("read body: %w", err)}
	}

	c.metrics.DataRodsRequests.WithLabelValues("success").Inc()
	return string(body), nil
}

// formatCoord writes the shortest decimal that round-trips, e.g. -89.5625.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
