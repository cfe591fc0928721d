// Package forecast wraps the external flow-forecast provider. The engine
// passes site and date range through and returns the payload opaquely; it
// never interprets the model's output.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrForecastUnavailable marks gauges the provider cannot forecast and
// provider failures alike; callers surface it as "not available" rather than
// an exception path.
var ErrForecastUnavailable = errors.New("forecast: not available")

// Request identifies the site and window to forecast.
type Request struct {
	SiteID           string
	ReadingParameter string
	StartDate        time.Time
	EndDate          time.Time
}

// Payload is the provider's structured result, passed through unparsed.
type Payload struct {
	SiteID string          `json:"siteId"`
	Body   json.RawMessage `json:"body"`
}

// ClientConfig carries the dependencies for a Client.
type ClientConfig struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *zap.Logger
}

// Client calls the forecast provider endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient constructs a forecast provider client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

// Forecast fetches the provider's prediction for the request window. Any
// provider failure maps to ErrForecastUnavailable.
func (c *Client) Forecast(ctx context.Context, request Request) (Payload, error) {
	if c.baseURL == "" {
		return Payload{}, fmt.Errorf("%w: no provider configured", ErrForecastUnavailable)
	}

	query := url.Values{}
	query.Set("siteId", request.SiteID)
	query.Set("readingParameter", request.ReadingParameter)
	query.Set("startDate", request.StartDate.UTC().Format("2006-01-02"))
	query.Set("endDate", request.EndDate.UTC().Format("2006-01-02"))

	endpoint := fmt.Sprintf("%s/forecast?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrForecastUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrForecastUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("forecast provider returned error status",
			zap.String("site_id", request.SiteID), zap.Int("status", resp.StatusCode))
		return Payload{}, fmt.Errorf("%w: status %d", ErrForecastUnavailable, resp.StatusCode)
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Payload{}, fmt.Errorf("%w: decode: %v", ErrForecastUnavailable, err)
	}

	return Payload{SiteID: request.SiteID, Body: body}, nil
}
