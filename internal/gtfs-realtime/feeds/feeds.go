package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/transitpulse/internal/common/config"
	"github.com/transitpulse/internal/common/logger"
	"github.com/transitpulse/pkg/gtfs-realtime/models"
)

// retryBudget bounds in-cycle retries. Feeds refresh every cycle
// anyway, so it is cheaper to skip a feed than to chase it.
const retryBudget = 2

// Client fetches the three live status documents. All calls share one
// HTTP client; each call is bounded by its context and the client
// timeout, so a slow endpoint cannot stall a cycle indefinitely.
type Client struct {
	http   *http.Client
	cfg    config.FeedsConfig
	logger logger.Logger
}

func NewClient(cfg config.FeedsConfig, log logger.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		cfg:    cfg,
		logger: log,
	}
}

// Delays fetches the per-stop delay document.
func (c *Client) Delays(ctx context.Context) (models.DelayFeed, error) {
	var feed models.DelayFeed
	if err := c.getJSON(ctx, c.cfg.DelaysURL, &feed); err != nil {
		return nil, fmt.Errorf("fetching delays: %w", err)
	}
	return feed, nil
}

// Positions fetches the raw vehicle position list.
func (c *Client) Positions(ctx context.Context) ([]models.VehicleRecord, error) {
	var feed models.VehicleFeed
	if err := c.getJSON(ctx, c.cfg.PositionsURL, &feed); err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}
	return feed.Vehicles, nil
}

// Alerts fetches the raw service alert list.
func (c *Client) Alerts(ctx context.Context) ([]models.AlertMessage, error) {
	var messages []models.AlertMessage
	if err := c.getJSON(ctx, c.cfg.AlertsURL, &messages); err != nil {
		return nil, fmt.Errorf("fetching alerts: %w", err)
	}
	return messages, nil
}

// getJSON issues a GET and decodes the body. Transport errors and bad
// statuses are retried within the budget; a body that fails to decode
// is not, since the endpoint would just send it again.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Feed request failed, retrying",
			"url", url,
			"wait", wait.String(),
			"error", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second

	return backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retryBudget), ctx), notify)
}
