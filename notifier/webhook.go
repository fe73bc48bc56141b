package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"

	appconfig "feeseller/config"
	"feeseller/logger"
	"feeseller/models"
)

// NotificationError wraps a delivery failure. Notifications are best effort,
// so callers log the error and move on.
type NotificationError struct {
	URL string
	Err error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("webhook notification to %s failed: %v", e.URL, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Webhook_Notifier posts cycle outcomes as JSON to the configured endpoint,
// retrying transient failures with exponential backoff.
type Webhook_Notifier struct {
	url        string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Log
}

// Webhook_NewNotifier builds the notifier from the environment contract and
// tuning configuration.
func Webhook_NewNotifier(cfg *appconfig.Config) *Webhook_Notifier {
	ncfg := cfg.Notifier

	timeout := ncfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Webhook_Notifier{
		url:        cfg.Env.WebhookURL,
		client:     &http.Client{Timeout: timeout},
		maxRetries: ncfg.MaxRetries,
		baseDelay:  ncfg.BaseDelay,
		maxDelay:   ncfg.MaxDelay,
		log:        logger.GetLogger(),
	}
}

// Notify delivers the cycle outcome. Delivery failures never propagate as
// fatal: the returned error is a *NotificationError for the caller to log.
func (n *Webhook_Notifier) Notify(ctx context.Context, outcome *models.CycleOutcome) error {
	log := n.log.WithComponent("webhook_notifier").WithFields(logger.Fields{
		"cycle_id": outcome.CycleID,
		"severity": outcome.Severity,
	})

	body, err := json.Marshal(outcome)
	if err != nil {
		logger.IncrementNotification(true)
		return &NotificationError{URL: n.url, Err: fmt.Errorf("failed to encode outcome: %w", err)}
	}

	b := &backoff.Backoff{
		Min:    n.baseDelay,
		Max:    n.maxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			wait := b.Duration()
			log.WithFields(logger.Fields{
				"attempt": attempt,
				"wait":    wait.String(),
			}).WithError(lastErr).Warn("webhook delivery failed, retrying")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				logger.IncrementNotification(true)
				return &NotificationError{URL: n.url, Err: ctx.Err()}
			}
		}

		lastErr = n.post(ctx, body)
		if lastErr == nil {
			logger.IncrementNotification(false)
			log.Debug("webhook delivered")
			return nil
		}
	}

	logger.IncrementNotification(true)
	return &NotificationError{URL: n.url, Err: lastErr}
}

func (n *Webhook_Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
