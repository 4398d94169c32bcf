package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Alerter posts health events to a webhook as JSON.
type Alerter struct {
	url    string
	client *http.Client
}

// NewAlerter creates an Alerter for url. A nil client uses a 10s timeout.
func NewAlerter(url string, client *http.Client) *Alerter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Alerter{url: url, client: client}
}

// Name implements Notifier.
func (a *Alerter) Name() string { return "webhook" }

// Alert is the webhook payload.
type Alert struct {
	Event
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func newAlert(e Event) Alert {
	a := Alert{Event: e, Severity: "info", Message: e.Source + " recovered"}
	if e.Type == EventUnhealthy {
		a.Severity = "high"
		a.Message = e.Source + " is unhealthy after consecutive probe failures"
	}
	return a
}

// Notify implements Notifier.
func (a *Alerter) Notify(ctx context.Context, e Event) error {
	if a.url == "" {
		return nil
	}

	payload, err := json.Marshal(newAlert(e))
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	zap.L().Info("monitoring: alert sent",
		zap.String("source", e.Source),
		zap.String("type", string(e.Type)),
	)
	return nil
}
