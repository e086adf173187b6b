package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-driftd/driftd/internal/alert/model"
	"github.com/go-driftd/driftd/internal/byteutil"
	"github.com/go-driftd/driftd/internal/logging"
	"github.com/go-driftd/driftd/pkg/rworker"
)

const userAgent = "driftd/0.1"

type WebhookOption func(*Webhook)

func WithRequestTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.requestTimeout = d
	}
}

func WithMaxConcurrentRequest(n int) WebhookOption {
	return func(w *Webhook) {
		w.rate = make(chan struct{}, n)
	}
}

// NewWebhook returns a Sink posting created alerts to the configured
// targets. Deliveries run as rate-limited background jobs so creation
// never waits on a slow endpoint.
func NewWebhook(ctx context.Context, targets Targets, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		targets:        targets,
		requestTimeout: 30 * time.Second,
		rate:           make(chan struct{}, 64),
		errCh:          make(chan error, 1),
		client:         &http.Client{},
	}
	for _, f := range opts {
		f(w)
	}

	logger := logging.FromContext(ctx)
	go func() {
		for err := range w.errCh {
			logger.Errorf("alert webhook error: %v", err)
		}
	}()

	return w
}

type Webhook struct {
	wg             sync.WaitGroup
	targets        Targets
	requestTimeout time.Duration
	rate           chan struct{}
	errCh          chan error
	client         *http.Client
}

var _ Sink = (*Webhook)(nil)

func (w *Webhook) Deliver(_ context.Context, alert model.Alert) error {
	for _, target := range w.targets {
		if target.MinLevel != "" && model.Rank(alert.Level) < model.Rank(model.Level(target.MinLevel)) {
			continue
		}
		target := target
		rworker.Job(&w.wg, func() error {
			return w.post(target, alert)
		}, w.rate, w.errCh)
	}
	return nil
}

// Close waits for in-flight deliveries.
func (w *Webhook) Close() {
	w.wg.Wait()
	close(w.errCh)
}

func (w *Webhook) post(target Target, alert model.Alert) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.requestTimeout)
	defer cancel()

	buffer := byteutil.GetBytesBuf()
	defer byteutil.PutBytesBuf(buffer)
	if err := json.NewEncoder(buffer).Encode(alert); err != nil {
		return fmt.Errorf("unable encode json data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", target.URL, buffer)
	if err != nil {
		return fmt.Errorf("creating request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("alert target %s response was not 200 OK: %d", target.URL, resp.StatusCode)
	}
	return nil
}
