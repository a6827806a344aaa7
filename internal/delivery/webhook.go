// Package delivery hands purchased items to the buyer's delivery endpoint.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxDetailBytes = 512
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Webhook struct {
	client *http.Client
	logger *zap.Logger
}

type Option func(*Webhook)

func WithHTTPClient(client *http.Client) Option {
	return func(w *Webhook) {
		if client != nil {
			w.client = client
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(w *Webhook) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWebhook(opts ...Option) *Webhook {
	w := &Webhook{
		client: &http.Client{Timeout: defaultTimeout},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type itemPayload struct {
	Identifier   string `json:"identifier"`
	Secret       string `json:"secret"`
	SessionToken string `json:"session_token"`
}

type payload struct {
	Count int           `json:"count"`
	Items []itemPayload `json:"items"`
}

// Deliver returns a delivery callback that POSTs the items to url.
// A transport failure, 404 or 410 means the buyer cannot be reached.
func (w *Webhook) Deliver(url string) func(ctx context.Context, items []domain.InventoryItem) domain.DeliveryResult {
	return func(ctx context.Context, items []domain.InventoryItem) domain.DeliveryResult {
		return w.post(ctx, url, items)
	}
}

func (w *Webhook) post(ctx context.Context, url string, items []domain.InventoryItem) domain.DeliveryResult {
	body := payload{Count: len(items), Items: make([]itemPayload, 0, len(items))}
	for _, item := range items {
		body.Items = append(body.Items, itemPayload{
			Identifier:   item.Identifier,
			Secret:       item.Secret,
			SessionToken: item.SessionToken,
		})
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.DeliveryFailed(fmt.Sprintf("encode payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return domain.BuyerUnreachable(fmt.Sprintf("invalid delivery url: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Info("delivery endpoint unreachable", zap.String("url", url), zap.Error(err))
		return domain.BuyerUnreachable(err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.Delivered()
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return domain.BuyerUnreachable(fmt.Sprintf("delivery endpoint returned %d", resp.StatusCode))
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
		detail := fmt.Sprintf("delivery endpoint returned %d", resp.StatusCode)
		if len(bytes.TrimSpace(snippet)) > 0 {
			detail += ": " + string(bytes.TrimSpace(snippet))
		}
		w.logger.Warn("delivery rejected", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return domain.DeliveryFailed(detail)
	}
}
