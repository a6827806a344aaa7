// Package economy talks to the users and group-economy HTTP APIs: it resolves
// buyer handles and reads the group's recent sales.
package economy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lolgoatvowsly-cell/cookie/internal/domain"
)

const (
	DefaultBaselineLimit = 50

	sessionCookieName = ".ROBLOSECURITY"
	maxPageSize       = 100
	maxErrorBody      = 256
	tracerName        = "github.com/lolgoatvowsly-cell/cookie/internal/platform/economy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Config struct {
	UsersBaseURL   string
	EconomyBaseURL string
	GroupID        string
	Cookie         string
}

// Client implements the buyer directory and the transaction feed. Every call
// goes through one circuit breaker; while it is open calls fail fast with
// domain.ErrFetch.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer

	breakerFailures uint32
	breakerTimeout  time.Duration
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithBreaker sets how many consecutive failures open the circuit and how
// long it stays open before a trial request.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(c *Client) {
		if failures > 0 {
			c.breakerFailures = failures
		}
		if openFor > 0 {
			c.breakerTimeout = openFor
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	cfg.UsersBaseURL = strings.TrimRight(cfg.UsersBaseURL, "/")
	cfg.EconomyBaseURL = strings.TrimRight(cfg.EconomyBaseURL, "/")
	if cfg.UsersBaseURL == "" || cfg.EconomyBaseURL == "" {
		return nil, errors.New("economy: users and economy base urls are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("economy: group id is required")
	}

	c := &Client{
		cfg:             cfg,
		http:            &http.Client{Timeout: 15 * time.Second},
		logger:          zap.NewNop(),
		tracer:          otel.Tracer(tracerName),
		breakerFailures: 5,
		breakerTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "economy-api",
		MaxRequests: 1,
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= c.breakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrBuyerNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c, nil
}

type usernamesRequest struct {
	Usernames          []string `json:"usernames"`
	ExcludeBannedUsers bool     `json:"excludeBannedUsers"`
}

type usernamesResponse struct {
	Data []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

// Resolve maps a handle to the platform user id.
func (c *Client) Resolve(ctx context.Context, handle string) (int64, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return 0, domain.ErrBuyerNotFound
	}

	ctx, span := c.tracer.Start(ctx, "economy.resolve_user", trace.WithAttributes(
		attribute.String("buyer.handle", handle),
	))
	defer span.End()

	id, err := execute(c.breaker, func() (int64, error) {
		body, err := json.Marshal(usernamesRequest{Usernames: []string{handle}, ExcludeBannedUsers: true})
		if err != nil {
			return 0, err
		}
		var out usernamesResponse
		if err := c.do(ctx, http.MethodPost, c.cfg.UsersBaseURL+"/v1/usernames/users", body, &out); err != nil {
			return 0, err
		}
		if len(out.Data) == 0 || out.Data[0].ID == 0 {
			return 0, domain.ErrBuyerNotFound
		}
		return out.Data[0].ID, nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrBuyerNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolve user")
		}
		return 0, err
	}
	span.SetAttributes(attribute.Int64("buyer.id", id))
	return id, nil
}

type transactionsResponse struct {
	PreviousPageCursor string        `json:"previousPageCursor"`
	NextPageCursor     string        `json:"nextPageCursor"`
	Data               []transaction `json:"data"`
}

type transaction struct {
	IDHash  string    `json:"idHash"`
	Created time.Time `json:"created"`
	Agent   struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"agent"`
	Currency struct {
		Amount decimal.Decimal `json:"amount"`
		Type   string          `json:"type"`
	} `json:"currency"`
	Details struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"details"`
}

func (t transaction) record() domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:        t.IDHash,
		PayerID:   t.Agent.ID,
		Amount:    t.Currency.Amount,
		Currency:  t.Currency.Type,
		ItemName:  t.Details.Name,
		CreatedAt: t.Created,
	}
}

// FetchRecent returns up to limit of the group's latest sales, newest first.
func (c *Client) FetchRecent(ctx context.Context, limit int) ([]domain.TransactionRecord, error) {
	ctx, span := c.tracer.Start(ctx, "economy.fetch_transactions", trace.WithAttributes(
		attribute.Int("economy.limit", limit),
	))
	defer span.End()

	records, err := c.fetch(ctx, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch transactions")
		return nil, err
	}
	span.SetAttributes(attribute.Int("economy.records", len(records)))
	return records, nil
}

// BaselineIDs lists the ids of the latest limit sales, following page cursors.
// Used at startup so older sales are never matched to a new purchase.
func (c *Client) BaselineIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultBaselineLimit
	}
	records, err := c.fetch(ctx, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids, nil
}

func (c *Client) fetch(ctx context.Context, limit int) ([]domain.TransactionRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	out := make([]domain.TransactionRecord, 0, limit)
	cursor := ""
	for len(out) < limit {
		page, err := execute(c.breaker, func() (transactionsResponse, error) {
			var resp transactionsResponse
			err := c.do(ctx, http.MethodGet, c.transactionsURL(cursor, min(limit-len(out), maxPageSize)), nil, &resp)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		for _, tx := range page.Data {
			if len(out) == limit {
				break
			}
			out = append(out, tx.record())
		}
		if page.NextPageCursor == "" || len(page.Data) == 0 {
			break
		}
		cursor = page.NextPageCursor
	}
	return out, nil
}

func (c *Client) transactionsURL(cursor string, limit int) string {
	q := url.Values{}
	q.Set("cursor", cursor)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("transactionType", "Sale")
	return fmt.Sprintf("%s/v2/groups/%s/transactions?%s", c.cfg.EconomyBaseURL, url.PathEscape(c.cfg.GroupID), q.Encode())
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.cfg.Cookie})
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrFetch, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrFetch, method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrFetch, req.URL.Path, err)
	}
	return nil
}

// execute runs fn through the breaker and maps breaker rejections to ErrFetch.
func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", domain.ErrFetch, err)
		}
		return zero, err
	}
	return res.(T), nil
}
