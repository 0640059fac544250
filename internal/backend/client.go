package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cashier-board/internal/order"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrUpstream = errors.New("upstream_error")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	HTTP      *http.Client
	Logger    *zap.Logger
}

// Client talks to the storefront order API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTP
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   strings.TrimSpace(opts.Token),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// ListOrders fetches GET /orders/, optionally only orders newer than sinceID.
// Elements that cannot be decoded are skipped and logged.
func (c *Client) ListOrders(ctx context.Context, sinceID *int64) ([]order.Patch, error) {
	path := "/orders/"
	if sinceID != nil {
		path += "?since_id=" + strconv.FormatInt(*sinceID, 10)
	}
	raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	patches, skipped, err := order.DecodeList(raw)
	if err != nil {
		return nil, fmt.Errorf("decode order list: %w", err)
	}
	if len(skipped) > 0 {
		c.logger.Warn("order list elements skipped",
			zap.String("path", path),
			zap.Int("skipped", len(skipped)),
			zap.Int("kept", len(patches)),
			zap.Error(skipped[0]),
		)
	}
	return patches, nil
}

func (c *Client) PatchOrder(ctx context.Context, id int64, body json.RawMessage) error {
	_, err := c.do(ctx, http.MethodPatch, detailPath(id), body)
	return err
}

func (c *Client) DeleteOrder(ctx context.Context, id int64) error {
	_, err := c.do(ctx, http.MethodDelete, detailPath(id), nil)
	return err
}

// CreateOrder forwards a counter order and returns the backend's response
// body untouched.
func (c *Client) CreateOrder(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, errors.New("order body is not valid json")
	}
	raw, err := c.do(ctx, http.MethodPost, "/orders/", body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

func detailPath(id int64) string {
	return "/details/" + strconv.FormatInt(id, 10) + "/"
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "cashier-board")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, Code: res.StatusCode, Body: strings.TrimSpace(string(payload))}
	}
	return payload, nil
}
