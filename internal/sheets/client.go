// Package sheets fetches KPI data from the spreadsheet-backed API.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/godilite/kpi-dashboard/internal/service"
	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 20 * time.Second
	maxBodyBytes       = 10 << 20
)

var (
	ErrConfigMissing   = errors.New("SHEETS_API_URL missing")
	ErrAPIReported     = errors.New("API returned an error")
	ErrUnexpectedShape = service.ErrUnknownPayload
)

// APIError is a failure reported by the API: a non-2xx status or an `ok:false` body.
// Its message is the API's own error text when it sent one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrAPIReported.Error()
}

func (e *APIError) Is(target error) bool {
	return target == ErrAPIReported
}

type Options struct {
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Options)

func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) { o.httpClient = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.logger = logger }
}

// Client implements service.Fetcher over HTTP(S) and file:// URLs.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client. An empty URL is accepted and reported on every Fetch.
func NewClient(rawURL string, opts ...Option) *Client {
	options := &Options{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	return &Client{
		url:        rawURL,
		httpClient: options.httpClient,
		logger:     options.logger.Named("sheets"),
	}
}

// Fetch performs one GET and decodes the response into a Payload.
func (c *Client) Fetch(ctx context.Context) (service.Payload, error) {
	if c.url == "" {
		return service.Payload{}, ErrConfigMissing
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return service.Payload{}, fmt.Errorf("parse sheets url: %w", err)
	}

	var (
		body   []byte
		status = http.StatusOK
	)
	if u.Scheme == "file" {
		body, err = os.ReadFile(u.Path)
		if err != nil {
			return service.Payload{}, fmt.Errorf("read fixture: %w", err)
		}
	} else {
		body, status, err = c.get(ctx)
		if err != nil {
			return service.Payload{}, err
		}
	}

	payload, err := Decode(body, status)
	if err != nil {
		return service.Payload{}, err
	}

	c.logger.Debug("fetched kpi payload",
		zap.String("kind", payload.Kind.String()),
		zap.Int("rows", len(payload.Rows)))
	return payload, nil
}

func (c *Client) get(ctx context.Context) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch kpi: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read kpi response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Decode classifies a response body. A summary-shaped body has both weekEnding and monthGoal;
// otherwise a rows array is required.
func Decode(body []byte, status int) (service.Payload, error) {
	success := status >= 200 && status < 300

	if !success || bytes.Equal(bytes.TrimSpace(body), []byte("null")) {
		var fields map[string]json.RawMessage
		_ = json.Unmarshal(body, &fields)
		return service.Payload{}, &APIError{StatusCode: status, Message: stringField(fields["error"])}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return service.Payload{}, fmt.Errorf("%w: body is not a JSON object", ErrUnexpectedShape)
	}

	if isFalse(fields["ok"]) {
		return service.Payload{}, &APIError{StatusCode: status, Message: stringField(fields["error"])}
	}

	if stringField(fields["weekEnding"]) != "" && isPresent(fields["monthGoal"]) {
		var s service.Summary
		if err := json.Unmarshal(body, &s); err != nil {
			return service.Payload{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return service.Payload{Kind: service.PayloadSummary, Summary: &s}, nil
	}

	if raw, ok := fields["rows"]; ok && isArray(raw) {
		var rows []service.RawRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return service.Payload{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return service.Payload{Kind: service.PayloadRows, Rows: rows}, nil
	}

	return service.Payload{}, ErrUnexpectedShape
}

func isFalse(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("false"))
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func stringField(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
