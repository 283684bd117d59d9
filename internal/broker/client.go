// Package broker talks to a binary-options brokerage whose HTTP contract is only
// partially known: every logical operation tries an ordered list of candidate
// endpoints and normalizes whichever response shape comes back.
package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/investbot/internal/domain"
)

const (
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultCurrency     = "USD"
	maxResponseBytes    = 1 << 20
	sessionCookieName   = "ssid"
)

// CredentialStore is the source of the current credential and the sink for rotated session ids.
type CredentialStore interface {
	Current() (domain.Credential, bool)
	// UpdateSessionID receives the credential the rotating request was sent with.
	UpdateSessionID(sentWith domain.Credential, id string) error
}

// Client talks to the broker API and guesses endpoints it cannot know in advance.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       *zap.Logger
	userAgent    string
	readTimeout  time.Duration
	writeTimeout time.Duration

	simulateFills  bool
	defaultBalance domain.Balance
	coin           func() bool

	mu    sync.RWMutex
	creds CredentialStore
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the browser identification header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithTimeouts sets per-call deadlines for reads and for login/trade placement.
func WithTimeouts(read, write time.Duration) Option {
	return func(c *Client) {
		if read > 0 {
			c.readTimeout = read
		}
		if write > 0 {
			c.writeTimeout = write
		}
	}
}

// WithSimulatedFills toggles fabricating trade acknowledgments and results
// when no endpoint confirms them.
func WithSimulatedFills(enabled bool) Option {
	return func(c *Client) {
		c.simulateFills = enabled
	}
}

// WithDefaultBalance sets the balance reported when no endpoint answers.
func WithDefaultBalance(amount decimal.Decimal, currency string) Option {
	return func(c *Client) {
		c.defaultBalance.Amount = amount
		if currency != "" {
			c.defaultBalance.Currency = currency
		}
	}
}

// WithCoin replaces the coin used for simulated results.
func WithCoin(coin func() bool) Option {
	return func(c *Client) {
		if coin != nil {
			c.coin = coin
		}
	}
}

// New creates a broker client for baseURL.
func New(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		logger:        logger,
		userAgent:     defaultUserAgent,
		readTimeout:   defaultReadTimeout,
		writeTimeout:  defaultWriteTimeout,
		simulateFills: true,
		defaultBalance: domain.Balance{
			Amount:   decimal.NewFromInt(1000),
			Currency: defaultCurrency,
			Fallback: true,
		},
		coin: defaultCoin,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach binds the credential store used by authenticated operations.
func (c *Client) Attach(store CredentialStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = store
}

func (c *Client) credential() domain.Credential {
	c.mu.RLock()
	store := c.creds
	c.mu.RUnlock()
	if store == nil {
		return domain.Credential{}
	}
	cred, _ := store.Current()
	return cred
}

func (c *Client) rotateSessionID(sentWith domain.Credential, id string) {
	c.mu.RLock()
	store := c.creds
	c.mu.RUnlock()
	if store == nil || id == "" {
		return
	}
	if err := store.UpdateSessionID(sentWith, id); err != nil {
		c.logger.Warn("failed to persist rotated session id", zap.Error(err))
	}
}

// ExhaustedError is returned when every candidate of an operation failed.
type ExhaustedError struct {
	Operation string
	// Last is the failure of the final candidate.
	Last error
	// Rejection is the last explicit failure marker seen, if any.
	Rejection *Rejection
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %s endpoints failed: %v", e.Operation, e.Last)
}

// Unwrap returns the final candidate failure.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// response is the answer of the candidate that succeeded.
type response struct {
	path     string
	envelope Envelope
	header   http.Header
}

// tryCandidates tries op's candidates in order and returns the first recognized success.
// Authenticated operations push rotated session cookies to the credential store.
func (c *Client) tryCandidates(ctx context.Context, op operation, cred domain.Credential, authenticated bool) (response, error) {
	exhausted := &ExhaustedError{Operation: op.name}

	for _, cand := range op.candidates {
		if err := ctx.Err(); err != nil {
			return response{}, err
		}

		status, header, body, err := c.call(ctx, op, cand, cred)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return response{}, ctxErr
			}
			c.logger.Debug("broker candidate failed",
				zap.String("operation", op.name), zap.String("path", cand.path), zap.Error(err))
			exhausted.Last = err
			continue
		}

		if authenticated {
			if id, ok := sessionIDFromHeader(header); ok && id != cred.SessionID {
				c.rotateSessionID(cred, id)
				cred.SessionID = id
			}
		}

		env, err := Normalize(status, body, op.requireMarker)
		if err == nil && op.accept != nil && !op.accept(env) {
			err = &ShapeMismatch{Reason: "payload misses required fields"}
		}
		if err != nil {
			var rejection *Rejection
			if errors.As(err, &rejection) {
				exhausted.Rejection = rejection
			}
			c.logger.Debug("broker candidate answered without success",
				zap.String("operation", op.name), zap.String("path", cand.path),
				zap.Int("status", status), zap.Error(err))
			exhausted.Last = err
			continue
		}

		return response{path: cand.path, envelope: env, header: header}, nil
	}

	if exhausted.Last == nil {
		exhausted.Last = errors.New("no candidates")
	}
	return response{}, exhausted
}

func (c *Client) call(ctx context.Context, op operation, cand candidate, cred domain.Credential) (int, http.Header, []byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "broker."+op.name)
	defer span.Finish()
	span.SetTag("broker.path", cand.path)

	timeout := c.readTimeout
	if op.timeout == writeTimeout {
		timeout = c.writeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := codec.Marshal(cand.body)
	if err != nil {
		return 0, nil, nil, errors.Wrap(err, "encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+cand.path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, errors.Wrap(err, "create request")
	}
	c.setHeaders(req, cred)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		ext.Error.Set(span, true)
		return 0, nil, nil, transportError(cand.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		ext.Error.Set(span, true)
		return 0, nil, nil, transportError(cand.path, err)
	}
	ext.HTTPStatusCode.Set(span, uint16(resp.StatusCode))

	return resp.StatusCode, resp.Header, body, nil
}

func (c *Client) setHeaders(req *http.Request, cred domain.Credential) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	if cred.SessionID != "" {
		req.Header.Set("Cookie", sessionCookieName+"="+cred.SessionID)
	}
}

func transportError(path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TimeoutError{Path: path}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.TimeoutError{Path: path}
	}
	return &domain.NetworkError{Path: path, Err: err}
}

// sessionIDFromHeader finds ssid=<value> among Set-Cookie headers.
func sessionIDFromHeader(h http.Header) (string, bool) {
	marker := sessionCookieName + "="
	for _, cookie := range h.Values("Set-Cookie") {
		idx := strings.Index(cookie, marker)
		if idx < 0 {
			continue
		}
		value := cookie[idx+len(marker):]
		if end := strings.IndexByte(value, ';'); end >= 0 {
			value = value[:end]
		}
		value = strings.TrimSpace(value)
		if value != "" {
			return value, true
		}
	}
	return "", false
}
