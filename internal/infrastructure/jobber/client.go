package jobber

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
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/config"
)

const (
	// defaultMaxResponseSize caps a single GraphQL response body (10MB)
	defaultMaxResponseSize = 10 * 1024 * 1024

	versionHeader    = "X-JOBBER-GRAPHQL-VERSION"
	throttledCode    = "THROTTLED"
	defaultUserAgent = "ledgersync/1.0"
)

// ErrUnexpectedResponse is a response the client cannot interpret
var ErrUnexpectedResponse = errors.New("jobber: unexpected response")

// TokenProvider supplies bearer tokens per scope
type TokenProvider interface {
	Acquire(ctx context.Context, scope string) (*integration.ApiToken, error)
	Invalidate(scope string)
}

// Observer receives budget waits and server-reported balances
type Observer interface {
	ObserveThrottleWait(scope, reason string, d time.Duration)
	SetBudget(scope string, available float64)
}

type nopObserver struct{}

func (nopObserver) ObserveThrottleWait(string, string, time.Duration) {}
func (nopObserver) SetBudget(string, float64)                         {}

// Client is the rate-limited GraphQL client of the Jobber API.
// It implements integration.Source.
type Client struct {
	cfg        config.JobberConfig
	httpClient *http.Client
	tokens     TokenProvider
	sleeper    Sleeper
	observer   Observer
	now        func() time.Time
	logger     *zap.Logger

	mu      sync.Mutex
	buckets map[string]*Bucket
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleeper replaces the real timer used for budget and retry waits
func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

// WithObserver reports budget waits, typically to telemetry.SyncMetrics
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a new Jobber client
func NewClient(cfg config.JobberConfig, tokens TokenProvider, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = defaultMaxResponseSize
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		sleeper:    TimerSleeper{},
		observer:   nopObserver{},
		now:        time.Now,
		logger:     logger.Named("jobber"),
		buckets:    make(map[string]*Bucket),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Source
// ---------------------------------------------------------------------------

// FetchPage fetches one page of kind and converts its nodes to truth records.
// EndCursor is returned verbatim.
func (c *Client) FetchPage(ctx context.Context, scope string, kind integration.RecordKind, req integration.PageRequest) (*integration.Page, error) {
	coll, ok := collections[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrRecordInvalidKind, kind)
	}
	if req.PageSize <= 0 {
		req.PageSize = c.pageSize(kind)
	}

	data, err := c.Execute(ctx, scope, coll.query, pageVariables(kind, req), c.cost(kind))
	if err != nil {
		return nil, err
	}

	var conn map[string]connection
	if err := json.Unmarshal(data, &conn); err != nil {
		return nil, fmt.Errorf("%w: decode %s page: %v", ErrUnexpectedResponse, coll.field, err)
	}
	page, ok := conn[coll.field]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s connection", ErrUnexpectedResponse, coll.field)
	}

	fetchedAt := c.now()
	records := make([]*integration.ExternalRecord, 0, len(page.Nodes))
	for _, node := range page.Nodes {
		var ident struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(node, &ident); err != nil || ident.ID == "" {
			c.logger.Warn("Skipping node without id", zap.String("scope", scope), zap.String("kind", string(kind)))
			continue
		}
		rec, err := integration.NewExternalRecord(scope, kind, ident.ID, node, fetchedAt)
		if err != nil {
			c.logger.Warn("Skipping invalid node", zap.String("external_id", ident.ID), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	return &integration.Page{
		Records:     records,
		EndCursor:   page.PageInfo.EndCursor,
		HasNextPage: page.PageInfo.HasNextPage,
	}, nil
}

// Probe runs the cheapest query and returns the refreshed budget of scope
func (c *Client) Probe(ctx context.Context, scope string) (BucketState, error) {
	if _, err := c.Execute(ctx, scope, probeQuery, nil, 1); err != nil {
		return BucketState{}, err
	}
	return c.bucket(scope).Snapshot(c.now()), nil
}

// Budget returns the current extrapolated budget of scope
func (c *Client) Budget(scope string) BucketState {
	return c.bucket(scope).Snapshot(c.now())
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data       json.RawMessage `json:"data"`
	Errors     []gqlError      `json:"errors"`
	Extensions struct {
		Cost *struct {
			RequestedQueryCost float64         `json:"requestedQueryCost"`
			ActualQueryCost    float64         `json:"actualQueryCost"`
			ThrottleStatus     *ThrottleStatus `json:"throttleStatus"`
		} `json:"cost"`
	} `json:"extensions"`
}

type connection struct {
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
	Nodes []json.RawMessage `json:"nodes"`
}

// attemptFailure is one classified failed attempt
type attemptFailure struct {
	kind       integration.ErrorKind
	retryAfter time.Duration
	err        error
}

// Execute sends a GraphQL query declaring cost points and returns its data.
// It waits for budget, retries throttling, transient failures and one expired token.
func (c *Client) Execute(ctx context.Context, scope, query string, variables map[string]any, cost float64) (json.RawMessage, error) {
	bucket := c.bucket(scope)
	transient := backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxTransientRetries))
	rateLimited := 0
	authRetried := false

	for {
		if wait := bucket.WaitBefore(cost, c.cfg.LowWater, c.now()); wait > 0 {
			c.logger.Debug("Waiting for query budget",
				zap.String("scope", scope),
				zap.Duration("wait", wait),
				zap.Float64("cost", cost),
			)
			c.observer.ObserveThrottleWait(scope, "budget", wait)
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		data, failure := c.attempt(ctx, scope, query, variables)
		if failure == nil {
			return data, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch failure.kind {
		case integration.ErrorKindRateLimited:
			rateLimited++
			if rateLimited > c.cfg.RateLimitRetries {
				return nil, fmt.Errorf("%w: gave up after %d attempts: %v", integration.ErrRateLimited, rateLimited, failure.err)
			}
			wait := c.throttleWait(bucket, failure.retryAfter, cost)
			c.logger.Warn("Rate limited by Jobber, retrying",
				zap.String("scope", scope),
				zap.Int("attempt", rateLimited),
				zap.Duration("wait", wait),
			)
			c.observer.ObserveThrottleWait(scope, "throttled", wait)
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				return nil, err
			}

		case integration.ErrorKindAuthExpired:
			if authRetried {
				return nil, fmt.Errorf("%w: %v", integration.ErrAuthExpired, failure.err)
			}
			authRetried = true
			c.tokens.Invalidate(scope)

		case integration.ErrorKindTransientNetwork:
			wait := transient.NextBackOff()
			if wait == backoff.Stop {
				return nil, fmt.Errorf("%w: %v", integration.ErrTransientNetwork, failure.err)
			}
			c.logger.Warn("Transient Jobber failure, retrying",
				zap.String("scope", scope),
				zap.Duration("wait", wait),
				zap.Error(failure.err),
			)
			if err := c.sleeper.Sleep(ctx, wait); err != nil {
				return nil, err
			}

		default:
			return nil, failure.err
		}
	}
}

// attempt sends one request and classifies the result
func (c *Client) attempt(ctx context.Context, scope, query string, variables map[string]any) (json.RawMessage, *attemptFailure) {
	token, err := c.tokens.Acquire(ctx, scope)
	if err != nil {
		if errors.Is(err, integration.ErrAuthExpired) {
			return nil, &attemptFailure{kind: integration.ErrorKindInternal, err: err}
		}
		return nil, &attemptFailure{kind: integration.ClassifyError(err), err: err}
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, &attemptFailure{kind: integration.ErrorKindInternal, err: fmt.Errorf("jobber: failed to encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, &attemptFailure{kind: integration.ErrorKindInternal, err: fmt.Errorf("jobber: failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(versionHeader, c.cfg.APIVersion)
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &attemptFailure{kind: integration.ErrorKindTransientNetwork, err: err}
	}
	defer resp.Body.Close()

	// one byte past the cap tells a full body from a truncated one
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseSize+1))
	if err != nil {
		return nil, &attemptFailure{kind: integration.ErrorKindTransientNetwork, err: fmt.Errorf("jobber: failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &attemptFailure{kind: integration.ErrorKindAuthExpired, err: fmt.Errorf("jobber: HTTP %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &attemptFailure{
			kind:       integration.ErrorKindRateLimited,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			err:        fmt.Errorf("jobber: HTTP %d", resp.StatusCode),
		}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &attemptFailure{kind: integration.ErrorKindTransientNetwork, err: fmt.Errorf("jobber: HTTP %d", resp.StatusCode)}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &attemptFailure{kind: integration.ErrorKindInternal, err: fmt.Errorf("%w: HTTP %d: %s", ErrUnexpectedResponse, resp.StatusCode, preview(raw))}
	}

	if int64(len(raw)) > c.cfg.MaxResponseSize {
		return nil, &attemptFailure{kind: integration.ErrorKindInternal,
			err: fmt.Errorf("%w: response exceeds %d bytes", ErrUnexpectedResponse, c.cfg.MaxResponseSize)}
	}

	var gql gqlResponse
	if err := json.Unmarshal(raw, &gql); err != nil {
		return nil, &attemptFailure{kind: integration.ErrorKindTransientNetwork, err: fmt.Errorf("jobber: non-JSON response: %s", preview(raw))}
	}
	if cost := gql.Extensions.Cost; cost != nil && cost.ThrottleStatus != nil {
		c.bucket(scope).Update(*cost.ThrottleStatus, c.now())
		c.observer.SetBudget(scope, cost.ThrottleStatus.CurrentlyAvailable)
	}

	if len(gql.Errors) > 0 {
		messages := make([]string, 0, len(gql.Errors))
		throttled := false
		for _, e := range gql.Errors {
			if e.Extensions.Code == throttledCode {
				throttled = true
			}
			messages = append(messages, e.Message)
		}
		err := fmt.Errorf("jobber: graphql errors: %s", strings.Join(messages, "; "))
		if throttled {
			return nil, &attemptFailure{kind: integration.ErrorKindRateLimited, err: err}
		}
		if len(gql.Data) == 0 || string(gql.Data) == "null" {
			return nil, &attemptFailure{kind: integration.ErrorKindInternal, err: fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)}
		}
		c.logger.Warn("Partial GraphQL response", zap.String("scope", scope), zap.Error(err))
	}
	return gql.Data, nil
}

// throttleWait prefers the server-declared wait, then the budget deficit, then the default
func (c *Client) throttleWait(bucket *Bucket, retryAfter time.Duration, cost float64) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	if d := bucket.Deficit(cost, c.now()); d > 0 {
		return d
	}
	return c.cfg.RateLimitDefaultWait
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.TransientInitialInterval > 0 {
		b.InitialInterval = c.cfg.TransientInitialInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Client) bucket(scope string) *Bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[scope]
	if !ok {
		b = NewBucket()
		c.buckets[scope] = b
	}
	return b
}

func (c *Client) pageSize(kind integration.RecordKind) int {
	switch kind {
	case integration.RecordKindCustomer:
		return c.cfg.CustomerPageSize
	case integration.RecordKindItem:
		return c.cfg.ItemPageSize
	case integration.RecordKindInvoice:
		return c.cfg.InvoicePageSize
	default:
		return c.cfg.PaymentPageSize
	}
}

func (c *Client) cost(kind integration.RecordKind) float64 {
	switch kind {
	case integration.RecordKindCustomer:
		return c.cfg.CustomerCost
	case integration.RecordKindItem:
		return c.cfg.ItemCost
	case integration.RecordKindInvoice:
		return c.cfg.InvoiceCost
	default:
		return c.cfg.PaymentCost
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func preview(raw []byte) string {
	const limit = 200
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}

// Ensure Client implements integration.Source
var _ integration.Source = (*Client)(nil)
