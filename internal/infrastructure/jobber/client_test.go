package jobber

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/config"
)

// fakeClock is a manual clock whose Sleep advances time
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// fakeTokens hands out a fixed token and counts invalidations
type fakeTokens struct {
	invalidated atomic.Int32
	err         error
}

func (f *fakeTokens) Acquire(_ context.Context, scope string) (*integration.ApiToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &integration.ApiToken{Scope: scope, AccessToken: "tok-" + scope, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeTokens) Invalidate(string) {
	f.invalidated.Add(1)
}

type recordedRequest struct {
	Header    http.Header
	Query     string
	Variables map[string]any
}

// fakeJobber serves scripted responses in order, repeating the last one
type fakeJobber struct {
	t         *testing.T
	mu        sync.Mutex
	responses []func(w http.ResponseWriter)
	requests  []recordedRequest
}

func (f *fakeJobber) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); !assert.NoError(f.t, err) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	idx := len(f.requests)
	f.requests = append(f.requests, recordedRequest{Header: r.Header.Clone(), Query: req.Query, Variables: req.Variables})
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	respond := f.responses[idx]
	f.mu.Unlock()

	respond(w)
}

func (f *fakeJobber) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func jsonResponse(status int, body string, headers ...string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		for i := 0; i+1 < len(headers); i += 2 {
			w.Header().Set(headers[i], headers[i+1])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

const invoicesPage = `{
  "data": {"invoices": {
    "pageInfo": {"hasNextPage": true, "endCursor": "Y3Vyc29yOjEw"},
    "nodes": [{"id": "inv-1", "invoiceNumber": "1001"}, {"id": "inv-2", "invoiceNumber": "1002"}, {"invoiceNumber": "orphan"}]
  }},
  "extensions": {"cost": {"requestedQueryCost": 1500, "actualQueryCost": 900,
    "throttleStatus": {"maximumAvailable": 10000, "currentlyAvailable": 9100, "restoreRate": 500}}}
}`

func testConfig(url string) config.JobberConfig {
	return config.JobberConfig{
		APIURL:                   url,
		APIVersion:               DefaultSchemaVersion,
		Timeout:                  5 * time.Second,
		LowWater:                 500,
		RateLimitRetries:         3,
		RateLimitDefaultWait:     10 * time.Second,
		MaxTransientRetries:      2,
		TransientInitialInterval: 100 * time.Millisecond,
		CustomerPageSize:         50,
		ItemPageSize:             100,
		InvoicePageSize:          10,
		PaymentPageSize:          50,
		CustomerCost:             300,
		ItemCost:                 200,
		InvoiceCost:              1500,
		PaymentCost:              300,
	}
}

func newTestClient(t *testing.T, responses ...func(w http.ResponseWriter)) (*Client, *fakeJobber, *fakeClock, *fakeTokens) {
	t.Helper()
	fj := &fakeJobber{t: t, responses: responses}
	srv := httptest.NewServer(fj)
	t.Cleanup(srv.Close)

	clock := newFakeClock()
	tokens := &fakeTokens{}
	client := NewClient(testConfig(srv.URL), tokens, nil, WithSleeper(clock), WithClock(clock.Now))
	return client, fj, clock, tokens
}

func TestClient_FetchPage(t *testing.T) {
	client, fj, clock, _ := newTestClient(t, jsonResponse(http.StatusOK, invoicesPage))
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	page, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{
		Cursor: "Y3Vyc29yOjA=",
		Since:  &since,
	})
	require.NoError(t, err)

	assert.Equal(t, "Y3Vyc29yOjEw", page.EndCursor)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "inv-1", page.Records[0].ExternalID)
	assert.Equal(t, integration.RecordKindInvoice, page.Records[0].Kind)
	assert.Equal(t, "acme", page.Records[0].Scope)
	assert.JSONEq(t, `{"id": "inv-1", "invoiceNumber": "1001"}`, string(page.Records[0].RawPayload))
	assert.Empty(t, clock.Sleeps())

	reqs := fj.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer tok-acme", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, DefaultSchemaVersion, reqs[0].Header.Get("X-JOBBER-GRAPHQL-VERSION"))
	assert.Equal(t, "Y3Vyc29yOjA=", reqs[0].Variables["after"])
	assert.EqualValues(t, 10, reqs[0].Variables["first"])
	assert.Equal(t, map[string]any{"issuedDate": map[string]any{"after": "2025-01-01T00:00:00Z"}}, reqs[0].Variables["filter"])

	budget := client.Budget("acme")
	assert.Equal(t, 9100.0, budget.CurrentlyAvailable)
	assert.Equal(t, 500.0, budget.RestoreRate)
}

func TestClient_PaymentFilter(t *testing.T) {
	client, fj, _, _ := newTestClient(t, jsonResponse(http.StatusOK,
		`{"data": {"paymentRecords": {"pageInfo": {"hasNextPage": false, "endCursor": null}, "nodes": []}}}`))

	page, err := client.FetchPage(context.Background(), "acme", integration.RecordKindPayment, integration.PageRequest{})
	require.NoError(t, err)
	assert.False(t, page.HasNextPage)
	assert.Empty(t, page.EndCursor)

	reqs := fj.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]any{"adjustmentType": "PAYMENT"}, reqs[0].Variables["filter"])
	assert.NotContains(t, reqs[0].Variables, "after")
}

func TestClient_RateLimitHonorsRetryAfter(t *testing.T) {
	client, fj, clock, _ := newTestClient(t,
		jsonResponse(http.StatusTooManyRequests, `{"errors": [{"message": "slow down"}]}`, "Retry-After", "7"),
		jsonResponse(http.StatusOK, invoicesPage),
	)

	page, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{Cursor: "c-5"})
	require.NoError(t, err)
	assert.Equal(t, "Y3Vyc29yOjEw", page.EndCursor)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	assert.GreaterOrEqual(t, sleeps[0], 7*time.Second)

	reqs := fj.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "c-5", reqs[1].Variables["after"], "retry must re-request the same page")
}

func TestClient_ThrottledWaitsForRestore(t *testing.T) {
	throttled := `{"errors": [{"message": "Throttled", "extensions": {"code": "THROTTLED"}}],
	  "extensions": {"cost": {"requestedQueryCost": 1500,
	    "throttleStatus": {"maximumAvailable": 10000, "currentlyAvailable": 100, "restoreRate": 50}}}}`
	client, fj, clock, _ := newTestClient(t,
		jsonResponse(http.StatusOK, throttled),
		jsonResponse(http.StatusOK, invoicesPage),
	)

	_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{Cursor: "c-9"})
	require.NoError(t, err)

	// (1500 - 100) / 50 points per second
	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 1)
	assert.Equal(t, 28*time.Second, sleeps[0])

	reqs := fj.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "c-9", reqs[1].Variables["after"])
}

func TestClient_RateLimitExhausted(t *testing.T) {
	client, fj, clock, _ := newTestClient(t, jsonResponse(http.StatusTooManyRequests, `{}`))

	_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindItem, integration.PageRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrRateLimited)
	assert.Equal(t, integration.ErrorKindRateLimited, integration.ClassifyError(err))

	assert.Len(t, fj.Requests(), 4)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, clock.Sleeps())
}

func TestClient_LowWaterPreWait(t *testing.T) {
	lowBudget := `{"data": {"products": {"pageInfo": {"hasNextPage": true, "endCursor": "p1"}, "nodes": []}},
	  "extensions": {"cost": {"throttleStatus": {"maximumAvailable": 10000, "currentlyAvailable": 200, "restoreRate": 50}}}}`
	client, _, clock, _ := newTestClient(t, jsonResponse(http.StatusOK, lowBudget))
	ctx := context.Background()

	_, err := client.FetchPage(ctx, "acme", integration.RecordKindItem, integration.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, clock.Sleeps())

	_, err = client.FetchPage(ctx, "acme", integration.RecordKindItem, integration.PageRequest{Cursor: "p1"})
	require.NoError(t, err)
	// (500 low water - 200) / 50
	assert.Equal(t, []time.Duration{6 * time.Second}, clock.Sleeps())
}

func TestClient_AuthExpiredRetriesOnce(t *testing.T) {
	t.Run("recovers after invalidation", func(t *testing.T) {
		client, fj, _, tokens := newTestClient(t,
			jsonResponse(http.StatusUnauthorized, `{}`),
			jsonResponse(http.StatusOK, invoicesPage),
		)
		_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
		require.NoError(t, err)
		assert.EqualValues(t, 1, tokens.invalidated.Load())
		assert.Len(t, fj.Requests(), 2)
	})

	t.Run("second 401 surfaces AuthExpired", func(t *testing.T) {
		client, fj, _, tokens := newTestClient(t, jsonResponse(http.StatusUnauthorized, `{}`))
		_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
		assert.ErrorIs(t, err, integration.ErrAuthExpired)
		assert.EqualValues(t, 1, tokens.invalidated.Load())
		assert.Len(t, fj.Requests(), 2)
	})

	t.Run("no credential", func(t *testing.T) {
		client, fj, _, tokens := newTestClient(t, jsonResponse(http.StatusOK, invoicesPage))
		tokens.err = integration.ErrAuthExpired
		_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
		assert.ErrorIs(t, err, integration.ErrAuthExpired)
		assert.Empty(t, fj.Requests())
	})
}

func TestClient_TransientRetries(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		client, fj, clock, _ := newTestClient(t,
			jsonResponse(http.StatusServiceUnavailable, `oops`),
			jsonResponse(http.StatusBadGateway, `oops`),
			jsonResponse(http.StatusOK, invoicesPage),
		)
		_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
		require.NoError(t, err)
		assert.Len(t, fj.Requests(), 3)
		assert.Len(t, clock.Sleeps(), 2)
	})

	t.Run("exhausted", func(t *testing.T) {
		client, fj, _, _ := newTestClient(t, jsonResponse(http.StatusInternalServerError, `oops`))
		_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
		assert.ErrorIs(t, err, integration.ErrTransientNetwork)
		assert.Len(t, fj.Requests(), 3)
	})
}

func TestClient_CanceledWhileWaiting(t *testing.T) {
	client, _, _, _ := newTestClient(t, jsonResponse(http.StatusTooManyRequests, `{}`))
	ctx, cancel := context.WithCancel(context.Background())
	client.sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := client.FetchPage(ctx, "acme", integration.RecordKindInvoice, integration.PageRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_GraphQLErrorWithoutData(t *testing.T) {
	client, _, _, _ := newTestClient(t, jsonResponse(http.StatusOK, `{"data": null, "errors": [{"message": "Field 'nope' doesn't exist"}]}`))

	_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Contains(t, err.Error(), "nope")
}

func TestClient_OversizedResponseIsNotRetried(t *testing.T) {
	fj := &fakeJobber{t: t, responses: []func(w http.ResponseWriter){jsonResponse(http.StatusOK, invoicesPage)}}
	srv := httptest.NewServer(fj)
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL)
	cfg.MaxResponseSize = int64(len(invoicesPage)) - 1
	clock := newFakeClock()
	client := NewClient(cfg, &fakeTokens{}, nil, WithSleeper(clock), WithClock(clock.Now))

	_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.NotErrorIs(t, err, integration.ErrTransientNetwork)
	assert.Len(t, fj.Requests(), 1)
	assert.Empty(t, clock.Sleeps())

	t.Run("body exactly at the cap", func(t *testing.T) {
		cfg.MaxResponseSize = int64(len(invoicesPage))
		client := NewClient(cfg, &fakeTokens{}, nil, WithSleeper(clock), WithClock(clock.Now))
		page, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
		require.NoError(t, err)
		assert.Len(t, page.Records, 2)
	})
}

func TestClient_Probe(t *testing.T) {
	client, fj, _, _ := newTestClient(t, jsonResponse(http.StatusOK,
		`{"data": {"account": {"id": "acc-1", "name": "Acme Lawn"}},
		  "extensions": {"cost": {"throttleStatus": {"maximumAvailable": 10000, "currentlyAvailable": 9999, "restoreRate": 500}}}}`))

	state, err := client.Probe(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, state.MaximumAvailable)
	assert.Equal(t, 9999.0, state.CurrentlyAvailable)
	assert.Contains(t, fj.Requests()[0].Query, "account")
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 4, 16, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "3", 3 * time.Second},
		{"fractional", "1.5", 1500 * time.Millisecond},
		{"http date", now.Add(20 * time.Second).Format(http.TimeFormat), 20 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value, now))
		})
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	waits   map[string]time.Duration
	budgets []float64
}

func (o *recordingObserver) ObserveThrottleWait(_ string, reason string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waits[reason] += d
}

func (o *recordingObserver) SetBudget(_ string, available float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.budgets = append(o.budgets, available)
}

func TestClient_ReportsWaitsToObserver(t *testing.T) {
	throttled := `{"errors": [{"message": "Throttled", "extensions": {"code": "THROTTLED"}}],
	  "extensions": {"cost": {"throttleStatus": {"maximumAvailable": 10000, "currentlyAvailable": 100, "restoreRate": 50}}}}`
	client, _, _, _ := newTestClient(t,
		jsonResponse(http.StatusOK, throttled),
		jsonResponse(http.StatusOK, invoicesPage),
	)
	obs := &recordingObserver{waits: make(map[string]time.Duration)}
	client.observer = obs

	_, err := client.FetchPage(context.Background(), "acme", integration.RecordKindInvoice, integration.PageRequest{})
	require.NoError(t, err)

	assert.Equal(t, 28*time.Second, obs.waits["throttled"])
	assert.Zero(t, obs.waits["budget"])
	assert.Equal(t, []float64{100, 9100}, obs.budgets)
}
