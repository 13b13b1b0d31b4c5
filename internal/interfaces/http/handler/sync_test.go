package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/backend/internal/application/orchestrator"
	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/jobber"
	"github.com/ledgersync/backend/internal/interfaces/http/dto"
)

type mockSyncService struct {
	mock.Mock
}

func (m *mockSyncService) RunStage(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.StageReport, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.StageReport), args.Error(1)
}

func (m *mockSyncService) Resume(ctx context.Context, stage integration.Stage, scope string) (*orchestrator.StageReport, error) {
	args := m.Called(ctx, stage, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*orchestrator.StageReport), args.Error(1)
}

func (m *mockSyncService) RunAll(ctx context.Context, scope string, startDate *time.Time, dryRun bool) ([]*orchestrator.StageReport, error) {
	args := m.Called(ctx, scope, startDate, dryRun)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*orchestrator.StageReport), args.Error(1)
}

func (m *mockSyncService) Status(ctx context.Context, scope string) ([]orchestrator.StageStatus, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]orchestrator.StageStatus), args.Error(1)
}

type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context, scope string) (jobber.BucketState, error) {
	args := m.Called(ctx, scope)
	return args.Get(0).(jobber.BucketState), args.Error(1)
}

func newSyncEngine(svc *mockSyncService, prober *mockProber) *gin.Engine {
	h := NewSyncHandler(svc, prober)
	engine := gin.New()
	scopes := engine.Group("/scopes/:scope")
	scopes.POST("/stages/:stage/run", h.RunStage)
	scopes.POST("/stages/:stage/resume", h.Resume)
	scopes.POST("/sync", h.Sync)
	scopes.GET("/status", h.Status)
	scopes.GET("/rate-limit", h.RateLimit)
	return engine
}

func serve(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestSyncHandlerRunStage(t *testing.T) {
	t.Run("completed run without body", func(t *testing.T) {
		svc := new(mockSyncService)
		report := &orchestrator.StageReport{
			Scope:   "acme",
			Stage:   integration.StageCustomers,
			State:   integration.StageStateCompleted,
			Summary: integration.StageSummary{Fetched: 4, Posted: 4},
		}
		svc.On("RunStage", mock.Anything, orchestrator.RunRequest{
			Scope: "acme",
			Stage: integration.StageCustomers,
		}).Return(report, nil)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/stages/customers/run", "")

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Success bool                     `json:"success"`
			Data    orchestrator.StageReport `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 4, resp.Data.Summary.Posted)
		svc.AssertExpectations(t)
	})

	t.Run("start date and dry run are forwarded", func(t *testing.T) {
		svc := new(mockSyncService)
		svc.On("RunStage", mock.Anything, mock.MatchedBy(func(req orchestrator.RunRequest) bool {
			return req.Stage == integration.StageInvoices &&
				req.DryRun &&
				req.StartDate != nil &&
				req.StartDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
		})).Return(&orchestrator.StageReport{Stage: integration.StageInvoices, DryRun: true}, nil)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost,
			"/scopes/acme/stages/INVOICES/run", `{"start_date":"2024-03-01","dry_run":true}`)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("unknown stage", func(t *testing.T) {
		svc := new(mockSyncService)
		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/stages/estimates/run", "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidStage, errorCode(t, w))
		svc.AssertNotCalled(t, "RunStage", mock.Anything, mock.Anything)
	})

	t.Run("malformed start date", func(t *testing.T) {
		svc := new(mockSyncService)
		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost,
			"/scopes/acme/stages/customers/run", `{"start_date":"03/01/2024"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidationFormat, errorCode(t, w))
	})

	t.Run("invalid json", func(t *testing.T) {
		svc := new(mockSyncService)
		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost,
			"/scopes/acme/stages/customers/run", `{"dry_run":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidJSON, errorCode(t, w))
	})

	t.Run("prerequisite not completed", func(t *testing.T) {
		svc := new(mockSyncService)
		svc.On("RunStage", mock.Anything, mock.Anything).Return(nil, integration.ErrStageOrder)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/stages/payments/run", "")

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, dto.ErrCodeStageOrder, errorCode(t, w))
	})

	t.Run("rate limited run returns partial report", func(t *testing.T) {
		svc := new(mockSyncService)
		report := &orchestrator.StageReport{
			Stage:   integration.StageItems,
			State:   integration.StageStateFailed,
			Cursor:  "cursor-7",
			Summary: integration.StageSummary{Fetched: 10, Posted: 7},
		}
		svc.On("RunStage", mock.Anything, mock.Anything).Return(report, integration.ErrRateLimited)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/stages/items/run", "")

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		var resp struct {
			Success bool                     `json:"success"`
			Data    orchestrator.StageReport `json:"data"`
			Error   *dto.ErrorInfo           `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeRateLimited, resp.Error.Code)
		assert.Equal(t, "cursor-7", resp.Data.Cursor)
		assert.Equal(t, 7, resp.Data.Summary.Posted)
	})

	t.Run("auth expired", func(t *testing.T) {
		svc := new(mockSyncService)
		svc.On("RunStage", mock.Anything, mock.Anything).Return(nil, integration.ErrAuthExpired)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/stages/customers/run", "")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeAuthExpired, errorCode(t, w))
	})

	t.Run("unbalanced posting", func(t *testing.T) {
		svc := new(mockSyncService)
		svc.On("RunStage", mock.Anything, mock.Anything).
			Return(&orchestrator.StageReport{State: integration.StageStateFailed}, integration.ErrUnbalancedPosting)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/stages/invoices/run", "")

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, dto.ErrCodeUnbalancedPosting, errorCode(t, w))
	})
}

func TestSyncHandlerResume(t *testing.T) {
	t.Run("resumes from cursor", func(t *testing.T) {
		svc := new(mockSyncService)
		svc.On("Resume", mock.Anything, integration.StageItems, "acme").
			Return(&orchestrator.StageReport{Stage: integration.StageItems, Resumed: true}, nil)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/stages/items/resume", "")

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("nothing to resume", func(t *testing.T) {
		svc := new(mockSyncService)
		svc.On("Resume", mock.Anything, integration.StageItems, "acme").Return(nil, integration.ErrStageNotResumable)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/stages/items/resume", "")

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, dto.ErrCodeStageNotResumable, errorCode(t, w))
	})
}

func TestSyncHandlerSync(t *testing.T) {
	t.Run("all stages", func(t *testing.T) {
		svc := new(mockSyncService)
		reports := []*orchestrator.StageReport{
			{Stage: integration.StageCustomers, State: integration.StageStateCompleted},
			{Stage: integration.StageItems, State: integration.StageStateCompleted},
		}
		svc.On("RunAll", mock.Anything, "acme", (*time.Time)(nil), false).Return(reports, nil)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/sync", "")

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data SyncResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "acme", resp.Data.Scope)
		assert.Len(t, resp.Data.Reports, 2)
	})

	t.Run("stops at first failed stage", func(t *testing.T) {
		svc := new(mockSyncService)
		reports := []*orchestrator.StageReport{
			{Stage: integration.StageCustomers, State: integration.StageStateFailed},
		}
		svc.On("RunAll", mock.Anything, "acme", (*time.Time)(nil), true).Return(reports, integration.ErrTransientNetwork)

		w := serve(newSyncEngine(svc, new(mockProber)), http.MethodPost, "/scopes/acme/sync", `{"dry_run":true}`)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		var resp struct {
			Data  SyncResponse   `json:"data"`
			Error *dto.ErrorInfo `json:"error"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeUpstreamUnavailable, resp.Error.Code)
		assert.Len(t, resp.Data.Reports, 1)
	})
}

func TestSyncHandlerStatus(t *testing.T) {
	svc := new(mockSyncService)
	svc.On("Status", mock.Anything, "acme").Return([]orchestrator.StageStatus{
		{Stage: integration.StageCustomers, State: integration.StageStateCompleted},
		{Stage: integration.StageItems, State: integration.StageStatePending},
	}, nil)

	w := serve(newSyncEngine(svc, new(mockProber)), http.MethodGet, "/scopes/acme/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data StatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Stages, 2)
	assert.Equal(t, integration.StageStatePending, resp.Data.Stages[1].State)
}

func TestSyncHandlerRateLimit(t *testing.T) {
	t.Run("budget", func(t *testing.T) {
		prober := new(mockProber)
		prober.On("Probe", mock.Anything, "acme").Return(jobber.BucketState{
			MaximumAvailable:   10000,
			CurrentlyAvailable: 9200,
			RestoreRate:        500,
		}, nil)

		w := serve(newSyncEngine(new(mockSyncService), prober), http.MethodGet, "/scopes/acme/rate-limit", "")

		assert.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data RateLimitResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(9200), resp.Data.Budget.CurrentlyAvailable)
	})

	t.Run("missing credential", func(t *testing.T) {
		prober := new(mockProber)
		prober.On("Probe", mock.Anything, "acme").Return(jobber.BucketState{}, integration.ErrAuthExpired)

		w := serve(newSyncEngine(new(mockSyncService), prober), http.MethodGet, "/scopes/acme/rate-limit", "")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
