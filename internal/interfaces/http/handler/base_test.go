package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/domain/ledger"
	"github.com/ledgersync/backend/internal/interfaces/http/dto"
	"github.com/ledgersync/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)
	return c, w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetRequestID(t *testing.T) {
	t.Run("from context", func(t *testing.T) {
		c, _ := newTestContext()
		c.Set(middleware.RequestIDKey, "ctx-id")
		assert.Equal(t, "ctx-id", getRequestID(c))
	})

	t.Run("from header", func(t *testing.T) {
		c, _ := newTestContext()
		c.Request.Header.Set(middleware.RequestIDHeader, "hdr-id")
		assert.Equal(t, "hdr-id", getRequestID(c))
	})

	t.Run("missing", func(t *testing.T) {
		c, _ := newTestContext()
		assert.Empty(t, getRequestID(c))
	})
}

func TestBaseHandlerSuccess(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext()

	h.Success(c, map[string]string{"stage": "customers"})

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "customers", data["stage"])
}

func TestBaseHandlerErrorMethods(t *testing.T) {
	h := &BaseHandler{}

	tests := []struct {
		name           string
		call           func(c *gin.Context)
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "BadRequest",
			call:           func(c *gin.Context) { h.BadRequest(c, "bad") },
			expectedStatus: http.StatusBadRequest,
			expectedCode:   dto.ErrCodeBadRequest,
		},
		{
			name:           "NotFound",
			call:           func(c *gin.Context) { h.NotFound(c, "missing") },
			expectedStatus: http.StatusNotFound,
			expectedCode:   dto.ErrCodeNotFound,
		},
		{
			name:           "InternalError",
			call:           func(c *gin.Context) { h.InternalError(c, "boom") },
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   dto.ErrCodeInternal,
		},
		{
			name:           "ErrorWithCode derives status",
			call:           func(c *gin.Context) { h.ErrorWithCode(c, dto.ErrCodeStageOrder, "order") },
			expectedStatus: http.StatusConflict,
			expectedCode:   dto.ErrCodeStageOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext()
			tt.call(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
		})
	}
}

func TestBaseHandlerErrorWithRequestID(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext()
	c.Set(middleware.RequestIDKey, "req-123")

	h.BadRequest(c, "bad")

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "req-123", resp.Error.RequestID)
}

func TestBaseHandlerHandleError(t *testing.T) {
	h := &BaseHandler{}

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
	}{
		{"stage order", integration.ErrStageOrder, http.StatusConflict, dto.ErrCodeStageOrder},
		{"already running", integration.ErrStageAlreadyRunning, http.StatusConflict, dto.ErrCodeStageRunning},
		{"not resumable", integration.ErrStageNotResumable, http.StatusConflict, dto.ErrCodeStageNotResumable},
		{"rate limited", fmt.Errorf("fetch: %w", integration.ErrRateLimited), http.StatusTooManyRequests, dto.ErrCodeRateLimited},
		{"auth expired", integration.ErrAuthExpired, http.StatusUnauthorized, dto.ErrCodeAuthExpired},
		{"validation", fmt.Errorf("%w: bad date", integration.ErrValidation), http.StatusBadRequest, dto.ErrCodeValidation},
		{"not found", ledger.ErrTransactionNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"unbalanced", integration.ErrUnbalancedPosting, http.StatusInternalServerError, dto.ErrCodeUnbalancedPosting},
		{"transient", integration.ErrTransientNetwork, http.StatusBadGateway, dto.ErrCodeUpstreamUnavailable},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, dto.ErrCodeCanceled},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w := newTestContext()
			h.HandleError(c, tt.err)

			assert.Equal(t, tt.expectedStatus, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
			assert.Len(t, c.Errors, 1)
		})
	}
}

func TestBaseHandlerHandleErrorHidesInternalMessage(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext()

	h.HandleError(c, errors.New("pq: password authentication failed"))

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, internalErrorMessage, resp.Error.Message)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestBaseHandlerHandleErrorNil(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext()

	h.HandleError(c, nil)

	assert.Empty(t, w.Body.String())
	assert.Empty(t, c.Errors)
}

func TestBaseHandlerHandleErrorWithData(t *testing.T) {
	h := &BaseHandler{}
	c, w := newTestContext()

	h.HandleErrorWithData(c, integration.ErrRateLimited, map[string]int{"posted": 3})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), data["posted"])
}
