package handler

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ledgersync/backend/internal/application/orchestrator"
	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/jobber"
	"github.com/ledgersync/backend/internal/interfaces/http/dto"
)

// SyncService runs and inspects the staged sync of a scope
type SyncService interface {
	RunStage(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.StageReport, error)
	Resume(ctx context.Context, stage integration.Stage, scope string) (*orchestrator.StageReport, error)
	RunAll(ctx context.Context, scope string, startDate *time.Time, dryRun bool) ([]*orchestrator.StageReport, error)
	Status(ctx context.Context, scope string) ([]orchestrator.StageStatus, error)
}

// BudgetProber reads the external API throttle budget of a scope
type BudgetProber interface {
	Probe(ctx context.Context, scope string) (jobber.BucketState, error)
}

// SyncHandler handles the stage control endpoints
type SyncHandler struct {
	BaseHandler
	sync   SyncService
	prober BudgetProber
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(sync SyncService, prober BudgetProber) *SyncHandler {
	return &SyncHandler{sync: sync, prober: prober}
}

// RunStageRequest is the optional body of a run or sync request
type RunStageRequest struct {
	StartDate string `json:"start_date"`
	DryRun    bool   `json:"dry_run"`
}

// SyncResponse lists the reports of a multi-stage pass
type SyncResponse struct {
	Scope   string                      `json:"scope"`
	Reports []*orchestrator.StageReport `json:"reports"`
}

// StatusResponse lists the state of every stage of a scope
type StatusResponse struct {
	Scope  string                     `json:"scope"`
	Stages []orchestrator.StageStatus `json:"stages"`
}

// RateLimitResponse is the current throttle budget of a scope
type RateLimitResponse struct {
	Scope  string             `json:"scope"`
	Budget jobber.BucketState `json:"budget"`
}

// RunStage handles POST /scopes/:scope/stages/:stage/run
func (h *SyncHandler) RunStage(c *gin.Context) {
	stage, ok := h.stageParam(c)
	if !ok {
		return
	}
	req, startDate, ok := h.bindRunRequest(c)
	if !ok {
		return
	}

	report, err := h.sync.RunStage(c.Request.Context(), orchestrator.RunRequest{
		Scope:     c.Param("scope"),
		Stage:     stage,
		StartDate: startDate,
		DryRun:    req.DryRun,
	})
	h.respondReport(c, report, err)
}

// Resume handles POST /scopes/:scope/stages/:stage/resume
func (h *SyncHandler) Resume(c *gin.Context) {
	stage, ok := h.stageParam(c)
	if !ok {
		return
	}
	report, err := h.sync.Resume(c.Request.Context(), stage, c.Param("scope"))
	h.respondReport(c, report, err)
}

// Sync handles POST /scopes/:scope/sync and runs every stage in order
func (h *SyncHandler) Sync(c *gin.Context) {
	req, startDate, ok := h.bindRunRequest(c)
	if !ok {
		return
	}

	scope := c.Param("scope")
	reports, err := h.sync.RunAll(c.Request.Context(), scope, startDate, req.DryRun)
	resp := SyncResponse{Scope: scope, Reports: reports}
	if err != nil {
		h.HandleErrorWithData(c, err, resp)
		return
	}
	h.Success(c, resp)
}

// Status handles GET /scopes/:scope/status
func (h *SyncHandler) Status(c *gin.Context) {
	scope := c.Param("scope")
	stages, err := h.sync.Status(c.Request.Context(), scope)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, StatusResponse{Scope: scope, Stages: stages})
}

// RateLimit handles GET /scopes/:scope/rate-limit with a minimal probe query
func (h *SyncHandler) RateLimit(c *gin.Context) {
	scope := c.Param("scope")
	budget, err := h.prober.Probe(c.Request.Context(), scope)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RateLimitResponse{Scope: scope, Budget: budget})
}

func (h *SyncHandler) stageParam(c *gin.Context) (integration.Stage, bool) {
	stage, err := integration.ParseStage(strings.ToLower(c.Param("stage")))
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeInvalidStage, "unknown stage "+c.Param("stage"))
		return "", false
	}
	return stage, true
}

// bindRunRequest reads the optional JSON body; an empty body means defaults
func (h *SyncHandler) bindRunRequest(c *gin.Context) (RunStageRequest, *time.Time, bool) {
	var req RunStageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Error(c, dto.GetHTTPStatus(dto.ErrCodeInvalidJSON), dto.ErrCodeInvalidJSON, "Invalid request body")
		return req, nil, false
	}
	startDate, err := orchestrator.ParseStartDate(req.StartDate)
	if err != nil {
		h.ErrorWithCode(c, dto.ErrCodeValidationFormat, err.Error())
		return req, nil, false
	}
	return req, startDate, true
}

func (h *SyncHandler) respondReport(c *gin.Context, report *orchestrator.StageReport, err error) {
	if err != nil {
		if report != nil {
			h.HandleErrorWithData(c, err, report)
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, report)
}
