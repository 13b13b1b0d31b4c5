package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ledgersync/backend/internal/application/posting"
	"github.com/ledgersync/backend/internal/domain/canonical"
	"github.com/ledgersync/backend/internal/domain/ledger"
	"github.com/ledgersync/backend/internal/interfaces/http/dto"
)

// AccountMapper reads and pins the revenue account mapping of items
type AccountMapper interface {
	Lookup(ctx context.Context, scope string, kind canonical.EntityKind, externalID string) (*canonical.CanonicalEntity, error)
	OverrideAccountMapping(ctx context.Context, scope, externalID, revenueAccount string, taxable bool) (*canonical.CanonicalEntity, error)
}

// EntryVerifier checks posted transactions against their ledger entries
type EntryVerifier interface {
	VerifyEntry(ctx context.Context, scope string, kind ledger.TransactionKind, externalID string) (*posting.Verification, error)
	Recompute(ctx context.Context, scope, invoiceExternalID string) (*ledger.Transaction, error)
}

// LedgerHandler handles account mapping overrides and entry verification
type LedgerHandler struct {
	BaseHandler
	mapper   AccountMapper
	verifier EntryVerifier
}

// NewLedgerHandler creates a new LedgerHandler
func NewLedgerHandler(mapper AccountMapper, verifier EntryVerifier) *LedgerHandler {
	return &LedgerHandler{mapper: mapper, verifier: verifier}
}

// MappingRequest pins the revenue account of one item
type MappingRequest struct {
	RevenueAccount string `json:"revenue_account" binding:"required,max=64"`
	Taxable        *bool  `json:"taxable" binding:"required"`
}

// MappingResponse is the account mapping of one item
type MappingResponse struct {
	EntityID       string          `json:"entity_id"`
	ExternalID     string          `json:"external_id"`
	DisplayName    string          `json:"display_name"`
	Category       string          `json:"category,omitempty"`
	DefaultRate    decimal.Decimal `json:"default_rate"`
	RevenueAccount string          `json:"revenue_account"`
	Taxable        bool            `json:"taxable"`
	Source         string          `json:"source"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// InvoiceStatusResponse is the derived payment status of one invoice
type InvoiceStatusResponse struct {
	ExternalID string          `json:"external_id"`
	Total      decimal.Decimal `json:"total"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	BalanceDue decimal.Decimal `json:"balance_due"`
	Status     string          `json:"status"`
}

func toMappingResponse(e *canonical.CanonicalEntity) MappingResponse {
	return MappingResponse{
		EntityID:       e.ID.String(),
		ExternalID:     e.ExternalIDValue(),
		DisplayName:    e.DisplayName,
		Category:       e.Category,
		DefaultRate:    e.DefaultRate,
		RevenueAccount: e.Mapping.RevenueAccount,
		Taxable:        e.Mapping.Taxable,
		Source:         string(e.Mapping.Source),
		UpdatedAt:      e.UpdatedAt,
	}
}

// GetMapping handles GET /scopes/:scope/items/:external_id/mapping
func (h *LedgerHandler) GetMapping(c *gin.Context) {
	entity, err := h.mapper.Lookup(c.Request.Context(), c.Param("scope"), canonical.EntityKindItem, c.Param("external_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toMappingResponse(entity))
}

// OverrideMapping handles PUT /scopes/:scope/items/:external_id/mapping.
// The override survives later syncs of the item.
func (h *LedgerHandler) OverrideMapping(c *gin.Context) {
	var req MappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ErrorWithCode(c, dto.ErrCodeValidation, validationMessage(err, "revenue_account and taxable are required"))
		return
	}

	entity, err := h.mapper.OverrideAccountMapping(
		c.Request.Context(),
		c.Param("scope"),
		c.Param("external_id"),
		strings.TrimSpace(req.RevenueAccount),
		*req.Taxable,
	)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toMappingResponse(entity))
}

// Verify handles GET /scopes/:scope/transactions/:kind/:external_id/verify
func (h *LedgerHandler) Verify(c *gin.Context) {
	kind := ledger.TransactionKind(strings.ToLower(c.Param("kind")))
	if !kind.IsValid() {
		h.ErrorWithCode(c, dto.ErrCodeValidation, "kind must be invoice or payment")
		return
	}

	v, err := h.verifier.VerifyEntry(c.Request.Context(), c.Param("scope"), kind, c.Param("external_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, v)
}

// RecomputeInvoice handles POST /scopes/:scope/invoices/:external_id/recompute
func (h *LedgerHandler) RecomputeInvoice(c *gin.Context) {
	invoice, err := h.verifier.Recompute(c.Request.Context(), c.Param("scope"), c.Param("external_id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, InvoiceStatusResponse{
		ExternalID: invoice.ExternalID,
		Total:      invoice.Total,
		AmountPaid: invoice.AmountPaid,
		BalanceDue: invoice.BalanceDue,
		Status:     string(invoice.Status),
	})
}
