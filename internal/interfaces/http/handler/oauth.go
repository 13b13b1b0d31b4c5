package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ledgersync/backend/internal/domain/integration"
	"github.com/ledgersync/backend/internal/infrastructure/logger"
	"github.com/ledgersync/backend/internal/interfaces/http/dto"
)

// CredentialExchanger runs the authorization code flow of a scope
type CredentialExchanger interface {
	NewState(scope string) (string, error)
	VerifyState(state string) (string, error)
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, scope, code string) (*integration.ApiToken, error)
}

// OAuthHandler handles the credential consent endpoints
type OAuthHandler struct {
	BaseHandler
	exchanger CredentialExchanger
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(exchanger CredentialExchanger) *OAuthHandler {
	return &OAuthHandler{exchanger: exchanger}
}

// ConnectedResponse confirms a stored credential without exposing it
type ConnectedResponse struct {
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Authorize handles GET /oauth/authorize?scope=... and redirects to the consent page
func (h *OAuthHandler) Authorize(c *gin.Context) {
	scope := strings.TrimSpace(c.Query("scope"))
	if scope == "" {
		h.ErrorWithCode(c, dto.ErrCodeValidation, "scope query parameter is required")
		return
	}
	state, err := h.exchanger.NewState(scope)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Redirect(http.StatusFound, h.exchanger.AuthorizationURL(state))
}

// Callback handles GET /oauth/callback?code=...&state=...
func (h *OAuthHandler) Callback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		h.ErrorWithCode(c, dto.ErrCodeAuthExpired, "authorization was not granted: "+denied)
		return
	}

	scope, err := h.exchanger.VerifyState(c.Query("state"))
	if err != nil {
		logger.GetGinLogger(c).Warn("Rejected oauth callback", zap.Error(err))
		h.ErrorWithCode(c, dto.ErrCodeInvalidOAuthState, err.Error())
		return
	}

	token, err := h.exchanger.ExchangeCode(c.Request.Context(), scope, c.Query("code"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ConnectedResponse{Scope: token.Scope, ExpiresAt: token.ExpiresAt})
}
