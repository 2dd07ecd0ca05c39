package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/engineo-ai/engineo-backend/internal/apierr"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// RespondServiceError maps typed playbook codes (and apierr carriers) to HTTP
// statuses. Unknown errors surface as 500 without leaking wrapped detail.
func RespondServiceError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		RespondError(c, apiErr.Status, apiErr.Code, apiErr.Err)
		return
	}
	code := playbook.CodeOf(err)
	RespondError(c, statusForCode(code), string(code), err)
}

func statusForCode(code playbook.Code) int {
	switch code {
	case playbook.CodeDraftNotFound, playbook.CodeApprovalNotFound:
		return http.StatusNotFound
	case playbook.CodeDraftExpired, playbook.CodeRulesChanged, playbook.CodeDraftConflict:
		return http.StatusConflict
	case playbook.CodeScopeInvalid:
		return http.StatusUnprocessableEntity
	case playbook.CodeApprovalRequired:
		return http.StatusPreconditionFailed
	case playbook.CodeRoleForbidden:
		return http.StatusForbidden
	case playbook.CodeAIDailyLimitReached, playbook.CodeAIQuotaExceeded,
		playbook.CodeEntitlementsLimit, playbook.CodeAIQuotaExhausted:
		return http.StatusTooManyRequests
	case playbook.CodeAIAllModelsExhausted, playbook.CodeAITransient:
		return http.StatusBadGateway
	case playbook.CodeAITimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
