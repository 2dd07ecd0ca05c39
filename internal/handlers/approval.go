package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/services"
)

type ApprovalHandler struct {
	log       *logger.Logger
	approvals services.ApprovalService
}

func NewApprovalHandler(log *logger.Logger, approvals services.ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{
		log:       log.With("handler", "ApprovalHandler"),
		approvals: approvals,
	}
}

func (h *ApprovalHandler) Create(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	var input services.ApprovalRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	request, err := h.approvals.CreateRequest(c.Request.Context(), rd, input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (h *ApprovalHandler) Decide(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	approvalID, err := uuid.Parse(c.Param("approvalID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_APPROVAL_ID", err)
		return
	}
	var body struct {
		Approve bool `json:"approve"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	request, err := h.approvals.Decide(c.Request.Context(), rd, services.ApprovalDecisionInput{
		ApprovalID: approvalID,
		Approve:    body.Approve,
	})
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, request)
}

// Status answers either by approval id or by resource id, whichever the
// caller supplies.
func (h *ApprovalHandler) Status(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if resourceID := c.Query("resource_id"); resourceID != "" {
		request, err := h.approvals.GetStatusByResource(c.Request.Context(), rd, resourceID)
		if err != nil {
			RespondServiceError(c, err)
			return
		}
		RespondOK(c, request)
		return
	}
	approvalID, err := uuid.Parse(c.Query("approval_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_APPROVAL_ID", err)
		return
	}
	request, err := h.approvals.GetStatus(c.Request.Context(), rd, approvalID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, request)
}

func (h *ApprovalHandler) ListPending(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	pending, err := h.approvals.ListPending(c.Request.Context(), rd)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"approvals": pending})
}
