package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/services"
)

type PlaybookHandler struct {
	log      *logger.Logger
	estimate services.EstimateService
	preview  services.PreviewService
	apply    services.ApplyService
	drafts   services.DraftService
	runs     repos.RunRepo
}

func NewPlaybookHandler(
	log *logger.Logger,
	estimate services.EstimateService,
	preview services.PreviewService,
	apply services.ApplyService,
	drafts services.DraftService,
	runs repos.RunRepo,
) *PlaybookHandler {
	return &PlaybookHandler{
		log:      log.With("handler", "PlaybookHandler"),
		estimate: estimate,
		preview:  preview,
		apply:    apply,
		drafts:   drafts,
		runs:     runs,
	}
}

func (h *PlaybookHandler) ListPlaybooks(c *gin.Context) {
	RespondOK(c, gin.H{"playbooks": playbook.Definitions()})
}

func (h *PlaybookHandler) Estimate(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	var input services.EstimateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	input.PlaybookID = c.Param("playbookID")
	est, err := h.estimate.Estimate(c.Request.Context(), rd, input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, est)
}

func (h *PlaybookHandler) Preview(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	var input services.PreviewInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	input.PlaybookID = c.Param("playbookID")
	res, err := h.preview.Preview(c.Request.Context(), rd, input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, res)
}

func (h *PlaybookHandler) Apply(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	var input services.ApplyInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	input.PlaybookID = c.Param("playbookID")
	res, err := h.apply.Apply(c.Request.Context(), rd, input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, res)
}

func (h *PlaybookHandler) GetDraft(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	draftID, err := uuid.Parse(c.Param("draftID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_DRAFT_ID", err)
		return
	}
	view, err := h.drafts.Get(c.Request.Context(), rd, draftID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, view)
}

func (h *PlaybookHandler) UpdateDraftItem(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	draftID, err := uuid.Parse(c.Param("draftID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_DRAFT_ID", err)
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ITEM_INDEX", err)
		return
	}
	var body struct {
		FinalSuggestion string `json:"final_suggestion"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	view, err := h.drafts.UpdateItem(c.Request.Context(), rd, draftID, index, body.FinalSuggestion)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, view)
}

func (h *PlaybookHandler) ListRuns(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.runs.ListByProject(c.Request.Context(), nil, rd.ProjectID, c.Query("playbook_id"), limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}
