package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/engineo-ai/engineo-backend/internal/logger"
	"github.com/engineo-ai/engineo-backend/internal/playbook"
	"github.com/engineo-ai/engineo-backend/internal/repos"
	"github.com/engineo-ai/engineo-backend/internal/requestdata"
	"github.com/engineo-ai/engineo-backend/internal/types"
)

type DraftView struct {
	ID         uuid.UUID            `json:"id"`
	PlaybookID string               `json:"playbook_id"`
	ScopeID    string               `json:"scope_id"`
	RulesHash  string               `json:"rules_hash"`
	Status     string               `json:"status"`
	Counts     playbook.Counts      `json:"counts"`
	Items      []playbook.DraftItem `json:"items"`
	AppliedAt  *time.Time           `json:"applied_at,omitempty"`
	ExpiresAt  *time.Time           `json:"expires_at,omitempty"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// DraftService reads drafts and accepts human edits to individual final
// suggestions. Edits replace the final text only; the raw AI suggestion stays
// as the audit trail.
type DraftService interface {
	Get(ctx context.Context, rd *requestdata.RequestData, draftID uuid.UUID) (*DraftView, error)
	UpdateItem(ctx context.Context, rd *requestdata.RequestData, draftID uuid.UUID, itemIndex int, newFinal string) (*DraftView, error)
}

type draftService struct {
	log    *logger.Logger
	drafts repos.DraftRepo
}

func NewDraftService(baseLog *logger.Logger, drafts repos.DraftRepo) DraftService {
	return &draftService{
		log:    baseLog.With("service", "DraftService"),
		drafts: drafts,
	}
}

func (s *draftService) Get(ctx context.Context, rd *requestdata.RequestData, draftID uuid.UUID) (*DraftView, error) {
	draft, err := s.loadOwned(ctx, rd, draftID)
	if err != nil {
		return nil, err
	}
	return toDraftView(draft)
}

func (s *draftService) UpdateItem(ctx context.Context, rd *requestdata.RequestData, draftID uuid.UUID, itemIndex int, newFinal string) (*DraftView, error) {
	if !CapabilitiesFor(rd.EffectiveRole).CanGenerateDrafts {
		return nil, playbook.NewError(playbook.CodeRoleForbidden, "role cannot edit drafts")
	}
	draft, err := s.loadOwned(ctx, rd, draftID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if draft.Expired(now) {
		return nil, playbook.NewError(playbook.CodeDraftExpired, "draft expired, regenerate the preview")
	}
	if draft.AppliedAt != nil {
		return nil, playbook.NewError(playbook.CodeDraftConflict, "applied drafts are immutable")
	}
	updated, err := s.drafts.UpdateItemFinalSuggestion(ctx, nil, draftID, itemIndex, newFinal)
	if err != nil {
		return nil, err
	}
	return toDraftView(updated)
}

func (s *draftService) loadOwned(ctx context.Context, rd *requestdata.RequestData, draftID uuid.UUID) (*types.AutomationPlaybookDraft, error) {
	if rd == nil || rd.ProjectID == uuid.Nil {
		return nil, playbook.NewError(playbook.CodeInternal, "missing request context")
	}
	draft, err := s.drafts.GetByID(ctx, nil, draftID)
	if err != nil {
		return nil, err
	}
	if draft == nil || draft.ProjectID != rd.ProjectID {
		return nil, playbook.NewError(playbook.CodeDraftNotFound, "draft not found")
	}
	return draft, nil
}

func toDraftView(draft *types.AutomationPlaybookDraft) (*DraftView, error) {
	items, err := playbook.DecodeItems(draft.Items)
	if err != nil {
		return nil, err
	}
	return &DraftView{
		ID:         draft.ID,
		PlaybookID: draft.PlaybookID,
		ScopeID:    draft.ScopeID,
		RulesHash:  draft.RulesHash,
		Status:     draft.EffectiveStatus(time.Now().UTC()),
		Counts: playbook.Counts{
			AffectedTotal:     draft.AffectedTotal,
			DraftGenerated:    draft.DraftGenerated,
			NoSuggestionCount: draft.NoSuggestionCount,
		},
		Items:     items,
		AppliedAt: draft.AppliedAt,
		ExpiresAt: draft.ExpiresAt,
		UpdatedAt: draft.UpdatedAt,
	}, nil
}
