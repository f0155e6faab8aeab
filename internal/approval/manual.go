package approval

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/normalize"
	"github.com/scentdex/catalog-cli/internal/store"
)

// ManualEntry is an admin-supplied set of field values for one fragrance.
type ManualEntry struct {
	FragranceID string
	AdminID     string
	Notes       string
	SourceURL   string
	Fields      map[string]any
}

// ManualResult reports what a manual entry produced.
type ManualResult struct {
	Request *model.EnhancementRequest `json:"request"`
	Changes []model.EnhancementChange `json:"changes"`
	Skipped []Skipped                 `json:"skipped,omitempty"`
}

// RecordManual records admin-supplied values as reviewable changes. Manual
// entries never go through the worker queue: the request is created already
// claimed and settles to completed within this call, so the audit trail and
// review flow match automated requests. Manual changes carry full confidence
// and may target verified fields.
func (s *Service) RecordManual(ctx context.Context, in ManualEntry) (*ManualResult, error) {
	if in.AdminID == "" {
		return nil, eris.New("approval: admin id is required")
	}
	if len(in.Fields) == 0 {
		return nil, eris.New("approval: manual entry needs at least one field")
	}
	for field := range in.Fields {
		if !model.IsTrackedField(field) {
			return nil, eris.Errorf("approval: unknown field %q", field)
		}
	}

	rec, err := s.store.GetFragrance(ctx, in.FragranceID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	before := rec.CompletenessScore
	req := &model.EnhancementRequest{
		FragranceID:         rec.ID,
		Type:                model.RequestTypeManual,
		Priority:            model.PriorityHighest,
		ConfidenceThreshold: model.DefaultConfidenceThreshold,
		Status:              model.RequestStatusProcessing,
		AdminID:             in.AdminID,
		ProcessingNotes:     in.Notes,
		StartedAt:           &now,
		CompletenessBefore:  &before,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(in.Fields))
	for f := range in.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var changes []model.EnhancementChange
	var skipped []Skipped
	for _, field := range fields {
		value := normalize.Value(field, in.Fields[field])
		if model.IsEmptyValue(value) {
			skipped = append(skipped, Skipped{Field: field, Reason: "empty value"})
			continue
		}

		current, _ := rec.Field(field)
		canonEq := normalize.CanonicalEqual(field, current.Value, value)
		changeType := s.rules.Classify(field, current, canonEq, now)

		decision := s.rules.Eligible(model.RequestTypeManual, field, current, changeType, value, 1, now)
		if !decision.Eligible {
			skipped = append(skipped, Skipped{Field: field, Reason: decision.Reason})
			continue
		}

		var oldValue any
		if !model.IsEmptyValue(current.Value) {
			oldValue = current.Value
		}

		changes = append(changes, model.EnhancementChange{
			RequestID:       req.ID,
			FragranceID:     rec.ID,
			FieldName:       field,
			OldValue:        oldValue,
			NewValue:        value,
			ChangeType:      changeType,
			ConfidenceScore: 1,
			Source:          model.SourceManual,
			SourceURL:       in.SourceURL,
			Notes:           in.Notes,
			ApprovalState:   model.ApprovalAutoSelected,
		})
	}

	if len(changes) > 0 {
		if err := s.store.CreateChanges(ctx, changes); err != nil {
			return nil, err
		}
	}

	done := time.Now().UTC()
	ok, err := s.store.TransitionRequest(ctx, req.ID,
		model.RequestStatusProcessing, model.RequestStatusCompleted,
		store.RequestUpdate{CompletedAt: &done})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eris.Errorf("approval: manual request %s moved before completion", req.ID)
	}
	req.Status = model.RequestStatusCompleted
	req.CompletedAt = &done

	if len(changes) > 0 {
		s.PublishChangesReady(ChangesReadyEvent{
			RequestID:    req.ID,
			FragranceID:  rec.ID,
			Changes:      len(changes),
			AutoSelected: len(changes),
			At:           done,
		})
	}

	zap.L().Info("manual entry recorded",
		zap.String("request_id", req.ID),
		zap.String("fragrance_id", rec.ID),
		zap.String("admin_id", in.AdminID),
		zap.Int("changes", len(changes)),
		zap.Int("skipped", len(skipped)),
	)
	return &ManualResult{Request: req, Changes: changes, Skipped: skipped}, nil
}
