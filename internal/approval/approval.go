// Package approval is the human review surface for proposed changes:
// listing, selection, approval (which writes through to the record), and
// rejection.
package approval

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/model"
	"github.com/scentdex/catalog-cli/internal/store"
)

// driftRetries bounds how often an approval re-reads a record after losing a
// version race.
const driftRetries = 3

// Service reviews and applies enhancement changes.
type Service struct {
	store store.Store
	rules merge.Rules

	readyObservers []func(ChangesReadyEvent)
}

// New creates an approval Service.
func New(st store.Store, rules merge.Rules) *Service {
	return &Service{store: st, rules: rules}
}

// Changes returns the proposed changes of a completed request. Requests in
// any other state have no reviewable changes yet (or never will).
func (s *Service) Changes(ctx context.Context, requestID string) (*model.EnhancementRequest, []model.EnhancementChange, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.Status != model.RequestStatusCompleted {
		return nil, nil, eris.Errorf("approval: request %s is %s, changes are reviewable once completed", requestID, req.Status)
	}
	changes, err := s.store.GetChangesForRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return req, changes, nil
}

// Skipped explains why an approved change was not applied.
type Skipped struct {
	ChangeID string `json:"change_id"`
	Field    string `json:"field"`
	Reason   string `json:"reason"`
}

// Outcome summarizes an approval call.
type Outcome struct {
	Applied int       `json:"applied"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// Approve applies the identified changes to their records. Changes that are
// no longer eligible (the record moved underneath them, or they carry
// validation errors) are skipped individually; one bad change does not block
// the rest.
func (s *Service) Approve(ctx context.Context, changeIDs []string, adminID string) (*Outcome, error) {
	if adminID == "" {
		return nil, eris.New("approval: admin id is required")
	}
	changes, err := s.store.GetChangesByIDs(ctx, changeIDs)
	if err != nil {
		return nil, err
	}
	if len(changes) != len(changeIDs) {
		return nil, eris.Errorf("approval: %d of %d changes not found", len(changeIDs)-len(changes), len(changeIDs))
	}

	outcome := &Outcome{}
	byFragrance := make(map[string][]model.EnhancementChange)
	for _, ch := range changes {
		if !ch.ApprovalState.Pending() {
			outcome.Skipped = append(outcome.Skipped, Skipped{
				ChangeID: ch.ID, Field: ch.FieldName,
				Reason: "change is " + string(ch.ApprovalState),
			})
			continue
		}
		if len(ch.ValidationErrors) > 0 {
			outcome.Skipped = append(outcome.Skipped, Skipped{
				ChangeID: ch.ID, Field: ch.FieldName,
				Reason: "validation errors: " + ch.ValidationErrors[0],
			})
			continue
		}
		byFragrance[ch.FragranceID] = append(byFragrance[ch.FragranceID], ch)
	}

	reqTypes, err := s.requestTypes(ctx, changes)
	if err != nil {
		return nil, err
	}

	for fragranceID, group := range byFragrance {
		applied, skipped, err := s.applyGroup(ctx, fragranceID, group, reqTypes, adminID)
		if err != nil {
			return nil, err
		}
		outcome.Applied += applied
		outcome.Skipped = append(outcome.Skipped, skipped...)
	}

	zap.L().Info("changes approved",
		zap.String("admin_id", adminID),
		zap.Int("applied", outcome.Applied),
		zap.Int("skipped", len(outcome.Skipped)),
	)
	return outcome, nil
}

// applyGroup applies one fragrance's changes under its version lock,
// re-reading and re-validating when a concurrent write bumps the version.
func (s *Service) applyGroup(ctx context.Context, fragranceID string, group []model.EnhancementChange, reqTypes map[string]model.RequestType, adminID string) (int, []Skipped, error) {
	var lastErr error
	for attempt := 0; attempt < driftRetries; attempt++ {
		rec, err := s.store.GetFragrance(ctx, fragranceID)
		if err != nil {
			return 0, nil, err
		}

		now := time.Now().UTC()
		var eligible []model.EnhancementChange
		var skipped []Skipped
		for _, ch := range group {
			reqType := reqTypes[ch.RequestID]
			current, _ := rec.Field(ch.FieldName)
			decision := s.rules.Eligible(reqType, ch.FieldName, current, ch.ChangeType, ch.NewValue, ch.ConfidenceScore, now)
			if !decision.Eligible {
				skipped = append(skipped, Skipped{ChangeID: ch.ID, Field: ch.FieldName, Reason: decision.Reason})
				continue
			}

			ch.ReviewedBy = adminID
			rec.Fields[ch.FieldName] = model.FieldState{
				Value:      ch.NewValue,
				Confidence: ch.ConfidenceScore,
				Source:     ch.Source,
				UpdatedAt:  now,
			}
			eligible = append(eligible, ch)
		}

		if len(eligible) == 0 {
			return 0, skipped, nil
		}

		err = s.store.ApplyRecordChanges(ctx, rec, eligible)
		if store.IsDrift(err) {
			lastErr = err
			zap.L().Warn("record drifted during approval, retrying",
				zap.String("fragrance_id", fragranceID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return 0, nil, err
		}
		return len(eligible), skipped, nil
	}
	return 0, nil, eris.Wrapf(lastErr, "approval: record %s kept drifting", fragranceID)
}

func (s *Service) requestTypes(ctx context.Context, changes []model.EnhancementChange) (map[string]model.RequestType, error) {
	out := make(map[string]model.RequestType)
	for _, ch := range changes {
		if _, ok := out[ch.RequestID]; ok {
			continue
		}
		req, err := s.store.GetRequest(ctx, ch.RequestID)
		if err != nil {
			return nil, err
		}
		out[ch.RequestID] = req.Type
	}
	return out, nil
}

// Reject marks the identified changes rejected. Rejection never touches the
// record; the changes stay as audit entries.
func (s *Service) Reject(ctx context.Context, changeIDs []string, adminID, reason string) error {
	if adminID == "" {
		return eris.New("approval: admin id is required")
	}
	if err := s.store.UpdateChangeStates(ctx, changeIDs, model.ApprovalRejected, adminID, reason); err != nil {
		return err
	}
	zap.L().Info("changes rejected",
		zap.String("admin_id", adminID),
		zap.Int("count", len(changeIDs)),
		zap.String("reason", reason),
	)
	return nil
}

// SelectAll promotes every manual pending change of a request to selected,
// except ones carrying validation errors.
func (s *Service) SelectAll(ctx context.Context, requestID, adminID string) (int, error) {
	return s.toggleAll(ctx, requestID, adminID, model.ApprovalManual, model.ApprovalAutoSelected, true)
}

// DeselectAll demotes every selected pending change of a request back to
// manual.
func (s *Service) DeselectAll(ctx context.Context, requestID, adminID string) (int, error) {
	return s.toggleAll(ctx, requestID, adminID, model.ApprovalAutoSelected, model.ApprovalManual, false)
}

func (s *Service) toggleAll(ctx context.Context, requestID, adminID string, from, to model.ApprovalState, skipInvalid bool) (int, error) {
	if adminID == "" {
		return 0, eris.New("approval: admin id is required")
	}
	changes, err := s.store.GetChangesForRequest(ctx, requestID)
	if err != nil {
		return 0, err
	}

	var ids []string
	for _, ch := range changes {
		if ch.ApprovalState != from {
			continue
		}
		if skipInvalid && len(ch.ValidationErrors) > 0 {
			continue
		}
		ids = append(ids, ch.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.store.UpdateChangeStates(ctx, ids, to, adminID, ""); err != nil {
		return 0, err
	}
	return len(ids), nil
}
