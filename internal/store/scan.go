package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/scentdex/catalog-cli/internal/model"
)

// errNoRow is the backend-neutral no-rows sentinel used by the scan helpers.
var errNoRow = errors.New("no row")

// scannable covers database/sql and pgx row types.
type scannable interface {
	Scan(dest ...any) error
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return errNoRow
	}
	return err
}

func scanFragrance(row scannable) (*model.FragranceRecord, error) {
	var rec model.FragranceRecord
	var fieldsJSON string
	var lastEnhanced sql.NullTime

	err := row.Scan(&rec.ID, &rec.ExternalKey, &rec.Name, &rec.Brand, &fieldsJSON,
		&rec.CompletenessScore, &rec.Version, &lastEnhanced, &rec.CreatedAt, &rec.UpdatedAt)
	if err := mapNoRows(err); err != nil {
		if err == errNoRow {
			return nil, errNoRow
		}
		return nil, eris.Wrap(err, "scan fragrance")
	}

	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal fragrance fields")
	}
	if rec.Fields == nil {
		rec.Fields = model.FieldSet{}
	}
	if lastEnhanced.Valid {
		t := lastEnhanced.Time
		rec.LastEnhancedAt = &t
	}
	return &rec, nil
}

func scanRequest(row scannable) (*model.EnhancementRequest, error) {
	var req model.EnhancementRequest
	var typ, status string
	var before, after sql.NullFloat64
	var started, completed sql.NullTime

	err := row.Scan(&req.ID, &req.FragranceID, &typ, &req.Priority, &req.ConfidenceThreshold,
		&status, &req.AdminID, &req.ProcessingNotes, &req.ErrorMessage,
		&req.EstimatedCost, &req.ActualCost, &before, &after,
		&req.AppliedCount, &req.RetryOf, &req.CreatedAt, &started, &completed)
	if err := mapNoRows(err); err != nil {
		if err == errNoRow {
			return nil, errNoRow
		}
		return nil, eris.Wrap(err, "scan request")
	}

	req.Type = model.RequestType(typ)
	req.Status = model.RequestStatus(status)
	if before.Valid {
		v := before.Float64
		req.CompletenessBefore = &v
	}
	if after.Valid {
		v := after.Float64
		req.CompletenessAfter = &v
	}
	if started.Valid {
		t := started.Time
		req.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		req.CompletedAt = &t
	}
	return &req, nil
}

func scanChange(row scannable) (*model.EnhancementChange, error) {
	var ch model.EnhancementChange
	var changeType, state string
	var oldJSON, newJSON sql.NullString
	var veJSON string
	var applied sql.NullTime

	err := row.Scan(&ch.ID, &ch.RequestID, &ch.FragranceID, &ch.FieldName,
		&oldJSON, &newJSON, &changeType, &ch.ConfidenceScore, &ch.Source, &ch.SourceURL,
		&ch.Notes, &veJSON, &state, &ch.ReviewedBy, &ch.RejectReason, &applied, &ch.CreatedAt)
	if err := mapNoRows(err); err != nil {
		if err == errNoRow {
			return nil, errNoRow
		}
		return nil, eris.Wrap(err, "scan change")
	}

	ch.ChangeType = model.ChangeType(changeType)
	ch.ApprovalState = model.ApprovalState(state)
	if oldJSON.Valid && oldJSON.String != "" {
		if err := json.Unmarshal([]byte(oldJSON.String), &ch.OldValue); err != nil {
			return nil, eris.Wrap(err, "unmarshal change old value")
		}
	}
	if newJSON.Valid && newJSON.String != "" {
		if err := json.Unmarshal([]byte(newJSON.String), &ch.NewValue); err != nil {
			return nil, eris.Wrap(err, "unmarshal change new value")
		}
	}
	if veJSON != "" {
		if err := json.Unmarshal([]byte(veJSON), &ch.ValidationErrors); err != nil {
			return nil, eris.Wrap(err, "unmarshal change validation errors")
		}
	}
	if applied.Valid {
		t := applied.Time
		ch.AppliedAt = &t
	}
	return &ch, nil
}

// marshalChangeValues serializes the JSON-typed columns of a change.
// A nil old value maps to SQL NULL so additions read back as nil.
func marshalChangeValues(ch *model.EnhancementChange) (oldJSON any, newJSON string, veJSON string, err error) {
	if ch.OldValue != nil {
		b, err := json.Marshal(ch.OldValue)
		if err != nil {
			return nil, "", "", eris.Wrap(err, "marshal change old value")
		}
		oldJSON = string(b)
	}

	b, err := json.Marshal(ch.NewValue)
	if err != nil {
		return nil, "", "", eris.Wrap(err, "marshal change new value")
	}
	newJSON = string(b)

	ve := ch.ValidationErrors
	if ve == nil {
		ve = []string{}
	}
	vb, err := json.Marshal(ve)
	if err != nil {
		return nil, "", "", eris.Wrap(err, "marshal change validation errors")
	}
	veJSON = string(vb)

	return oldJSON, newJSON, veJSON, nil
}

// fieldNames returns the tracked-field names present in fs, in tracked order.
func fieldNames(fs model.FieldSet) []string {
	out := make([]string, 0, len(fs))
	for _, name := range model.TrackedFields {
		if _, ok := fs[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
