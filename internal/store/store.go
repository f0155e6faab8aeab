// Package store persists fragrance records, enhancement requests, and
// proposed changes. Two backends implement the same interface: SQLite
// (modernc.org/sqlite) and Postgres (pgx).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scentdex/catalog-cli/internal/model"
)

// UpsertStatus describes what an upsert did.
type UpsertStatus string

const (
	// UpsertCreated means no record existed for the key; a new one was inserted.
	UpsertCreated UpsertStatus = "created"
	// UpsertEnhanced means the record existed and at least one candidate
	// field was eligible and written.
	UpsertEnhanced UpsertStatus = "enhanced"
	// UpsertVerified means the record existed but nothing was eligible to
	// change; the stored data stands.
	UpsertVerified UpsertStatus = "verified"
)

// UpsertInput is a create-or-enhance request keyed by external key.
type UpsertInput struct {
	ExternalKey string
	Name        string
	Brand       string
	// Fields carries candidate values with confidence and source; only
	// merge-eligible fields are written on the enhance path.
	Fields model.FieldSet
	// RequestType gates verified-field writes: automated types never touch
	// verified fields.
	RequestType model.RequestType
}

// UpsertResult reports the outcome of an upsert.
type UpsertResult struct {
	RecordID      string       `json:"record_id"`
	Status        UpsertStatus `json:"status"`
	UpdatedFields []string     `json:"updated_fields"`
}

// RequestFilter selects requests for listing.
type RequestFilter struct {
	Status      model.RequestStatus
	AdminID     string
	FragranceID string
	Limit       int
}

// RequestUpdate carries optional column updates applied alongside a status
// transition. Nil members are left untouched.
type RequestUpdate struct {
	ErrorMessage       *string
	ProcessingNotes    *string
	ActualCost         *float64
	CompletenessBefore *float64
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// UpsertConflictError reports a lost insert race on an external key. It is
// resolved internally by retrying as the enhance path and never surfaces to
// callers of Upsert.
type UpsertConflictError struct {
	ExternalKey string
}

func (e *UpsertConflictError) Error() string {
	return fmt.Sprintf("upsert conflict on external key %q", e.ExternalKey)
}

// DriftError reports that a record changed between read and conditional
// write. Callers re-read and re-validate.
type DriftError struct {
	FragranceID string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("record %s drifted since read", e.FragranceID)
}

// IsDrift reports whether err wraps a DriftError.
func IsDrift(err error) bool {
	var de *DriftError
	return errors.As(err, &de)
}

// Store is the persistence interface for the enhancement pipeline.
type Store interface {
	// Fragrances
	Upsert(ctx context.Context, in UpsertInput) (*UpsertResult, error)
	GetFragrance(ctx context.Context, id string) (*model.FragranceRecord, error)
	GetFragranceByKey(ctx context.Context, externalKey string) (*model.FragranceRecord, error)
	// SelectCandidates returns records matching a smart-job priority
	// predicate, ordered by completeness ascending then id, capped at maxItems.
	SelectCandidates(ctx context.Context, level model.PriorityLevel, maxItems int) ([]model.FragranceRecord, error)
	// SetFieldVerified flips a tracked field's verified flag (admin action).
	SetFieldVerified(ctx context.Context, fragranceID, field string, verified bool) error
	// ApplyRecordChanges atomically commits an approved change set to one
	// record: writes rec's field set and completeness, marks the changes
	// applied, and rolls applied counts and completeness-after into their
	// requests. rec.UpdatedAt must hold the value loaded at read time; a
	// DriftError is returned when the stored row has moved on.
	ApplyRecordChanges(ctx context.Context, rec *model.FragranceRecord, changes []model.EnhancementChange) error

	// Requests
	CreateRequest(ctx context.Context, req *model.EnhancementRequest) error
	GetRequest(ctx context.Context, id string) (*model.EnhancementRequest, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]model.EnhancementRequest, error)
	// ListPending returns pending requests ordered by priority ascending,
	// then created time, then id.
	ListPending(ctx context.Context, limit int) ([]model.EnhancementRequest, error)
	// ListStaleProcessing returns processing requests whose work started
	// before the cutoff (crash recovery).
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]model.EnhancementRequest, error)
	// TransitionRequest compare-and-swaps the request status. It returns
	// false with no error when the request exists but is not in the expected
	// from-state; the row is left untouched.
	TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, upd RequestUpdate) (bool, error)

	// Changes
	CreateChanges(ctx context.Context, changes []model.EnhancementChange) error
	GetChangesForRequest(ctx context.Context, requestID string) ([]model.EnhancementChange, error)
	GetChangesByIDs(ctx context.Context, ids []string) ([]model.EnhancementChange, error)
	// UpdateChangeStates moves changes to a review state (rejected/manual/
	// auto_selected) with attribution. Applied changes are immutable and are
	// skipped.
	UpdateChangeStates(ctx context.Context, ids []string, state model.ApprovalState, reviewedBy, reason string) error

	// Stats (read-only projections)
	RequestCounts(ctx context.Context) (map[model.RequestStatus]int, error)
	PendingApprovalCount(ctx context.Context) (int, error)
	TotalCostSpent(ctx context.Context) (float64, error)
	AvgProcessingMinutes(ctx context.Context) (float64, error)
	AvgQualityImprovement(ctx context.Context) (float64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
