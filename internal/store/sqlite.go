package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	rules merge.Rules
	keys  keyMutex
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string, rules merge.Rules) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, rules: rules}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS fragrances (
	id                 TEXT PRIMARY KEY,
	external_key       TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	brand              TEXT NOT NULL,
	fields             TEXT NOT NULL,
	completeness_score REAL NOT NULL DEFAULT 0,
	verified_count     INTEGER NOT NULL DEFAULT 0,
	pricing_updated_at DATETIME,
	version            INTEGER NOT NULL DEFAULT 0,
	last_enhanced_at   DATETIME,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enhancement_requests (
	id                   TEXT PRIMARY KEY,
	fragrance_id         TEXT NOT NULL REFERENCES fragrances(id),
	type                 TEXT NOT NULL,
	priority             INTEGER NOT NULL,
	confidence_threshold REAL NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending',
	admin_id             TEXT NOT NULL,
	processing_notes     TEXT NOT NULL DEFAULT '',
	error_message        TEXT NOT NULL DEFAULT '',
	estimated_cost       REAL NOT NULL DEFAULT 0,
	actual_cost          REAL NOT NULL DEFAULT 0,
	completeness_before  REAL,
	completeness_after   REAL,
	applied_count        INTEGER NOT NULL DEFAULT 0,
	retry_of             TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL,
	started_at           DATETIME,
	completed_at         DATETIME
);

CREATE TABLE IF NOT EXISTS enhancement_changes (
	id                TEXT PRIMARY KEY,
	request_id        TEXT NOT NULL REFERENCES enhancement_requests(id),
	fragrance_id      TEXT NOT NULL REFERENCES fragrances(id),
	field_name        TEXT NOT NULL,
	old_value         TEXT,
	new_value         TEXT,
	change_type       TEXT NOT NULL,
	confidence_score  REAL NOT NULL,
	source            TEXT NOT NULL,
	source_url        TEXT NOT NULL DEFAULT '',
	notes             TEXT NOT NULL DEFAULT '',
	validation_errors TEXT NOT NULL DEFAULT '[]',
	approval_state    TEXT NOT NULL,
	reviewed_by       TEXT NOT NULL DEFAULT '',
	reject_reason     TEXT NOT NULL DEFAULT '',
	applied_at        DATETIME,
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fragrances_completeness ON fragrances(completeness_score);
CREATE INDEX IF NOT EXISTS idx_requests_status ON enhancement_requests(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_requests_fragrance ON enhancement_requests(fragrance_id);
CREATE INDEX IF NOT EXISTS idx_changes_request ON enhancement_changes(request_id);
CREATE INDEX IF NOT EXISTS idx_changes_state ON enhancement_changes(approval_state);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert serializes writes per external key with an in-process lock; a lost
// insert race is retried internally as the enhance path.
func (s *SQLiteStore) Upsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	if strings.TrimSpace(in.ExternalKey) == "" {
		return nil, eris.New("sqlite: upsert requires an external key")
	}

	unlock := s.keys.lock(in.ExternalKey)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		res, err := s.tryUpsert(ctx, in)
		var conflict *UpsertConflictError
		if errors.As(err, &conflict) {
			lastErr = err
			continue
		}
		return res, err
	}
	return nil, eris.Wrap(lastErr, "sqlite: upsert retries exhausted")
}

func (s *SQLiteStore) tryUpsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	now := time.Now().UTC()

	rec, err := s.GetFragranceByKey(ctx, in.ExternalKey)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}

	if rec == nil {
		fields := newFieldSet(in, now)
		completeness, verifiedCount, pricingAt := derived(fields)
		fieldsJSON, err := json.Marshal(fields)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal fields")
		}

		id := uuid.New().String()
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO fragrances (id, external_key, name, brand, fields, completeness_score, verified_count, pricing_updated_at, version, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			 ON CONFLICT(external_key) DO NOTHING`,
			id, in.ExternalKey, in.Name, in.Brand, string(fieldsJSON), completeness, verifiedCount, pricingAt, now, now,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert fragrance")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			// Another writer created the record between lookup and insert.
			return nil, &UpsertConflictError{ExternalKey: in.ExternalKey}
		}
		return &UpsertResult{RecordID: id, Status: UpsertCreated, UpdatedFields: fieldNames(fields)}, nil
	}

	merged, updated := evaluateUpsert(s.rules, rec, in, now)
	if len(updated) == 0 {
		return &UpsertResult{RecordID: rec.ID, Status: UpsertVerified, UpdatedFields: []string{}}, nil
	}

	completeness, verifiedCount, pricingAt := derived(merged)
	fieldsJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal fields")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE fragrances
		 SET fields = ?, completeness_score = ?, verified_count = ?, pricing_updated_at = ?,
		     version = version + 1, last_enhanced_at = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(fieldsJSON), completeness, verifiedCount, pricingAt, now, now, rec.ID, rec.Version,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: update fragrance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, &UpsertConflictError{ExternalKey: in.ExternalKey}
	}
	return &UpsertResult{RecordID: rec.ID, Status: UpsertEnhanced, UpdatedFields: updated}, nil
}

const fragranceColumns = `id, external_key, name, brand, fields, completeness_score, version, last_enhanced_at, created_at, updated_at`

func (s *SQLiteStore) GetFragrance(ctx context.Context, id string) (*model.FragranceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances WHERE id = ?`, id)
	rec, err := scanFragrance(row)
	if err == errNoRow {
		return nil, &NotFoundError{Entity: "fragrance", ID: id}
	}
	return rec, err
}

func (s *SQLiteStore) GetFragranceByKey(ctx context.Context, externalKey string) (*model.FragranceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances WHERE external_key = ?`, externalKey)
	rec, err := scanFragrance(row)
	if err == errNoRow {
		return nil, &NotFoundError{Entity: "fragrance", ID: externalKey}
	}
	return rec, err
}

func (s *SQLiteStore) SelectCandidates(ctx context.Context, level model.PriorityLevel, maxItems int) ([]model.FragranceRecord, error) {
	if maxItems <= 0 {
		maxItems = 100
	}

	var where string
	var args []any
	switch level {
	case model.PriorityLowQuality:
		where = `completeness_score < 60`
	case model.PriorityMissingData:
		where = `completeness_score < 100`
	case model.PriorityUnverified:
		where = `verified_count = 0`
	case model.PriorityOutdatedPricing:
		where = `pricing_updated_at IS NOT NULL AND pricing_updated_at < ?`
		args = append(args, time.Now().UTC().Add(-s.rules.PricingStaleAfter))
	default:
		return nil, eris.Errorf("sqlite: unknown priority level %q", level)
	}

	args = append(args, maxItems)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances WHERE `+where+`
		 ORDER BY completeness_score ASC, id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select candidates")
	}
	defer rows.Close()

	var out []model.FragranceRecord
	for rows.Next() {
		rec, err := scanFragrance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: select candidates iterate")
}

func (s *SQLiteStore) SetFieldVerified(ctx context.Context, fragranceID, field string, verified bool) error {
	if !model.IsTrackedField(field) {
		return eris.Errorf("sqlite: unknown field %q", field)
	}

	rec, err := s.GetFragrance(ctx, fragranceID)
	if err != nil {
		return err
	}
	st, ok := rec.Fields[field]
	if !ok || model.IsEmptyValue(st.Value) {
		return eris.Errorf("sqlite: field %q is empty, nothing to verify", field)
	}
	st.Verified = verified
	fields := rec.Fields.Clone()
	fields[field] = st

	completeness, verifiedCount, pricingAt := derived(fields)
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE fragrances
		 SET fields = ?, completeness_score = ?, verified_count = ?, pricing_updated_at = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(fieldsJSON), completeness, verifiedCount, pricingAt, time.Now().UTC(), rec.ID, rec.Version,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: set field verified")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return &DriftError{FragranceID: fragranceID}
	}
	return nil
}

func (s *SQLiteStore) ApplyRecordChanges(ctx context.Context, rec *model.FragranceRecord, changes []model.EnhancementChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin apply")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	completeness, verifiedCount, pricingAt := derived(rec.Fields)
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fields")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE fragrances
		 SET fields = ?, completeness_score = ?, verified_count = ?, pricing_updated_at = ?,
		     version = version + 1, last_enhanced_at = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(fieldsJSON), completeness, verifiedCount, pricingAt, now, now, rec.ID, rec.Version,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: apply record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return &DriftError{FragranceID: rec.ID}
	}

	perRequest := make(map[string]int)
	for _, ch := range changes {
		res, err := tx.ExecContext(ctx,
			`UPDATE enhancement_changes
			 SET approval_state = ?, reviewed_by = ?, applied_at = ?
			 WHERE id = ? AND approval_state IN (?, ?)`,
			string(model.ApprovalApplied), ch.ReviewedBy, now, ch.ID,
			string(model.ApprovalAutoSelected), string(model.ApprovalManual),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: apply change %s", ch.ID)
		}
		if applied, err := res.RowsAffected(); err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		} else if applied > 0 {
			perRequest[ch.RequestID]++
		}
	}

	for requestID, count := range perRequest {
		if _, err := tx.ExecContext(ctx,
			`UPDATE enhancement_requests
			 SET applied_count = applied_count + ?, completeness_after = ?
			 WHERE id = ?`,
			count, completeness, requestID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: roll up request %s", requestID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit apply")
}

const requestColumns = `id, fragrance_id, type, priority, confidence_threshold, status, admin_id, processing_notes, error_message, estimated_cost, actual_cost, completeness_before, completeness_after, applied_count, retry_of, created_at, started_at, completed_at`

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *model.EnhancementRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = model.RequestStatusPending
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enhancement_requests
		 (`+requestColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.FragranceID, string(req.Type), req.Priority, req.ConfidenceThreshold,
		string(req.Status), req.AdminID, req.ProcessingNotes, req.ErrorMessage,
		req.EstimatedCost, req.ActualCost, req.CompletenessBefore, req.CompletenessAfter,
		req.AppliedCount, req.RetryOf, req.CreatedAt, req.StartedAt, req.CompletedAt,
	)
	return eris.Wrap(err, "sqlite: insert request")
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.EnhancementRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM enhancement_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if err == errNoRow {
		return nil, &NotFoundError{Entity: "request", ID: id}
	}
	return req, err
}

func (s *SQLiteStore) ListRequests(ctx context.Context, f RequestFilter) ([]model.EnhancementRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM enhancement_requests WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.AdminID != "" {
		query += ` AND admin_id = ?`
		args = append(args, f.AdminID)
	}
	if f.FragranceID != "" {
		query += ` AND fragrance_id = ?`
		args = append(args, f.FragranceID)
	}
	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	return s.queryRequests(ctx, query, args...)
}

func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]model.EnhancementRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM enhancement_requests
		 WHERE status = ?
		 ORDER BY priority ASC, created_at ASC, id ASC LIMIT ?`,
		string(model.RequestStatusPending), limit)
}

func (s *SQLiteStore) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]model.EnhancementRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM enhancement_requests
		 WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
		 ORDER BY started_at ASC`,
		string(model.RequestStatusProcessing), cutoff.UTC())
}

func (s *SQLiteStore) queryRequests(ctx context.Context, query string, args ...any) ([]model.EnhancementRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query requests")
	}
	defer rows.Close()

	var out []model.EnhancementRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query requests iterate")
}

func (s *SQLiteStore) TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, upd RequestUpdate) (bool, error) {
	set := []string{"status = ?"}
	args := []any{string(to)}

	if upd.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.ProcessingNotes != nil {
		set = append(set, "processing_notes = ?")
		args = append(args, *upd.ProcessingNotes)
	}
	if upd.ActualCost != nil {
		set = append(set, "actual_cost = ?")
		args = append(args, *upd.ActualCost)
	}
	if upd.CompletenessBefore != nil {
		set = append(set, "completeness_before = ?")
		args = append(args, *upd.CompletenessBefore)
	}
	if upd.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, upd.StartedAt.UTC())
	}
	if upd.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, upd.CompletedAt.UTC())
	}

	args = append(args, id, string(from))
	res, err := s.db.ExecContext(ctx,
		`UPDATE enhancement_requests SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition request %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

const changeColumns = `id, request_id, fragrance_id, field_name, old_value, new_value, change_type, confidence_score, source, source_url, notes, validation_errors, approval_state, reviewed_by, reject_reason, applied_at, created_at`

func (s *SQLiteStore) CreateChanges(ctx context.Context, changes []model.EnhancementChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create changes")
	}
	defer tx.Rollback()

	for i := range changes {
		ch := &changes[i]
		if ch.ID == "" {
			ch.ID = uuid.New().String()
		}
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = time.Now().UTC()
		}

		oldJSON, newJSON, veJSON, err := marshalChangeValues(ch)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO enhancement_changes (`+changeColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ch.ID, ch.RequestID, ch.FragranceID, ch.FieldName, oldJSON, newJSON,
			string(ch.ChangeType), ch.ConfidenceScore, ch.Source, ch.SourceURL, ch.Notes,
			veJSON, string(ch.ApprovalState), ch.ReviewedBy, ch.RejectReason,
			ch.AppliedAt, ch.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert change for field %s", ch.FieldName)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create changes")
}

func (s *SQLiteStore) GetChangesForRequest(ctx context.Context, requestID string) ([]model.EnhancementChange, error) {
	return s.queryChanges(ctx,
		`SELECT `+changeColumns+` FROM enhancement_changes WHERE request_id = ? ORDER BY field_name ASC`,
		requestID)
}

func (s *SQLiteStore) GetChangesByIDs(ctx context.Context, ids []string) ([]model.EnhancementChange, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryChanges(ctx,
		`SELECT `+changeColumns+` FROM enhancement_changes WHERE id IN (`+placeholders+`) ORDER BY fragrance_id ASC, field_name ASC`,
		args...)
}

func (s *SQLiteStore) queryChanges(ctx context.Context, query string, args ...any) ([]model.EnhancementChange, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query changes")
	}
	defer rows.Close()

	var out []model.EnhancementChange
	for rows.Next() {
		ch, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query changes iterate")
}

func (s *SQLiteStore) UpdateChangeStates(ctx context.Context, ids []string, state model.ApprovalState, reviewedBy, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := []any{string(state), reviewedBy, reason}
	for _, id := range ids {
		args = append(args, id)
	}
	// Applied changes are audit records, never rewritten.
	_, err := s.db.ExecContext(ctx,
		`UPDATE enhancement_changes
		 SET approval_state = ?, reviewed_by = ?, reject_reason = ?
		 WHERE id IN (`+placeholders+`) AND approval_state != 'applied'`,
		args...,
	)
	return eris.Wrap(err, "sqlite: update change states")
}

func (s *SQLiteStore) RequestCounts(ctx context.Context) (map[model.RequestStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM enhancement_requests GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: request counts")
	}
	defer rows.Close()

	counts := make(map[model.RequestStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan request count")
		}
		counts[model.RequestStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: request counts iterate")
}

func (s *SQLiteStore) PendingApprovalCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enhancement_changes c
		 JOIN enhancement_requests r ON r.id = c.request_id
		 WHERE c.approval_state IN ('auto_selected', 'manual') AND r.status = 'completed'`,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: pending approval count")
}

func (s *SQLiteStore) TotalCostSpent(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(actual_cost) FROM enhancement_requests`).Scan(&total)
	return total.Float64, eris.Wrap(err, "sqlite: total cost spent")
}

func (s *SQLiteStore) AvgProcessingMinutes(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG((julianday(completed_at) - julianday(created_at)) * 1440.0)
		 FROM enhancement_requests
		 WHERE status = 'completed' AND completed_at IS NOT NULL`,
	).Scan(&avg)
	return avg.Float64, eris.Wrap(err, "sqlite: avg processing minutes")
}

func (s *SQLiteStore) AvgQualityImprovement(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(completeness_after - completeness_before)
		 FROM enhancement_requests
		 WHERE applied_count > 0 AND completeness_before IS NOT NULL AND completeness_after IS NOT NULL`,
	).Scan(&avg)
	return avg.Float64, eris.Wrap(err, "sqlite: avg quality improvement")
}

// keyMutex serializes upserts per external key within this process.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
