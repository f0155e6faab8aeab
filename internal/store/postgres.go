package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/scentdex/catalog-cli/internal/merge"
	"github.com/scentdex/catalog-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool. Per-key upsert writes are
// serialized with row locks (SELECT ... FOR UPDATE), so multiple processes
// can share one database.
type PostgresStore struct {
	pool    Pool
	rules   merge.Rules
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, rules merge.Rules, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, rules: rules, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS fragrances (
	id                 TEXT PRIMARY KEY,
	external_key       TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL,
	brand              TEXT NOT NULL,
	fields             JSONB NOT NULL,
	completeness_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	verified_count     INTEGER NOT NULL DEFAULT 0,
	pricing_updated_at TIMESTAMPTZ,
	version            BIGINT NOT NULL DEFAULT 0,
	last_enhanced_at   TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enhancement_requests (
	id                   TEXT PRIMARY KEY,
	fragrance_id         TEXT NOT NULL REFERENCES fragrances(id),
	type                 TEXT NOT NULL,
	priority             INTEGER NOT NULL,
	confidence_threshold DOUBLE PRECISION NOT NULL,
	status               TEXT NOT NULL DEFAULT 'pending',
	admin_id             TEXT NOT NULL,
	processing_notes     TEXT NOT NULL DEFAULT '',
	error_message        TEXT NOT NULL DEFAULT '',
	estimated_cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	actual_cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
	completeness_before  DOUBLE PRECISION,
	completeness_after   DOUBLE PRECISION,
	applied_count        INTEGER NOT NULL DEFAULT 0,
	retry_of             TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at           TIMESTAMPTZ,
	completed_at         TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS enhancement_changes (
	id                TEXT PRIMARY KEY,
	request_id        TEXT NOT NULL REFERENCES enhancement_requests(id),
	fragrance_id      TEXT NOT NULL REFERENCES fragrances(id),
	field_name        TEXT NOT NULL,
	old_value         JSONB,
	new_value         JSONB,
	change_type       TEXT NOT NULL,
	confidence_score  DOUBLE PRECISION NOT NULL,
	source            TEXT NOT NULL,
	source_url        TEXT NOT NULL DEFAULT '',
	notes             TEXT NOT NULL DEFAULT '',
	validation_errors JSONB NOT NULL DEFAULT '[]',
	approval_state    TEXT NOT NULL,
	reviewed_by       TEXT NOT NULL DEFAULT '',
	reject_reason     TEXT NOT NULL DEFAULT '',
	applied_at        TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fragrances_completeness ON fragrances(completeness_score);
CREATE INDEX IF NOT EXISTS idx_requests_status ON enhancement_requests(status, priority, created_at);
CREATE INDEX IF NOT EXISTS idx_requests_fragrance ON enhancement_requests(fragrance_id);
CREATE INDEX IF NOT EXISTS idx_changes_request ON enhancement_changes(request_id);
CREATE INDEX IF NOT EXISTS idx_changes_state ON enhancement_changes(approval_state);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	if strings.TrimSpace(in.ExternalKey) == "" {
		return nil, eris.New("postgres: upsert requires an external key")
	}

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
	return nil, eris.Wrap(lastErr, "postgres: upsert retries exhausted")
}

func (s *PostgresStore) tryUpsert(ctx context.Context, in UpsertInput) (*UpsertResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	row := tx.QueryRow(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances WHERE external_key = $1 FOR UPDATE`,
		in.ExternalKey)
	rec, err := scanFragrance(row)
	if err != nil && err != errNoRow {
		return nil, err
	}

	if rec == nil {
		fields := newFieldSet(in, now)
		completeness, verifiedCount, pricingAt := derived(fields)
		fieldsJSON, err := json.Marshal(fields)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal fields")
		}

		id := uuid.New().String()
		tag, err := tx.Exec(ctx,
			`INSERT INTO fragrances (id, external_key, name, brand, fields, completeness_score, verified_count, pricing_updated_at, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)
			 ON CONFLICT (external_key) DO NOTHING`,
			id, in.ExternalKey, in.Name, in.Brand, string(fieldsJSON), completeness, verifiedCount, pricingAt, now, now,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert fragrance")
		}
		if tag.RowsAffected() == 0 {
			return nil, &UpsertConflictError{ExternalKey: in.ExternalKey}
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, eris.Wrap(err, "postgres: commit upsert")
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
		return nil, eris.Wrap(err, "postgres: marshal fields")
	}

	if _, err := tx.Exec(ctx,
		`UPDATE fragrances
		 SET fields = $1, completeness_score = $2, verified_count = $3, pricing_updated_at = $4,
		     version = version + 1, last_enhanced_at = $5, updated_at = $6
		 WHERE id = $7`,
		string(fieldsJSON), completeness, verifiedCount, pricingAt, now, now, rec.ID,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: update fragrance")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit upsert")
	}
	return &UpsertResult{RecordID: rec.ID, Status: UpsertEnhanced, UpdatedFields: updated}, nil
}

func (s *PostgresStore) GetFragrance(ctx context.Context, id string) (*model.FragranceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances WHERE id = $1`, id)
	rec, err := scanFragrance(row)
	if err == errNoRow {
		return nil, &NotFoundError{Entity: "fragrance", ID: id}
	}
	return rec, err
}

func (s *PostgresStore) GetFragranceByKey(ctx context.Context, externalKey string) (*model.FragranceRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances WHERE external_key = $1`, externalKey)
	rec, err := scanFragrance(row)
	if err == errNoRow {
		return nil, &NotFoundError{Entity: "fragrance", ID: externalKey}
	}
	return rec, err
}

func (s *PostgresStore) SelectCandidates(ctx context.Context, level model.PriorityLevel, maxItems int) ([]model.FragranceRecord, error) {
	if maxItems <= 0 {
		maxItems = 100
	}

	var where string
	args := []any{maxItems}
	switch level {
	case model.PriorityLowQuality:
		where = `completeness_score < 60`
	case model.PriorityMissingData:
		where = `completeness_score < 100`
	case model.PriorityUnverified:
		where = `verified_count = 0`
	case model.PriorityOutdatedPricing:
		where = `pricing_updated_at IS NOT NULL AND pricing_updated_at < $2`
		args = append(args, time.Now().UTC().Add(-s.rules.PricingStaleAfter))
	default:
		return nil, eris.Errorf("postgres: unknown priority level %q", level)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+fragranceColumns+` FROM fragrances WHERE `+where+`
		 ORDER BY completeness_score ASC, id ASC LIMIT $1`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select candidates")
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
	return out, eris.Wrap(rows.Err(), "postgres: select candidates iterate")
}

func (s *PostgresStore) SetFieldVerified(ctx context.Context, fragranceID, field string, verified bool) error {
	if !model.IsTrackedField(field) {
		return eris.Errorf("postgres: unknown field %q", field)
	}

	rec, err := s.GetFragrance(ctx, fragranceID)
	if err != nil {
		return err
	}
	st, ok := rec.Fields[field]
	if !ok || model.IsEmptyValue(st.Value) {
		return eris.Errorf("postgres: field %q is empty, nothing to verify", field)
	}
	st.Verified = verified
	fields := rec.Fields.Clone()
	fields[field] = st

	completeness, verifiedCount, pricingAt := derived(fields)
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE fragrances
		 SET fields = $1, completeness_score = $2, verified_count = $3, pricing_updated_at = $4,
		     version = version + 1, updated_at = $5
		 WHERE id = $6 AND version = $7`,
		string(fieldsJSON), completeness, verifiedCount, pricingAt, time.Now().UTC(), rec.ID, rec.Version,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: set field verified")
	}
	if tag.RowsAffected() == 0 {
		return &DriftError{FragranceID: fragranceID}
	}
	return nil
}

func (s *PostgresStore) ApplyRecordChanges(ctx context.Context, rec *model.FragranceRecord, changes []model.EnhancementChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin apply")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	completeness, verifiedCount, pricingAt := derived(rec.Fields)
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fields")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE fragrances
		 SET fields = $1, completeness_score = $2, verified_count = $3, pricing_updated_at = $4,
		     version = version + 1, last_enhanced_at = $5, updated_at = $6
		 WHERE id = $7 AND version = $8`,
		string(fieldsJSON), completeness, verifiedCount, pricingAt, now, now, rec.ID, rec.Version,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: apply record")
	}
	if tag.RowsAffected() == 0 {
		return &DriftError{FragranceID: rec.ID}
	}

	perRequest := make(map[string]int)
	for _, ch := range changes {
		tag, err := tx.Exec(ctx,
			`UPDATE enhancement_changes
			 SET approval_state = $1, reviewed_by = $2, applied_at = $3
			 WHERE id = $4 AND approval_state IN ($5, $6)`,
			string(model.ApprovalApplied), ch.ReviewedBy, now, ch.ID,
			string(model.ApprovalAutoSelected), string(model.ApprovalManual),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: apply change %s", ch.ID)
		}
		if tag.RowsAffected() > 0 {
			perRequest[ch.RequestID]++
		}
	}

	for requestID, count := range perRequest {
		if _, err := tx.Exec(ctx,
			`UPDATE enhancement_requests
			 SET applied_count = applied_count + $1, completeness_after = $2
			 WHERE id = $3`,
			count, completeness, requestID,
		); err != nil {
			return eris.Wrapf(err, "postgres: roll up request %s", requestID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit apply")
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.EnhancementRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Status == "" {
		req.Status = model.RequestStatusPending
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enhancement_requests (`+requestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		req.ID, req.FragranceID, string(req.Type), req.Priority, req.ConfidenceThreshold,
		string(req.Status), req.AdminID, req.ProcessingNotes, req.ErrorMessage,
		req.EstimatedCost, req.ActualCost, req.CompletenessBefore, req.CompletenessAfter,
		req.AppliedCount, req.RetryOf, req.CreatedAt, req.StartedAt, req.CompletedAt,
	)
	return eris.Wrap(err, "postgres: insert request")
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.EnhancementRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM enhancement_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err == errNoRow {
		return nil, &NotFoundError{Entity: "request", ID: id}
	}
	return req, err
}

func (s *PostgresStore) ListRequests(ctx context.Context, f RequestFilter) ([]model.EnhancementRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM enhancement_requests WHERE 1=1`
	var args []any
	n := 0
	next := func() string {
		n++
		return "$" + strconv.Itoa(n)
	}

	if f.Status != "" {
		query += ` AND status = ` + next()
		args = append(args, string(f.Status))
	}
	if f.AdminID != "" {
		query += ` AND admin_id = ` + next()
		args = append(args, f.AdminID)
	}
	if f.FragranceID != "" {
		query += ` AND fragrance_id = ` + next()
		args = append(args, f.FragranceID)
	}
	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + next()
	args = append(args, limit)

	return s.queryRequests(ctx, query, args...)
}

func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]model.EnhancementRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM enhancement_requests
		 WHERE status = $1
		 ORDER BY priority ASC, created_at ASC, id ASC LIMIT $2`,
		string(model.RequestStatusPending), limit)
}

func (s *PostgresStore) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]model.EnhancementRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM enhancement_requests
		 WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2
		 ORDER BY started_at ASC`,
		string(model.RequestStatusProcessing), cutoff.UTC())
}

func (s *PostgresStore) queryRequests(ctx context.Context, query string, args ...any) ([]model.EnhancementRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query requests")
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
	return out, eris.Wrap(rows.Err(), "postgres: query requests iterate")
}

func (s *PostgresStore) TransitionRequest(ctx context.Context, id string, from, to model.RequestStatus, upd RequestUpdate) (bool, error) {
	set := []string{"status = $1"}
	args := []any{string(to)}
	n := 1
	next := func() string {
		n++
		return "$" + strconv.Itoa(n)
	}

	if upd.ErrorMessage != nil {
		set = append(set, "error_message = "+next())
		args = append(args, *upd.ErrorMessage)
	}
	if upd.ProcessingNotes != nil {
		set = append(set, "processing_notes = "+next())
		args = append(args, *upd.ProcessingNotes)
	}
	if upd.ActualCost != nil {
		set = append(set, "actual_cost = "+next())
		args = append(args, *upd.ActualCost)
	}
	if upd.CompletenessBefore != nil {
		set = append(set, "completeness_before = "+next())
		args = append(args, *upd.CompletenessBefore)
	}
	if upd.StartedAt != nil {
		set = append(set, "started_at = "+next())
		args = append(args, upd.StartedAt.UTC())
	}
	if upd.CompletedAt != nil {
		set = append(set, "completed_at = "+next())
		args = append(args, upd.CompletedAt.UTC())
	}

	idPh := next()
	args = append(args, id)
	fromPh := next()
	args = append(args, string(from))

	tag, err := s.pool.Exec(ctx,
		`UPDATE enhancement_requests SET `+strings.Join(set, ", ")+` WHERE id = `+idPh+` AND status = `+fromPh,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition request %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CreateChanges(ctx context.Context, changes []model.EnhancementChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create changes")
	}
	defer tx.Rollback(ctx)

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

		if _, err := tx.Exec(ctx,
			`INSERT INTO enhancement_changes (`+changeColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			ch.ID, ch.RequestID, ch.FragranceID, ch.FieldName, oldJSON, newJSON,
			string(ch.ChangeType), ch.ConfidenceScore, ch.Source, ch.SourceURL, ch.Notes,
			veJSON, string(ch.ApprovalState), ch.ReviewedBy, ch.RejectReason,
			ch.AppliedAt, ch.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert change for field %s", ch.FieldName)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create changes")
}

func (s *PostgresStore) GetChangesForRequest(ctx context.Context, requestID string) ([]model.EnhancementChange, error) {
	return s.queryChanges(ctx,
		`SELECT `+changeColumns+` FROM enhancement_changes WHERE request_id = $1 ORDER BY field_name ASC`,
		requestID)
}

func (s *PostgresStore) GetChangesByIDs(ctx context.Context, ids []string) ([]model.EnhancementChange, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryChanges(ctx,
		`SELECT `+changeColumns+` FROM enhancement_changes WHERE id = ANY($1) ORDER BY fragrance_id ASC, field_name ASC`,
		ids)
}

func (s *PostgresStore) queryChanges(ctx context.Context, query string, args ...any) ([]model.EnhancementChange, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query changes")
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
	return out, eris.Wrap(rows.Err(), "postgres: query changes iterate")
}

func (s *PostgresStore) UpdateChangeStates(ctx context.Context, ids []string, state model.ApprovalState, reviewedBy, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE enhancement_changes
		 SET approval_state = $1, reviewed_by = $2, reject_reason = $3
		 WHERE id = ANY($4) AND approval_state != 'applied'`,
		string(state), reviewedBy, reason, ids,
	)
	return eris.Wrap(err, "postgres: update change states")
}

func (s *PostgresStore) RequestCounts(ctx context.Context) (map[model.RequestStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM enhancement_requests GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: request counts")
	}
	defer rows.Close()

	counts := make(map[model.RequestStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan request count")
		}
		counts[model.RequestStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: request counts iterate")
}

func (s *PostgresStore) PendingApprovalCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM enhancement_changes c
		 JOIN enhancement_requests r ON r.id = c.request_id
		 WHERE c.approval_state IN ('auto_selected', 'manual') AND r.status = 'completed'`,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: pending approval count")
}

func (s *PostgresStore) TotalCostSpent(ctx context.Context) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(actual_cost), 0) FROM enhancement_requests`).Scan(&total)
	return total, eris.Wrap(err, "postgres: total cost spent")
}

func (s *PostgresStore) AvgProcessingMinutes(ctx context.Context) (float64, error) {
	var avg float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at)) / 60), 0)
		 FROM enhancement_requests
		 WHERE status = 'completed' AND completed_at IS NOT NULL`,
	).Scan(&avg)
	return avg, eris.Wrap(err, "postgres: avg processing minutes")
}

func (s *PostgresStore) AvgQualityImprovement(ctx context.Context) (float64, error) {
	var avg float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(AVG(completeness_after - completeness_before), 0)
		 FROM enhancement_requests
		 WHERE applied_count > 0 AND completeness_before IS NOT NULL AND completeness_after IS NOT NULL`,
	).Scan(&avg)
	return avg, eris.Wrap(err, "postgres: avg quality improvement")
}
