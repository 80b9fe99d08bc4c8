// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides activity/response persistence with transactional lease and purge helpers

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS activities (
			id           TEXT PRIMARY KEY,
			url          TEXT NOT NULL,
			method       TEXT NOT NULL,
			reply_url    TEXT NOT NULL,
			reply_method TEXT NOT NULL,
			state        TEXT NOT NULL,
			node_id      TEXT NOT NULL,
			leased_at    INTEGER,
			created_at   INTEGER NOT NULL,
			headers      BLOB,
			payload      BLOB,
			content_type TEXT,

			CHECK (state IN ('CREATED', 'SCHEDULED', 'SENT', 'SENT_FAILED', 'REPLY_FAILED', 'COMPLETED'))
		);

		CREATE INDEX IF NOT EXISTS idx_activities_state_created
			ON activities(state, created_at);

		CREATE INDEX IF NOT EXISTS idx_activities_created ON activities(created_at);

		CREATE TABLE IF NOT EXISTS responses (
			id           TEXT PRIMARY KEY,
			response_id  TEXT NOT NULL,
			status_code  INTEGER NOT NULL,
			headers      BLOB,
			payload      BLOB,
			content_type TEXT,

			FOREIGN KEY (response_id) REFERENCES activities(id)
		);

		CREATE INDEX IF NOT EXISTS idx_responses_activity ON responses(response_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// InsertActivity inserts a new activity row.
// Returns ErrDuplicateActivity if the id already exists.
func (s *SQLiteStore) InsertActivity(ctx context.Context, a *Activity) error {
	query := `
		INSERT INTO activities (id, url, method, reply_url, reply_method, state, node_id, leased_at, created_at, headers, payload, content_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID,
		a.URL,
		a.Method,
		a.ReplyURL,
		a.ReplyMethod,
		a.State,
		a.NodeID,
		leaseEpoch(a.LeasedAt),
		a.CreatedAt.Unix(),
		a.Headers,
		a.Payload,
		a.ContentType,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateActivity
		}
		return fmt.Errorf("inserting activity: %w", err)
	}

	s.logger.Debug("inserted activity", "id", a.ID, "state", a.State)
	return nil
}

// leaseEpoch converts an optional lease time into a nullable epoch value.
func leaseEpoch(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

const activityColumns = `id, url, method, reply_url, reply_method, state, node_id, leased_at, created_at, headers, payload, content_type`

// scanActivity scans one activity row from a row scanner.
func scanActivity(scan func(dest ...any) error) (*Activity, error) {
	var a Activity
	var leasedAt sql.NullInt64
	var createdAt int64

	err := scan(
		&a.ID,
		&a.URL,
		&a.Method,
		&a.ReplyURL,
		&a.ReplyMethod,
		&a.State,
		&a.NodeID,
		&leasedAt,
		&createdAt,
		&a.Headers,
		&a.Payload,
		&a.ContentType,
	)
	if err != nil {
		return nil, err
	}

	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	if leasedAt.Valid {
		t := time.Unix(leasedAt.Int64, 0).UTC()
		a.LeasedAt = &t
	}
	return &a, nil
}

// GetActivity retrieves an activity by id.
// Returns ErrNotFound if the activity doesn't exist.
func (s *SQLiteStore) GetActivity(ctx context.Context, id string) (*Activity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)

	a, err := scanActivity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	return a, nil
}

// GetActivityStatus retrieves the id/state projection for an activity.
// Returns ErrNotFound if the activity doesn't exist.
func (s *SQLiteStore) GetActivityStatus(ctx context.Context, id string) (*ActivityStatus, error) {
	var st ActivityStatus
	err := s.db.QueryRowContext(ctx, `SELECT id, state FROM activities WHERE id = ?`, id).
		Scan(&st.ID, &st.State)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying activity status: %w", err)
	}
	return &st, nil
}

// UpdateActivityState writes the state (and, when nodeID is non-empty,
// the node id) of an activity. The write is idempotent and guarded by
// the transition table: the UPDATE only matches rows whose current
// state may legally move to the new one.
// Returns ErrNotFound if the activity doesn't exist and
// ErrInvalidTransition if the write would move the state backward.
func (s *SQLiteStore) UpdateActivityState(ctx context.Context, id, state, nodeID string) error {
	if !ValidState(state) {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, state)
	}

	sources := TransitionSources(state)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sources)), ", ")

	set := `state = ?`
	args := []any{state}
	if nodeID != "" {
		set = `state = ?, node_id = ?`
		args = append(args, nodeID)
	}
	args = append(args, id)
	for _, src := range sources {
		args = append(args, src)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE activities SET `+set+` WHERE id = ? AND state IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("updating activity state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT state FROM activities WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking activity state: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, state)
	}

	s.logger.Debug("updated activity state", "id", id, "state", state)
	return nil
}

// LeaseNextActivity claims the earliest lease-eligible activity in one
// transaction: select the candidate, then conditionally move it to
// SCHEDULED with this node's id and a fresh lease timestamp. Only the
// winning update is a lease; a lost race returns nil without error.
// Eligibility is state CREATED or SCHEDULED with no lease or a lease
// older than leaseTTL. node_id is advisory and never gates eligibility.
func (s *SQLiteStore) LeaseNextActivity(ctx context.Context, nodeID string, leaseTTL time.Duration) (*Activity, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-leaseTTL).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning lease transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM activities
		WHERE state IN (?, ?) AND (leased_at IS NULL OR leased_at < ?)
		ORDER BY created_at ASC
		LIMIT 1
	`, StateCreated, StateScheduled, cutoff).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting lease candidate: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE activities SET state = ?, node_id = ?, leased_at = ?
		WHERE id = ? AND state IN (?, ?) AND (leased_at IS NULL OR leased_at < ?)
	`, StateScheduled, nodeID, now.Unix(), id, StateCreated, StateScheduled, cutoff)
	if err != nil {
		return nil, fmt.Errorf("acquiring lease: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		// Another node won the row between select and update.
		return nil, nil
	}

	row := tx.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("reading leased activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing lease: %w", err)
	}

	s.logger.Debug("leased activity", "id", a.ID, "node_id", nodeID)
	return a, nil
}

// InsertResponse inserts a response row.
func (s *SQLiteStore) InsertResponse(ctx context.Context, r *Response) error {
	query := `
		INSERT INTO responses (id, response_id, status_code, headers, payload, content_type)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.ActivityID, r.StatusCode, r.Headers, r.Payload, r.ContentType)
	if err != nil {
		return fmt.Errorf("inserting response: %w", err)
	}

	s.logger.Debug("inserted response", "id", r.ID, "activity_id", r.ActivityID)
	return nil
}

// InsertResponseMarkSent persists the response and moves its activity to
// SENT in a single transaction, so a crash can never leave a SENT
// activity without its response or a response beside an untouched row.
func (s *SQLiteStore) InsertResponseMarkSent(ctx context.Context, r *Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO responses (id, response_id, status_code, headers, payload, content_type)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.ActivityID, r.StatusCode, r.Headers, r.Payload, r.ContentType)
	if err != nil {
		return fmt.Errorf("inserting response: %w", err)
	}

	// Same transition guard as UpdateActivityState: only a SCHEDULED
	// (or already SENT) activity may be marked SENT.
	sources := TransitionSources(StateSent)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sources)), ", ")
	args := []any{StateSent, r.ActivityID}
	for _, src := range sources {
		args = append(args, src)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE activities SET state = ? WHERE id = ? AND state IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("marking activity sent: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT state FROM activities WHERE id = ?`, r.ActivityID).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking activity state: %w", err)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, StateSent)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing response: %w", err)
	}

	s.logger.Debug("persisted response and marked sent", "activity_id", r.ActivityID, "status_code", r.StatusCode)
	return nil
}

// ListResponsesFor returns the responses for an activity.
func (s *SQLiteStore) ListResponsesFor(ctx context.Context, activityID string) ([]*Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, response_id, status_code, headers, payload, content_type
		FROM responses
		WHERE response_id = ?
	`, activityID)
	if err != nil {
		return nil, fmt.Errorf("querying responses: %w", err)
	}
	defer rows.Close()

	var responses []*Response
	for rows.Next() {
		var r Response
		if err := rows.Scan(&r.ID, &r.ActivityID, &r.StatusCode, &r.Headers, &r.Payload, &r.ContentType); err != nil {
			return nil, fmt.Errorf("scanning response row: %w", err)
		}
		responses = append(responses, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating response rows: %w", err)
	}
	return responses, nil
}

// DeleteResponse removes a response row by id.
func (s *SQLiteStore) DeleteResponse(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting response: %w", err)
	}
	return nil
}

// DeleteActivity removes an activity row by id.
func (s *SQLiteStore) DeleteActivity(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting activity: %w", err)
	}
	return nil
}

// SelectEarliestByStates returns activities in any of the given states,
// ordered by ascending created_at.
func (s *SQLiteStore) SelectEarliestByStates(ctx context.Context, states []string, limit int) ([]*Activity, error) {
	if len(states) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	args := make([]any, 0, len(states)+1)
	for _, st := range states {
		args = append(args, st)
	}
	args = append(args, limit)

	query := `SELECT ` + activityColumns + ` FROM activities WHERE state IN (` + placeholders + `) ORDER BY created_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activities by state: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

// SelectStaleSent returns SENT activities whose lease expired more than
// leaseTTL ago, earliest first. These are rows whose send worker crashed
// after persisting the response but before reply delivery resolved.
func (s *SQLiteStore) SelectStaleSent(ctx context.Context, leaseTTL time.Duration, limit int) ([]*Activity, error) {
	if limit <= 0 {
		limit = 1
	}
	cutoff := time.Now().UTC().Add(-leaseTTL).Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE state = ? AND (leased_at IS NULL OR leased_at < ?)
		ORDER BY created_at ASC
		LIMIT ?
	`, StateSent, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("querying stale sent activities: %w", err)
	}
	defer rows.Close()

	return collectActivities(rows)
}

// collectActivities scans all rows of an activity query.
func collectActivities(rows *sql.Rows) ([]*Activity, error) {
	var activities []*Activity
	for rows.Next() {
		a, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning activity row: %w", err)
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating activity rows: %w", err)
	}
	return activities, nil
}

// SelectCompletedExpired returns completed activities older than the
// retention window, joined with their responses. The join is LEFT so a
// row orphaned by a crash mid-purge is still returned and removed.
func (s *SQLiteStore) SelectCompletedExpired(ctx context.Context, now time.Time, retention time.Duration) ([]*Expired, error) {
	cutoff := now.Add(-retention).Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.url, a.method, a.reply_url, a.reply_method, a.state, a.node_id, a.leased_at, a.created_at, a.headers, a.payload, a.content_type,
		       r.id, r.status_code, r.headers, r.payload, r.content_type
		FROM activities a
		LEFT JOIN responses r ON r.response_id = a.id
		WHERE a.state = ? AND a.created_at < ?
		ORDER BY a.created_at ASC
	`, StateCompleted, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying expired activities: %w", err)
	}
	defer rows.Close()

	var expired []*Expired
	for rows.Next() {
		var a Activity
		var leasedAt sql.NullInt64
		var createdAt int64
		var respID sql.NullString
		var respStatus sql.NullInt64
		var respHeaders, respPayload []byte
		var respContentType sql.NullString

		err := rows.Scan(
			&a.ID, &a.URL, &a.Method, &a.ReplyURL, &a.ReplyMethod, &a.State, &a.NodeID,
			&leasedAt, &createdAt, &a.Headers, &a.Payload, &a.ContentType,
			&respID, &respStatus, &respHeaders, &respPayload, &respContentType,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning expired row: %w", err)
		}

		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		if leasedAt.Valid {
			t := time.Unix(leasedAt.Int64, 0).UTC()
			a.LeasedAt = &t
		}

		e := &Expired{Activity: &a}
		if respID.Valid {
			e.Response = &Response{
				ID:          respID.String,
				ActivityID:  a.ID,
				StatusCode:  int(respStatus.Int64),
				Headers:     respHeaders,
				Payload:     respPayload,
				ContentType: respContentType.String,
			}
		}
		expired = append(expired, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating expired rows: %w", err)
	}
	return expired, nil
}

// RequeueFailed moves every SENT_FAILED activity back to SCHEDULED and
// clears the lease so the send worker picks it up again. Applying it
// twice yields the same set of SCHEDULED rows.
func (s *SQLiteStore) RequeueFailed(ctx context.Context, nodeID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE activities SET state = ?, node_id = ?, leased_at = NULL
		WHERE state = ?
	`, StateScheduled, nodeID, StateSentFailed)
	if err != nil {
		return 0, fmt.Errorf("requeueing failed activities: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows > 0 {
		s.logger.Debug("requeued failed activities", "count", rows)
	}
	return rows, nil
}

// PurgeActivity deletes an activity's responses and then the activity
// itself in one transaction. The activity delete is guarded on
// COMPLETED: in-flight work is never garbage-collected.
func (s *SQLiteStore) PurgeActivity(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning purge transaction: %w", err)
	}
	defer tx.Rollback()

	// Responses first, to respect the foreign key. Guarded on the
	// activity state so an in-flight response is never removed.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM responses
		WHERE response_id = ?
		  AND EXISTS (SELECT 1 FROM activities WHERE id = ? AND state = ?)
	`, id, id, StateCompleted)
	if err != nil {
		return fmt.Errorf("deleting responses: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = ? AND state = ?`, id, StateCompleted); err != nil {
		return fmt.Errorf("deleting activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing purge: %w", err)
	}

	s.logger.Debug("purged activity", "id", id)
	return nil
}

// CountByState returns the number of activities per state.
func (s *SQLiteStore) CountByState(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM activities GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counting activities: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating count rows: %w", err)
	}
	return counts, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
