package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/refill-sh/refill/internal/errors"
	"github.com/refill-sh/refill/internal/session"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.EngineError{
	Code:    errors.ErrUniqueConstraint,
	Status:  409,
	Message: "unique constraint violation",
}

// InsertSession stores a new, empty capture session.
func InsertSession(ctx context.Context, db *sql.DB, s *session.CaptureSession) error {
	query := `
		INSERT INTO sessions (page_key, created_at, updated_at, url, page_title)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		s.PageKey, s.CreatedAt, s.UpdatedAt, s.URL, toNullString(s.Metadata.PageTitle),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite returns "UNIQUE constraint failed: ..." for unique violations
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetSession retrieves a session and its fields in first-seen order.
func GetSession(ctx context.Context, db *sql.DB, pageKey string, sessionID int64) (*session.CaptureSession, error) {
	query := `
		SELECT page_key, created_at, updated_at, url, page_title
		FROM sessions
		WHERE page_key = ? AND created_at = ?
	`

	var (
		s         session.CaptureSession
		pageTitle sql.NullString
	)
	err := db.QueryRowContext(ctx, query, pageKey, sessionID).Scan(
		&s.PageKey, &s.CreatedAt, &s.UpdatedAt, &s.URL, &pageTitle,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NewSessionNotFound(pageKey, sessionID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	s.Metadata.PageTitle = fromNullString(pageTitle)

	fields, err := sessionFields(ctx, db, pageKey, sessionID)
	if err != nil {
		return nil, err
	}
	s.Fields = fields

	return &s, nil
}

// sessionFields loads a session's field records ordered by position.
func sessionFields(ctx context.Context, db *sql.DB, pageKey string, sessionID int64) ([]session.FieldRecord, error) {
	query := `
		SELECT element_id, element_name, selector, value, field_type, label, recorded_at
		FROM fields
		WHERE page_key = ? AND session_created_at = ?
		ORDER BY position ASC
	`

	rows, err := db.QueryContext(ctx, query, pageKey, sessionID)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	fields := []session.FieldRecord{}
	for rows.Next() {
		var (
			f           session.FieldRecord
			elementID   sql.NullString
			elementName sql.NullString
			label       sql.NullString
		)
		if err := rows.Scan(&elementID, &elementName, &f.Identifier.Selector,
			&f.Value, &f.Type, &label, &f.RecordedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		f.Identifier.ID = fromNullString(elementID)
		f.Identifier.Name = fromNullString(elementName)
		f.Label = fromNullString(label)
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return fields, nil
}

// UpsertField merges a field record into a session. An existing record whose
// identifier matches under m is replaced in place, keeping its position;
// otherwise the record is appended. The session's updated_at is refreshed to
// the record's recorded_at. The whole merge runs in one transaction.
func UpsertField(ctx context.Context, db *sql.DB, m session.Matcher, pageKey string, sessionID int64, f session.FieldRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	// Session must exist
	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE page_key = ? AND created_at = ?`,
		pageKey, sessionID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return errors.NewSessionNotFound(pageKey, sessionID)
	}
	if err != nil {
		return errors.NewInternal(err)
	}

	// Scan existing identifiers for a match
	rows, err := tx.QueryContext(ctx, `
		SELECT position, element_id, element_name, selector
		FROM fields
		WHERE page_key = ? AND session_created_at = ?
		ORDER BY position ASC
	`, pageKey, sessionID)
	if err != nil {
		return errors.NewInternal(err)
	}

	matchedPos := int64(-1)
	maxPos := int64(-1)
	for rows.Next() {
		var (
			pos         int64
			elementID   sql.NullString
			elementName sql.NullString
			selector    string
		)
		if err := rows.Scan(&pos, &elementID, &elementName, &selector); err != nil {
			rows.Close()
			return errors.NewInternal(err)
		}
		if pos > maxPos {
			maxPos = pos
		}
		existing := session.FieldIdentifier{
			ID:       fromNullString(elementID),
			Name:     fromNullString(elementName),
			Selector: selector,
		}
		if matchedPos < 0 && m.Matches(existing, f.Identifier) {
			matchedPos = pos
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.NewInternal(err)
	}

	if matchedPos >= 0 {
		// Last write wins; position (first-seen order) is preserved and the
		// stored identifier stays as first recorded.
		_, err = tx.ExecContext(ctx, `
			UPDATE fields
			SET value = ?, field_type = ?, label = ?, recorded_at = ?
			WHERE page_key = ? AND session_created_at = ? AND position = ?
		`, f.Value, f.Type, toNullString(f.Label), f.RecordedAt,
			pageKey, sessionID, matchedPos)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fields (page_key, session_created_at, position,
				element_id, element_name, selector, value, field_type, label, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, pageKey, sessionID, maxPos+1,
			toNullString(f.Identifier.ID), toNullString(f.Identifier.Name),
			f.Identifier.Selector, f.Value, f.Type, toNullString(f.Label), f.RecordedAt)
	}
	if err != nil {
		return errors.NewInternal(err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE page_key = ? AND created_at = ?`,
		f.RecordedAt, pageKey, sessionID,
	); err != nil {
		return errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// summaryColumns is the select list shared by the summary queries.
const summaryColumns = `
	s.page_key, s.created_at, s.updated_at, s.url, s.page_title,
	(SELECT COUNT(*) FROM fields f
	 WHERE f.page_key = s.page_key AND f.session_created_at = s.created_at)
`

// ListSessionsForPage returns summaries for one page key, newest first.
func ListSessionsForPage(ctx context.Context, db *sql.DB, pageKey string) ([]session.Summary, error) {
	query := `
		SELECT ` + summaryColumns + `
		FROM sessions s
		WHERE s.page_key = ?
		ORDER BY s.created_at DESC
	`
	rows, err := db.QueryContext(ctx, query, pageKey)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// ListSessions returns summaries across all pages (or one page if pageKey is
// non-empty), newest first, with limit/offset paging, plus the total count of
// matching sessions.
func ListSessions(ctx context.Context, db *sql.DB, pageKey string, limit, offset int) ([]session.Summary, int, error) {
	where := ""
	args := []any{}
	if pageKey != "" {
		where = "WHERE s.page_key = ?"
		args = append(args, pageKey)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM sessions s " + where
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `
		SELECT ` + summaryColumns + `
		FROM sessions s ` + where + `
		ORDER BY s.created_at DESC
		LIMIT ? OFFSET ?
	`
	args = append(args, limit, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

// scanSummaries scans summary rows produced with summaryColumns.
func scanSummaries(rows *sql.Rows) ([]session.Summary, error) {
	summaries := []session.Summary{}
	for rows.Next() {
		var (
			s         session.Summary
			pageTitle sql.NullString
		)
		if err := rows.Scan(&s.PageKey, &s.CreatedAt, &s.UpdatedAt, &s.URL,
			&pageTitle, &s.FieldsCount); err != nil {
			return nil, errors.NewInternal(err)
		}
		s.PageTitle = fromNullString(pageTitle)
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return summaries, nil
}

// DeleteSession removes one session (fields cascade). Returns true if a row
// was deleted.
func DeleteSession(ctx context.Context, db *sql.DB, pageKey string, sessionID int64) (bool, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM sessions WHERE page_key = ? AND created_at = ?`,
		pageKey, sessionID,
	)
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

// DeletePage removes every session for a page key and returns the count.
func DeletePage(ctx context.Context, db *sql.DB, pageKey string) (int, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM sessions WHERE page_key = ?`, pageKey,
	)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// SessionIDsOldestFirst returns a page's session ids ascending by created_at.
func SessionIDsOldestFirst(ctx context.Context, db *sql.DB, pageKey string) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT created_at FROM sessions WHERE page_key = ? ORDER BY created_at ASC`,
		pageKey,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.NewInternal(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return ids, nil
}

// PageKeys returns every page key with at least one session.
func PageKeys(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT page_key FROM sessions`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.NewInternal(err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return keys, nil
}

// toNullString converts an empty string to NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// fromNullString converts a NULL to the empty string.
func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
