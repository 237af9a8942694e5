package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so lexical order in SQLite equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const columns = `id, title, text, reminder_time, is_shown, is_archived, is_viewed,
	is_pinned, pin_order, last_reminded_at, created_at, revision`

// Store provides SQLite-backed storage for reminders.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the SQLite database at dbPath and
// ensures the reminders table exists with every column.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("database path is empty")
	}
	if !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createTable(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureColumns(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: dbPath}, nil
}

func createTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			title            TEXT    NOT NULL,
			text             TEXT    NOT NULL DEFAULT '',
			reminder_time    TEXT,
			is_shown         INTEGER NOT NULL DEFAULT 0,
			is_archived      INTEGER NOT NULL DEFAULT 0,
			is_viewed        INTEGER NOT NULL DEFAULT 0,
			is_pinned        INTEGER NOT NULL DEFAULT 0,
			pin_order        INTEGER NOT NULL DEFAULT 0,
			last_reminded_at TEXT,
			created_at       TEXT    NOT NULL,
			revision         INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// ensureColumns adds columns missing from tables created by older versions.
func ensureColumns(db *sql.DB) error {
	required := []struct{ name, ddl string }{
		{"reminder_time", "ALTER TABLE reminders ADD COLUMN reminder_time TEXT"},
		{"is_shown", "ALTER TABLE reminders ADD COLUMN is_shown INTEGER NOT NULL DEFAULT 0"},
		{"is_archived", "ALTER TABLE reminders ADD COLUMN is_archived INTEGER NOT NULL DEFAULT 0"},
		{"is_viewed", "ALTER TABLE reminders ADD COLUMN is_viewed INTEGER NOT NULL DEFAULT 0"},
		{"is_pinned", "ALTER TABLE reminders ADD COLUMN is_pinned INTEGER NOT NULL DEFAULT 0"},
		{"pin_order", "ALTER TABLE reminders ADD COLUMN pin_order INTEGER NOT NULL DEFAULT 0"},
		{"last_reminded_at", "ALTER TABLE reminders ADD COLUMN last_reminded_at TEXT"},
		{"revision", "ALTER TABLE reminders ADD COLUMN revision INTEGER NOT NULL DEFAULT 0"},
	}

	rows, err := db.Query(`PRAGMA table_info(reminders)`)
	if err != nil {
		return fmt.Errorf("failed to inspect reminders table: %w", err)
	}
	existing := map[string]struct{}{}
	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("failed to inspect reminders table: %w", err)
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, col := range required {
		if _, ok := existing[col.name]; ok {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DataVersion returns SQLite's data_version, which changes only when
// another connection commits.
func (s *Store) DataVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read data version: %w", err)
	}
	return v, nil
}

// Add inserts a new reminder and returns it with the assigned ID.
// The draft is expected to be validated by the caller.
func (s *Store) Add(ctx context.Context, d Draft, now time.Time) (*Reminder, error) {
	d = d.Normalize()
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (title, text, reminder_time, is_shown, is_archived, created_at)
		VALUES (?, ?, ?, 0, 0, ?)
	`, d.Title, d.Text, formatNullTime(d.ReminderTime), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert reminder: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted ID: %w", err)
	}
	return s.FindByID(ctx, id)
}

// Update replaces title, text and time. The reminder must notify again,
// so the shown and viewed flags are reset.
func (s *Store) Update(ctx context.Context, id int64, d Draft) (*Reminder, error) {
	d = d.Normalize()
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET title = ?, text = ?, reminder_time = ?, is_shown = 0, is_viewed = 0,
			revision = revision + 1
		WHERE id = ?
	`, d.Title, d.Text, formatNullTime(d.ReminderTime), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update reminder: %w", err)
	}
	if err := expectRow(result, id); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

// Archive hides a reminder from scheduling and the active list.
func (s *Store) Archive(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET is_archived = 1, revision = revision + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to archive reminder: %w", err)
	}
	return expectRow(result, id)
}

// Restore brings an archived reminder back; it will notify again.
func (s *Store) Restore(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET is_archived = 0, is_shown = 0, is_viewed = 0, revision = revision + 1
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to restore reminder: %w", err)
	}
	return expectRow(result, id)
}

// Delete removes a reminder permanently.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	return expectRow(result, id)
}

// ArchivedIDs returns the IDs of every archived reminder.
func (s *Store) ArchivedIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM reminders WHERE is_archived = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearArchive deletes every archived reminder and returns how many were removed.
func (s *Store) ClearArchive(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE is_archived = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear archive: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared reminders: %w", err)
	}
	return n, nil
}

// TogglePin flips the pinned flag and returns the new value.
// Newly pinned reminders go to the end of the pin order.
func (s *Store) TogglePin(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pinned int
	err = tx.QueryRowContext(ctx, `SELECT is_pinned FROM reminders WHERE id = ?`, id).Scan(&pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read pin state: %w", err)
	}

	if pinned == 1 {
		_, err = tx.ExecContext(ctx, `UPDATE reminders SET is_pinned = 0, pin_order = 0 WHERE id = ?`, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE reminders SET is_pinned = 1,
				pin_order = (SELECT COALESCE(MAX(pin_order), 0) + 1 FROM reminders WHERE is_pinned = 1)
			WHERE id = ?
		`, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to toggle pin: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to toggle pin: %w", err)
	}
	return pinned == 0, nil
}

// MarkViewed acknowledges a shown reminder.
func (s *Store) MarkViewed(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE reminders SET is_viewed = 1 WHERE id = ? AND is_shown = 1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark reminder viewed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		return nil
	}
	// Distinguish a missing row from one that has not fired.
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("reminder %d: %w", id, ErrNotShown)
}

// MarkShown records a delivery of the reminder as it was at revision.
// It returns ErrChanged when the reminder was edited, archived or
// restored since then, and leaves the row untouched.
func (s *Store) MarkShown(ctx context.Context, id, revision int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET is_shown = 1, last_reminded_at = ?
		WHERE id = ? AND revision = ? AND is_archived = 0
	`, formatTime(at), id, revision)
	if err != nil {
		return fmt.Errorf("failed to mark reminder shown: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("reminder %d: %w", id, ErrChanged)
}

// FindNextEligible returns the unshown, unarchived reminder with the earliest
// time, lowest ID first on ties. Reminders listed in exclude are skipped.
// It returns nil when there is none.
func (s *Store) FindNextEligible(ctx context.Context, exclude ...int64) (*Reminder, error) {
	query := `SELECT ` + columns + ` FROM reminders
		WHERE reminder_time IS NOT NULL AND is_shown = 0 AND is_archived = 0`
	args := make([]any, 0, len(exclude))
	if len(exclude) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(", ?", len(exclude)-1) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY reminder_time ASC, id ASC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next reminder: %w", err)
	}
	return r, nil
}

// FindByID returns a single reminder by ID.
func (s *Store) FindByID(ctx context.Context, id int64) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return r, nil
}

// CountUnacknowledged counts shown, unviewed, unarchived reminders.
func (s *Store) CountUnacknowledged(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reminders WHERE is_shown = 1 AND is_viewed = 0 AND is_archived = 0
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unacknowledged reminders: %w", err)
	}
	return n, nil
}

// ListActive returns unarchived reminders: pinned first in pin order, then newest first.
func (s *Store) ListActive(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM reminders WHERE is_archived = 0
		ORDER BY is_pinned DESC, pin_order ASC, created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// ListArchived returns archived reminders, newest first.
func (s *Store) ListArchived(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+columns+` FROM reminders WHERE is_archived = 1
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func expectRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (*Reminder, error) {
	var r Reminder
	var text, reminderTime, lastReminded sql.NullString
	var createdAt string
	var shown, archived, viewed, pinned int

	if err := row.Scan(&r.ID, &r.Title, &text, &reminderTime,
		&shown, &archived, &viewed, &pinned, &r.PinOrder,
		&lastReminded, &createdAt, &r.Revision); err != nil {
		return nil, err
	}

	r.Text = text.String
	r.IsShown = shown == 1
	r.IsArchived = archived == 1
	r.IsViewed = viewed == 1
	r.IsPinned = pinned == 1
	r.ReminderTime = parseNullTime(reminderTime)
	r.LastRemindedAt = parseNullTime(lastReminded)
	if t, ok := parseTime(createdAt); ok {
		r.CreatedAt = t
	}
	return &r, nil
}

// scanReminders reads multiple rows into a slice of Reminder.
func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	var reminders []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// parseTime also accepts RFC3339 values written by older versions.
func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, ok := parseTime(s.String)
	if !ok {
		return nil
	}
	return &t
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
