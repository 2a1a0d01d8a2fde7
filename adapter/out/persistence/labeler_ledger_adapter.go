package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"labeler_server/core/domain"
	"labeler_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// findChunkSize caps the number of IDs bound into one IN clause.
const findChunkSize = 500

const postgresLedgerSchema = `
CREATE TABLE IF NOT EXISTS labeling_ledger (
	user_id    TEXT        NOT NULL,
	message_id TEXT        NOT NULL,
	labels     TEXT[]      NOT NULL DEFAULT '{}',
	labeled_at TIMESTAMPTZ NOT NULL,
	confidence TEXT,
	reasoning  TEXT,
	PRIMARY KEY (user_id, message_id)
)`

const sqliteLedgerSchema = `
CREATE TABLE IF NOT EXISTS labeling_ledger (
	user_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	labels     TEXT NOT NULL DEFAULT '[]',
	labeled_at TEXT NOT NULL,
	confidence TEXT,
	reasoning  TEXT,
	PRIMARY KEY (user_id, message_id)
)`

// LedgerAdapter implements out.LedgerStore on PostgreSQL or SQLite.
type LedgerAdapter struct {
	db      *sqlx.DB
	dialect Dialect
}

var _ out.LedgerStore = (*LedgerAdapter)(nil)

// NewLedgerAdapter creates a new LedgerAdapter.
func NewLedgerAdapter(db *sqlx.DB) *LedgerAdapter {
	return &LedgerAdapter{db: db, dialect: DialectOf(db.DriverName())}
}

// EnsureSchema creates the ledger table if it does not exist.
func (a *LedgerAdapter) EnsureSchema(ctx context.Context) error {
	schema := postgresLedgerSchema
	if a.dialect == DialectSQLite {
		schema = sqliteLedgerSchema
	}
	if _, err := a.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create labeling_ledger: %w", err)
	}
	return nil
}

// ledgerRow represents the database row for ledger entries.
type ledgerRow struct {
	UserID     string         `db:"user_id"`
	MessageID  string         `db:"message_id"`
	Labels     labelList      `db:"labels"`
	LabeledAt  dbTime         `db:"labeled_at"`
	Confidence sql.NullString `db:"confidence"`
	Reasoning  sql.NullString `db:"reasoning"`
}

func (r *ledgerRow) toEntity() *domain.LedgerEntry {
	entry := &domain.LedgerEntry{
		UserID:    r.UserID,
		MessageID: r.MessageID,
		Labels:    []string(r.Labels),
		LabeledAt: r.LabeledAt.Time,
	}
	if entry.Labels == nil {
		entry.Labels = []string{}
	}
	if r.Confidence.Valid {
		c := r.Confidence.String
		entry.Confidence = &c
	}
	if r.Reasoning.Valid {
		reasoning := r.Reasoning.String
		entry.Reasoning = &reasoning
	}
	return entry
}

// FindByMessageIDs returns the stored entries among ids.
func (a *LedgerAdapter) FindByMessageIDs(ctx context.Context, userID string, ids []string) (map[string]*domain.LedgerEntry, error) {
	result := make(map[string]*domain.LedgerEntry, len(ids))

	for start := 0; start < len(ids); start += findChunkSize {
		end := min(start+findChunkSize, len(ids))

		query, args, err := sqlx.In(`
			SELECT user_id, message_id, labels, labeled_at, confidence, reasoning
			FROM labeling_ledger
			WHERE user_id = ? AND message_id IN (?)`, userID, ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to build ledger query: %w", err)
		}

		var rows []ledgerRow
		if err := a.db.SelectContext(ctx, &rows, a.db.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to find ledger entries: %w", err)
		}
		for i := range rows {
			result[rows[i].MessageID] = rows[i].toEntity()
		}
	}

	return result, nil
}

// Upsert inserts or overwrites the entry for (UserID, MessageID).
func (a *LedgerAdapter) Upsert(ctx context.Context, entry *domain.LedgerEntry) (domain.LedgerAction, error) {
	if entry == nil || entry.UserID == "" || entry.MessageID == "" {
		return "", errors.New("ledger entry requires user_id and message_id")
	}

	labels, err := a.labelsArg(entry.Labels)
	if err != nil {
		return "", err
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin ledger upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists bool
	err = tx.GetContext(ctx, &exists, tx.Rebind(`
		SELECT EXISTS (SELECT 1 FROM labeling_ledger WHERE user_id = ? AND message_id = ?)`),
		entry.UserID, entry.MessageID)
	if err != nil {
		return "", fmt.Errorf("failed to check ledger entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO labeling_ledger (user_id, message_id, labels, labeled_at, confidence, reasoning)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, message_id) DO UPDATE SET
			labels = excluded.labels,
			labeled_at = excluded.labeled_at,
			confidence = excluded.confidence,
			reasoning = excluded.reasoning`),
		entry.UserID,
		entry.MessageID,
		labels,
		a.timeArg(entry.LabeledAt),
		nullString(entry.Confidence),
		nullString(entry.Reasoning),
	)
	if err != nil {
		return "", fmt.Errorf("failed to upsert ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit ledger upsert: %w", err)
	}

	if exists {
		return domain.LedgerUpdated, nil
	}
	return domain.LedgerCreated, nil
}

// Delete removes one entry.
func (a *LedgerAdapter) Delete(ctx context.Context, userID, messageID string) error {
	result, err := a.db.ExecContext(ctx, a.db.Rebind(`
		DELETE FROM labeling_ledger WHERE user_id = ? AND message_id = ?`), userID, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrLedgerEntryNotFound
	}
	return nil
}

func (a *LedgerAdapter) labelsArg(labels []string) (any, error) {
	if labels == nil {
		labels = []string{}
	}
	if a.dialect == DialectPostgres {
		return pq.Array(labels), nil
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("failed to encode labels: %w", err)
	}
	return string(data), nil
}

func (a *LedgerAdapter) timeArg(t time.Time) any {
	if t.IsZero() {
		t = time.Now()
	}
	if a.dialect == DialectSQLite {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// labelList scans either a Postgres text array or a JSON array.
type labelList []string

func (l *labelList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("unsupported labels column type %T", src)
	}

	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return fmt.Errorf("failed to decode labels: %w", err)
		}
		*l = out
		return nil
	}

	var arr pq.StringArray
	if err := arr.Scan(raw); err != nil {
		return err
	}
	*l = labelList(arr)
	return nil
}

// dbTime scans timestamps stored natively or as text.
type dbTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case nil:
		t.Time = time.Time{}
		return nil
	case []byte:
		raw = string(v)
	case string:
		raw = v
	default:
		return fmt.Errorf("unsupported time column type %T", src)
	}

	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", raw)
}
