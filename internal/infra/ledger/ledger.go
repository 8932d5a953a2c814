package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gopkg.in/yaml.v3"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

// ProgressRecord is the durable per-item row. The status field only ever
// holds one of the seven fixed values; raw diagnostics live alongside for
// operator inspection but never replace the classified status.
type ProgressRecord struct {
	ItemID       string
	PayloadRef   string
	Status       workitem.Status
	CurrentStage workitem.Stage
	Attempt      int
	IsRetry      bool
	Feedback     *workitem.RetryFeedback
	Diagnostics  string
	Stale        bool
	StaleAt      time.Time
	ArtifactPath string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Stage history dispositions
const (
	DispositionCompleted  = "completed"
	DispositionCached     = "cached"
	DispositionGateFailed = "gate_failed"
	DispositionExecFailed = "exec_failed"
	DispositionFatal      = "fatal"
)

// HistoryEntry is one stage completion or failure appended to the ledger
type HistoryEntry struct {
	RunID       string
	ItemID      string
	Stage       workitem.Stage
	Attempt     int
	Disposition string
	DurationMs  int64
	Detail      string
	CreatedAt   time.Time
}

// Ledger is the SQLite-backed progress ledger
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path and applies
// migrations
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if err := NewMigrator(db).Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger database: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Save upserts the progress record for a work item
func (l *Ledger) Save(ctx context.Context, rec *ProgressRecord) error {
	feedback := ""
	if rec.Feedback != nil {
		data, err := yaml.Marshal(rec.Feedback)
		if err != nil {
			return fmt.Errorf("marshal feedback: %w", err)
		}
		feedback = string(data)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	staleAt := ""
	if !rec.StaleAt.IsZero() {
		staleAt = rec.StaleAt.UTC().Format(time.RFC3339Nano)
	}

	query := `
		INSERT INTO work_items (
			item_id, payload_ref, status, current_stage, attempt, is_retry,
			feedback, diagnostics, stale, stale_at, artifact_path, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			payload_ref = excluded.payload_ref,
			status = excluded.status,
			current_stage = excluded.current_stage,
			attempt = excluded.attempt,
			is_retry = excluded.is_retry,
			feedback = excluded.feedback,
			diagnostics = excluded.diagnostics,
			stale = excluded.stale,
			stale_at = excluded.stale_at,
			artifact_path = excluded.artifact_path,
			updated_at = excluded.updated_at
	`

	_, err := l.db.ExecContext(ctx, query,
		rec.ItemID,
		rec.PayloadRef,
		rec.Status.String(),
		rec.CurrentStage.String(),
		rec.Attempt,
		boolToInt(rec.IsRetry),
		feedback,
		rec.Diagnostics,
		boolToInt(rec.Stale),
		staleAt,
		rec.ArtifactPath,
		rec.CreatedAt.Format(time.RFC3339Nano),
		rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save progress record: %w", err)
	}
	return nil
}

// Find retrieves the progress record for a work item, or nil when absent
func (l *Ledger) Find(ctx context.Context, itemID string) (*ProgressRecord, error) {
	query := `
		SELECT item_id, payload_ref, status, current_stage, attempt, is_retry,
		       feedback, diagnostics, stale, stale_at, artifact_path, created_at, updated_at
		FROM work_items
		WHERE item_id = ?
	`
	rec, err := scanRecord(l.db.QueryRowContext(ctx, query, itemID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query progress record: %w", err)
	}
	return rec, nil
}

// List returns all progress records ordered by last update, newest first
func (l *Ledger) List(ctx context.Context) ([]*ProgressRecord, error) {
	query := `
		SELECT item_id, payload_ref, status, current_stage, attempt, is_retry,
		       feedback, diagnostics, stale, stale_at, artifact_path, created_at, updated_at
		FROM work_items
		ORDER BY updated_at DESC
	`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress records: %w", err)
	}
	defer rows.Close()

	var records []*ProgressRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// StatusCounts returns the per-status totals. Every one of the seven
// statuses is always present in the result, even at zero.
func (l *Ledger) StatusCounts(ctx context.Context) (map[workitem.Status]int, error) {
	counts := make(map[workitem.Status]int, 7)
	for _, s := range workitem.AllStatuses() {
		counts[s] = 0
	}

	rows, err := l.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM work_items GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		if s, ok := workitem.ParseStatus(status); ok {
			counts[s] = count
		}
	}
	return counts, rows.Err()
}

// AppendHistory records one stage disposition
func (l *Ledger) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	query := `
		INSERT INTO stage_history (run_id, item_id, stage, attempt, disposition, duration_ms, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		entry.RunID,
		entry.ItemID,
		entry.Stage.String(),
		entry.Attempt,
		entry.Disposition,
		entry.DurationMs,
		entry.Detail,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append stage history: %w", err)
	}
	return nil
}

// History retrieves all stage history for an item in insertion order
func (l *Ledger) History(ctx context.Context, itemID string) ([]*HistoryEntry, error) {
	query := `
		SELECT run_id, item_id, stage, attempt, disposition, duration_ms, detail, created_at
		FROM stage_history
		WHERE item_id = ?
		ORDER BY id ASC
	`
	rows, err := l.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stage history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var stage, createdAt string
		if err := rows.Scan(&e.RunID, &e.ItemID, &stage, &e.Attempt, &e.Disposition, &e.DurationMs, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.Stage = workitem.Stage(stage)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// MarkStale flags an in-flight item as stale with a timestamp instead of
// leaving it indefinitely IN_PROGRESS. Called from the shutdown path.
func (l *Ledger) MarkStale(ctx context.Context, itemID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := l.db.ExecContext(ctx,
		`UPDATE work_items SET stale = 1, stale_at = ?, updated_at = ? WHERE item_id = ?`,
		now, now, itemID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark item stale: %w", err)
	}
	return nil
}

// CleanStale resets IN_PROGRESS entries that are flagged stale or older than
// ttl back to PENDING so they can be resubmitted. Returns the item IDs reset.
func (l *Ledger) CleanStale(ctx context.Context, ttl time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-ttl).Format(time.RFC3339Nano)

	rows, err := l.db.QueryContext(ctx,
		`SELECT item_id FROM work_items
		 WHERE status = ? AND (stale = 1 OR updated_at < ?)`,
		workitem.StatusInProgress.String(), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, id := range ids {
		if _, err := l.db.ExecContext(ctx,
			`UPDATE work_items SET status = ?, stale = 0, stale_at = '', updated_at = ? WHERE item_id = ?`,
			workitem.StatusPending.String(), now, id,
		); err != nil {
			return nil, fmt.Errorf("failed to reset stale entry %s: %w", id, err)
		}
	}
	return ids, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*ProgressRecord, error) {
	var rec ProgressRecord
	var status, stage, feedback, staleAt, createdAt, updatedAt string
	var isRetry, stale int

	err := row.Scan(
		&rec.ItemID, &rec.PayloadRef, &status, &stage, &rec.Attempt, &isRetry,
		&feedback, &rec.Diagnostics, &stale, &staleAt, &rec.ArtifactPath,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = workitem.Status(status)
	rec.CurrentStage = workitem.Stage(stage)
	rec.IsRetry = isRetry != 0
	rec.Stale = stale != 0
	if staleAt != "" {
		rec.StaleAt, _ = time.Parse(time.RFC3339Nano, staleAt)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if feedback != "" {
		var fb workitem.RetryFeedback
		if err := yaml.Unmarshal([]byte(feedback), &fb); err == nil {
			rec.Feedback = &fb
		}
	}

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
