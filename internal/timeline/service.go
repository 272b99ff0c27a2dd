package timeline

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by single-row lookups with no match.
var ErrNotFound = errors.New("timeline: not found")

type TimelineService struct {
	db *sql.DB
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &TimelineService{db: db}, nil
}

func (s *TimelineService) Close() error {
	return s.db.Close()
}

// LogPolicyEvent appends a policy audit entry.
func (s *TimelineService) LogPolicyEvent(rec *PolicyEventRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`INSERT INTO policy_events (event_id, policy, action, message, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.EventID, rec.Policy, rec.Action, rec.Message, rec.RunID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert policy event: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListPolicyEvents returns all policy events in insertion order.
func (s *TimelineService) ListPolicyEvents() ([]PolicyEventRecord, error) {
	rows, err := s.db.Query(`SELECT id, event_id, policy, action, COALESCE(message,''),
		COALESCE(run_id,''), created_at
		FROM policy_events ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PolicyEventRecord
	for rows.Next() {
		var r PolicyEventRecord
		if err := rows.Scan(&r.ID, &r.EventID, &r.Policy, &r.Action, &r.Message,
			&r.RunID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertToolRunRequest records a minted tool invocation.
func (s *TimelineService) InsertToolRunRequest(rec *ToolRunRequestRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Args == "" {
		rec.Args = "{}"
	}
	res, err := s.db.Exec(`INSERT INTO tool_run_requests (action_id, run_id, tool, args, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.ActionID, rec.RunID, rec.Tool, rec.Args, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tool run request: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// GetToolRunRequest returns the request minted under actionID, or ErrNotFound.
func (s *TimelineService) GetToolRunRequest(actionID string) (*ToolRunRequestRecord, error) {
	var r ToolRunRequestRecord
	err := s.db.QueryRow(`SELECT id, action_id, run_id, tool, args, created_at
		FROM tool_run_requests WHERE action_id = ?`, actionID).
		Scan(&r.ID, &r.ActionID, &r.RunID, &r.Tool, &r.Args, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertToolRunResult stores a result keyed by action id. A repeated report
// for the same action id replaces the previous one but keeps its position.
func (s *TimelineService) UpsertToolRunResult(rec *ToolRunResultRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	if rec.Output == "" {
		rec.Output = "{}"
	}
	if rec.UIStatePatch == "" {
		rec.UIStatePatch = "{}"
	}
	_, err := s.db.Exec(`INSERT INTO tool_run_results (action_id, run_id, status, output, ui_state_patch, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(action_id) DO UPDATE SET
			run_id = excluded.run_id,
			status = excluded.status,
			output = excluded.output,
			ui_state_patch = excluded.ui_state_patch,
			recorded_at = excluded.recorded_at`,
		rec.ActionID, rec.RunID, rec.Status, rec.Output, rec.UIStatePatch, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("upsert tool run result: %w", err)
	}
	return nil
}

// ListToolRunResults returns the results correlated to runID, oldest first.
func (s *TimelineService) ListToolRunResults(runID string) ([]ToolRunResultRecord, error) {
	rows, err := s.db.Query(`SELECT id, action_id, run_id, status, output, ui_state_patch, recorded_at
		FROM tool_run_results WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ToolRunResultRecord
	for rows.Next() {
		var r ToolRunResultRecord
		if err := rows.Scan(&r.ID, &r.ActionID, &r.RunID, &r.Status, &r.Output,
			&r.UIStatePatch, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendUIStateEvent records one applied UI state patch.
func (s *TimelineService) AppendUIStateEvent(rec *UIStateEventRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if rec.Patch == "" {
		rec.Patch = "{}"
	}
	res, err := s.db.Exec(`INSERT INTO ui_state_events (session_id, patch, version, updated_at)
		VALUES (?, ?, ?, ?)`,
		rec.SessionID, rec.Patch, rec.Version, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ui state event: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// ListUIStateEvents returns the patch history of a session, oldest first.
func (s *TimelineService) ListUIStateEvents(sessionID string) ([]UIStateEventRecord, error) {
	rows, err := s.db.Query(`SELECT id, session_id, patch, version, updated_at
		FROM ui_state_events WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UIStateEventRecord
	for rows.Next() {
		var r UIStateEventRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Patch, &r.Version, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
