package timeline

import (
	"time"
)

// PolicyEventRecord is a persisted policy audit entry.
type PolicyEventRecord struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	Policy    string    `json:"policy"` // input, output
	Action    string    `json:"action"` // block, redact, allow
	Message   string    `json:"message"`
	RunID     string    `json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolRunRequestRecord is a tool invocation handed to the external executor.
type ToolRunRequestRecord struct {
	ID        int64     `json:"id"`
	ActionID  string    `json:"action_id"`
	RunID     string    `json:"run_id"`
	Tool      string    `json:"tool"`
	Args      string    `json:"args"` // JSON object
	CreatedAt time.Time `json:"created_at"`
}

// ToolRunResultRecord is a result reported back by the external executor.
type ToolRunResultRecord struct {
	ID           int64     `json:"id"`
	ActionID     string    `json:"action_id"`
	RunID        string    `json:"run_id"`
	Status       string    `json:"status"`
	Output       string    `json:"output"`         // JSON object
	UIStatePatch string    `json:"ui_state_patch"` // JSON object
	RecordedAt   time.Time `json:"recorded_at"`
}

// UIStateEventRecord is one applied UI state patch for a session.
type UIStateEventRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Patch     string    `json:"patch"` // JSON object
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS policy_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT UNIQUE NOT NULL,
	policy TEXT NOT NULL,
	action TEXT NOT NULL,
	message TEXT,
	run_id TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_policy_events_action ON policy_events(action);
CREATE INDEX IF NOT EXISTS idx_policy_events_run ON policy_events(run_id);

CREATE TABLE IF NOT EXISTS tool_run_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id TEXT UNIQUE NOT NULL,
	run_id TEXT NOT NULL,
	tool TEXT NOT NULL,
	args TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_run_requests_run ON tool_run_requests(run_id);

CREATE TABLE IF NOT EXISTS tool_run_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action_id TEXT UNIQUE NOT NULL,
	run_id TEXT NOT NULL,
	status TEXT NOT NULL,
	output TEXT NOT NULL DEFAULT '{}',
	ui_state_patch TEXT NOT NULL DEFAULT '{}',
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_run_results_run ON tool_run_results(run_id);

CREATE TABLE IF NOT EXISTS ui_state_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	patch TEXT NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ui_state_events_session ON ui_state_events(session_id);
`
