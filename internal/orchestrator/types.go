// Package orchestrator runs one chat turn through a fixed pipeline of
// decision stages and assembles the turn response.
package orchestrator

import (
	"github.com/KafClaw/fabrix/internal/retrieval"
	"github.com/KafClaw/fabrix/internal/tools"
)

// Intent is the classified purpose of a message.
type Intent string

const (
	IntentNone Intent = ""
	IntentTool Intent = "tool"
	IntentRAG  Intent = "rag"
	IntentChat Intent = "chat"
)

// Signals carries values between stages. Only the Engine writes it.
type Signals struct {
	Intent             Intent
	RetrievedAnswer    string
	RetrievedCitations []retrieval.Citation
	FinalAnswer        string
	CitationCount      int
}

// RunContext is the state of one turn. It is owned by a single Engine.Run
// call and must not be shared between turns.
type RunContext struct {
	SessionID      string
	ConversationID string
	AgentID        string
	UserID         string
	TenantID       string
	Message        string
	UIState        map[string]any // read-only snapshot
	Roles          []string       // caller's resolved permissions
	KBID           string
	RunID          string // assigned once per turn, then immutable

	Signals Signals
}

// Outcome tells the Engine whether to run the next stage. The zero value
// continues.
type Outcome struct {
	halt   bool
	reason string
}

// Continue lets the pipeline proceed.
func Continue() Outcome { return Outcome{} }

// Halt stops the pipeline after the current stage.
func Halt(reason string) Outcome { return Outcome{halt: true, reason: reason} }

func (o Outcome) Halted() bool  { return o.halt }
func (o Outcome) Reason() string { return o.reason }

// Notice is a non-halting remark raised by a stage.
type Notice struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// NodeResult is the partial result of one stage.
type NodeResult struct {
	StatePatch map[string]any
	ToolRuns   []tools.Request
	Citations  []retrieval.Citation
	Answer     string
	// Retrieved marks Answer and Citations as a retrieval result.
	Retrieved bool
	Intent    Intent
	Notices   []Notice
	Outcome   Outcome
}

// Response is the outcome of a turn.
type Response struct {
	RunID      string               `json:"run_id"`
	Answer     string               `json:"answer"`
	Citations  []retrieval.Citation `json:"citations"`
	ToolRuns   []tools.Request      `json:"tool_runs"`
	StatePatch map[string]any       `json:"state_patch"`
	Notices    []Notice             `json:"notices"`
	Halted     bool                 `json:"halted"`
	HaltReason string               `json:"halt_reason,omitempty"`
}
