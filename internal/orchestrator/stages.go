package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KafClaw/fabrix/internal/policy"
	"github.com/KafClaw/fabrix/internal/retrieval"
	"github.com/KafClaw/fabrix/internal/tools"
)

// Stage is one pipeline step. Run must treat rc as read-only and express
// every expected failure as a NodeResult; a returned error fails the turn.
type Stage interface {
	Name() string
	Run(ctx context.Context, rc *RunContext) (NodeResult, error)
}

// Stage names, in pipeline order.
const (
	StageInputPolicy      = "input_policy"
	StageIntentClassify   = "intent_classify"
	StageToolRequest      = "tool_request"
	StageApplyToolResults = "apply_tool_result_patch"
	StageRetrieval        = "retrieval"
	StageAnswerSynthesis  = "answer_synthesis"
	StageOutputPolicy     = "output_policy"
)

// PolicyChecker screens input and answer drafts.
type PolicyChecker interface {
	CheckInput(ctx context.Context, message string) policy.Decision
	CheckOutput(ctx context.Context, answer string, citationCount int) policy.Decision
}

// ToolDispatcher mints tool requests and returns recorded results.
type ToolDispatcher interface {
	CreateInvocation(ctx context.Context, tool string, args map[string]any, runID string) (tools.Request, error)
	ResultsFor(ctx context.Context, runID string) ([]tools.Result, error)
}

// Retriever answers a query from a knowledge base.
type Retriever interface {
	Query(ctx context.Context, kbID, text string, roles []string) (retrieval.Answer, error)
}

// Fixed answers.
const (
	AnswerToolRequested = "Tool action requested. Awaiting UI execution."
	AnswerAcknowledged  = "Acknowledged. Let me know if you need help with data or actions."
	DefaultGridID       = "main"
)

// ---- input_policy ----

type InputPolicyStage struct {
	Policy PolicyChecker
}

func (s *InputPolicyStage) Name() string { return StageInputPolicy }

func (s *InputPolicyStage) Run(ctx context.Context, rc *RunContext) (NodeResult, error) {
	d := s.Policy.CheckInput(ctx, rc.Message)
	if !d.Allowed {
		return NodeResult{Answer: d.Notice, Outcome: Halt(d.Notice)}, nil
	}
	if d.Notice != "" {
		return NodeResult{Notices: []Notice{{Stage: StageInputPolicy, Message: d.Notice}}}, nil
	}
	return NodeResult{}, nil
}

// ---- intent_classify ----

// KeywordIntentStage labels a message by keyword presence. Tool keywords
// are checked before RAG keywords.
type KeywordIntentStage struct {
	ToolKeywords []string
	RAGKeywords  []string
}

func NewKeywordIntentStage() *KeywordIntentStage {
	return &KeywordIntentStage{
		ToolKeywords: []string{"filter", "sort", "group"},
		RAGKeywords:  []string{"rag", "document", "kb", "cite"},
	}
}

func (s *KeywordIntentStage) Name() string { return StageIntentClassify }

func (s *KeywordIntentStage) Run(_ context.Context, rc *RunContext) (NodeResult, error) {
	msg := strings.ToLower(rc.Message)
	switch {
	case containsAny(msg, s.ToolKeywords):
		return NodeResult{Intent: IntentTool}, nil
	case containsAny(msg, s.RAGKeywords):
		return NodeResult{Intent: IntentRAG}, nil
	default:
		return NodeResult{Intent: IntentChat}, nil
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// ---- tool_request ----

// ToolRequestStage builds at most one grid tool call, choosing filter over
// sort over group.
type ToolRequestStage struct {
	Tools  ToolDispatcher
	GridID string
}

func (s *ToolRequestStage) Name() string { return StageToolRequest }

func (s *ToolRequestStage) Run(ctx context.Context, rc *RunContext) (NodeResult, error) {
	tool, args := s.buildCall(strings.ToLower(rc.Message))
	if tool == "" {
		return NodeResult{}, nil
	}
	req, err := s.Tools.CreateInvocation(ctx, tool, args, rc.RunID)
	if err != nil {
		var verr *tools.ValidationError
		switch {
		case errors.As(err, &verr):
			msg := "Tool request rejected: " + verr.Error()
			return NodeResult{Answer: msg, Outcome: Halt(msg)}, nil
		case errors.Is(err, tools.ErrUnknownTool), errors.Is(err, tools.ErrRateLimited):
			return NodeResult{Notices: []Notice{{
				Stage:   StageToolRequest,
				Message: fmt.Sprintf("Tool %s unavailable: %v", tool, err),
			}}}, nil
		default:
			return NodeResult{}, err
		}
	}
	return NodeResult{ToolRuns: []tools.Request{req}}, nil
}

func (s *ToolRequestStage) buildCall(msg string) (string, map[string]any) {
	gridID := s.GridID
	if gridID == "" {
		gridID = DefaultGridID
	}
	args := map[string]any{"gridId": gridID}
	switch {
	case strings.Contains(msg, "filter"):
		args["filters"] = []any{map[string]any{"field": "status", "op": "eq", "value": "active"}}
		return tools.ToolGridSetFilter, args
	case strings.Contains(msg, "sort"):
		args["sorts"] = []any{map[string]any{"field": "created_at", "dir": "desc"}}
		return tools.ToolGridSetSort, args
	case strings.Contains(msg, "group"):
		args["groups"] = []any{"category"}
		return tools.ToolGridSetGroup, args
	}
	return "", nil
}

// ---- apply_tool_result_patch ----

type ApplyToolResultsStage struct {
	Tools ToolDispatcher
}

func (s *ApplyToolResultsStage) Name() string { return StageApplyToolResults }

func (s *ApplyToolResultsStage) Run(ctx context.Context, rc *RunContext) (NodeResult, error) {
	if rc.RunID == "" {
		return NodeResult{}, nil
	}
	results, err := s.Tools.ResultsFor(ctx, rc.RunID)
	if err != nil {
		return NodeResult{}, fmt.Errorf("load tool results: %w", err)
	}
	if len(results) == 0 {
		return NodeResult{}, nil
	}
	patch := map[string]any{}
	for _, r := range results {
		for k, v := range r.UIStatePatch {
			patch[k] = v
		}
	}
	return NodeResult{StatePatch: patch}, nil
}

// ---- retrieval ----

type RetrievalStage struct {
	Retriever Retriever
}

func (s *RetrievalStage) Name() string { return StageRetrieval }

func (s *RetrievalStage) Run(ctx context.Context, rc *RunContext) (NodeResult, error) {
	if rc.KBID == "" {
		return NodeResult{}, nil
	}
	ans, err := s.Retriever.Query(ctx, rc.KBID, rc.Message, rc.Roles)
	if err != nil {
		return NodeResult{}, fmt.Errorf("query knowledge base %s: %w", rc.KBID, err)
	}
	return NodeResult{Answer: ans.Text, Citations: ans.Citations, Retrieved: true}, nil
}

// ---- answer_synthesis ----

type SynthesisStage struct{}

func (SynthesisStage) Name() string { return StageAnswerSynthesis }

func (SynthesisStage) Run(_ context.Context, rc *RunContext) (NodeResult, error) {
	switch {
	case rc.Signals.Intent == IntentTool:
		return NodeResult{Answer: AnswerToolRequested}, nil
	case rc.Signals.RetrievedAnswer != "":
		cites := append([]retrieval.Citation(nil), rc.Signals.RetrievedCitations...)
		return NodeResult{Answer: rc.Signals.RetrievedAnswer, Citations: cites}, nil
	default:
		return NodeResult{Answer: AnswerAcknowledged}, nil
	}
}

// ---- output_policy ----

type OutputPolicyStage struct {
	Policy PolicyChecker
}

func (s *OutputPolicyStage) Name() string { return StageOutputPolicy }

func (s *OutputPolicyStage) Run(ctx context.Context, rc *RunContext) (NodeResult, error) {
	d := s.Policy.CheckOutput(ctx, rc.Signals.FinalAnswer, rc.Signals.CitationCount)
	if d.Notice != "" {
		return NodeResult{Notices: []Notice{{Stage: StageOutputPolicy, Message: d.Notice}}}, nil
	}
	return NodeResult{}, nil
}

// DefaultStages returns the standard seven-stage pipeline.
func DefaultStages(p PolicyChecker, t ToolDispatcher, r Retriever, gridID string) []Stage {
	return []Stage{
		&InputPolicyStage{Policy: p},
		NewKeywordIntentStage(),
		&ToolRequestStage{Tools: t, GridID: gridID},
		&ApplyToolResultsStage{Tools: t},
		&RetrievalStage{Retriever: r},
		SynthesisStage{},
		&OutputPolicyStage{Policy: p},
	}
}
