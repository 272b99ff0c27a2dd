package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KafClaw/fabrix/internal/admin"
	"github.com/KafClaw/fabrix/internal/assets"
	"github.com/KafClaw/fabrix/internal/orchestrator"
	"github.com/KafClaw/fabrix/internal/retrieval"
	"github.com/KafClaw/fabrix/internal/tools"
)

type chatMessageRequest struct {
	SessionID      string `json:"session_id" binding:"required"`
	ConversationID string `json:"conversation_id" binding:"required"`
	AgentID        string `json:"agent_id" binding:"required"`
	UserID         string `json:"user_id" binding:"required"`
	TenantID       string `json:"tenant_id" binding:"required"`
	Message        string `json:"message" binding:"required"`
	RunID          string `json:"run_id"`
}

type uiStatePatchRequest struct {
	SessionID    string         `json:"session_id" binding:"required"`
	UIStatePatch map[string]any `json:"ui_state_patch"`
	Version      int            `json:"version"`
}

type kbCreateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ACL         []string `json:"acl"`
}

type ragQueryRequest struct {
	KBID  string   `json:"kb_id" binding:"required"`
	Query string   `json:"query"`
	Roles []string `json:"roles"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) handleChatMessage(c *gin.Context) {
	var req chatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	uiState := s.deps.UIState.State(req.SessionID)
	kbID, _ := uiState["kb_id"].(string)
	rc := &orchestrator.RunContext{
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		AgentID:        req.AgentID,
		UserID:         req.UserID,
		TenantID:       req.TenantID,
		Message:        req.Message,
		UIState:        uiState,
		Roles:          s.deps.Admin.UserPermissions(req.UserID),
		KBID:           kbID,
		RunID:          req.RunID,
	}

	ctx := c.Request.Context()
	if s.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TurnTimeout)
		defer cancel()
	}

	resp, err := s.deps.Engine.Run(ctx, rc)
	if err != nil {
		slog.Error("Chat turn failed", "session_id", req.SessionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "turn failed"})
		return
	}

	if len(resp.StatePatch) > 0 {
		s.deps.UIState.ApplyPatchNext(req.SessionID, resp.StatePatch)
	}
	if s.deps.Publisher != nil && len(resp.ToolRuns) > 0 {
		if err := s.deps.Publisher.PublishToolRuns(ctx, resp.ToolRuns); err != nil {
			slog.Warn("Tool run publish failed", "run_id", resp.RunID, "error", err)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePatchUIState(c *gin.Context) {
	var req uiStatePatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ev := s.deps.UIState.ApplyPatch(req.SessionID, req.UIStatePatch, req.Version)
	c.JSON(http.StatusOK, gin.H{
		"session_id": ev.SessionID,
		"version":    ev.Version,
		"updated_at": ev.UpdatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleGetUIState(c *gin.Context) {
	sessionID := c.Param("sessionId")
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"version":    s.deps.UIState.Version(sessionID),
		"ui_state":   s.deps.UIState.State(sessionID),
	})
}

func (s *Server) handleUIStateEvents(c *gin.Context) {
	sessionID := c.Param("sessionId")
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     s.deps.UIState.Events(sessionID),
	})
}

func (s *Server) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Dispatcher.Registry().List())
}

func (s *Server) handleActionResult(c *gin.Context) {
	var res tools.Result
	if err := c.ShouldBindJSON(&res); err != nil {
		badRequest(c, err)
		return
	}
	if err := res.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := s.deps.Dispatcher.RecordResult(c.Request.Context(), res); err != nil {
		if errors.Is(err, tools.ErrUnknownAction) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Record tool result failed", "action_id", res.ActionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record failed"})
		return
	}
	s.deps.Admin.IncrementUsage(admin.UsageToolRuns)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (s *Server) handleGetToolRun(c *gin.Context) {
	req, ok, err := s.deps.Dispatcher.Request(c.Request.Context(), c.Param("actionId"))
	if err != nil {
		slog.Error("Tool run lookup failed", "action_id", c.Param("actionId"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": tools.ErrUnknownAction.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) handleListKBs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"knowledge_bases": s.deps.Retrieval.ListKnowledgeBases()})
}

func (s *Server) handleCreateKB(c *gin.Context) {
	var req kbCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	kbID, err := s.deps.Retrieval.CreateKB(req.Name, req.Description, req.ACL)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kb_id": kbID})
}

func (s *Server) handleAddDocument(c *gin.Context) {
	var in retrieval.DocumentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	docID, err := s.deps.Retrieval.AddDocument(c.Param("kbId"), in)
	if err != nil {
		if errors.Is(err, retrieval.ErrUnknownKB) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc_id": docID})
}

func (s *Server) handleRAGQuery(c *gin.Context) {
	var req ragQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.deps.Admin.IncrementUsage(admin.UsageRAGQueries)
	answer, err := s.deps.Retrieval.Query(c.Request.Context(), req.KBID, req.Query, req.Roles)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (s *Server) handleCreateAsset(c *gin.Context) {
	var in assets.AssetInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	asset, err := s.deps.Assets.Create(in)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, asset)
}

func (s *Server) handleListAssets(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Assets.List())
}

func (s *Server) handleCreateRole(c *gin.Context) {
	var role admin.Role
	if err := c.ShouldBindJSON(&role); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Admin.CreateRole(role); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "created"})
}

func (s *Server) handleCreateUser(c *gin.Context) {
	var user admin.User
	if err := c.ShouldBindJSON(&user); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Admin.CreateUser(user); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "created"})
}

func (s *Server) handleUsage(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Admin.UsageStats())
}

func (s *Server) handlePolicyEvents(c *gin.Context) {
	events, err := s.deps.PolicyLog.List(c.Request.Context())
	if err != nil {
		slog.Error("List policy events failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
