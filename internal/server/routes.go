package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/llm"
	"github.com/zulandar/roundhouse/internal/validate"
)

// Actions accepted by /api/realtime-agents.
const (
	actionStartTask  = "start_task"
	actionGetContext = "get_context"
)

type realtimeRequest struct {
	Action  string `json:"action"`
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

func badRequest(c *gin.Context, err error) {
	var verr *validate.Error
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": verr.Field + " " + verr.Reason})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
}

func (h *handlers) multiAgent(c *gin.Context) {
	var req validate.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errors.New("invalid request body"))
		return
	}
	if err := validate.Check(req); err != nil {
		badRequest(c, err)
		return
	}

	conv := h.Pipeline.ProcessTask(c.Request.Context(), req.Message)
	c.JSON(http.StatusOK, gin.H{"success": true, "data": conv})
}

func (h *handlers) realtimeAgents(c *gin.Context) {
	var req realtimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errors.New("invalid request body"))
		return
	}

	switch req.Action {
	case actionStartTask:
		if err := validate.Message(req.Message); err != nil {
			badRequest(c, err)
			return
		}
		taskID := req.TaskID
		if taskID == "" {
			taskID = uuid.NewString()
		}
		if err := h.Broadcast.StartTask(c.Request.Context(), taskID, req.Message); err != nil {
			if errors.Is(err, conversation.ErrDuplicateTask) {
				c.JSON(http.StatusConflict, gin.H{"success": false, "error": "task already exists"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "taskId": taskID})

	case actionGetContext:
		conv, err := h.Broadcast.Context(c.Request.Context(), req.TaskID)
		if err != nil && !errors.Is(err, conversation.ErrUnknownTask) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"context": conv})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown action"})
	}
}

func (h *handlers) task(c *gin.Context) {
	conv, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, conversation.ErrUnknownTask) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *handlers) health(c *gin.Context) {
	hasOpenAI := h.Keys.OpenAI != ""
	hasDeepSeek := h.Keys.DeepSeek != ""
	status, code, msg := "healthy", http.StatusOK, "Multi-Agent System is ready"
	if !hasOpenAI || !hasDeepSeek {
		status, code, msg = "missing_config", http.StatusServiceUnavailable, "Missing API keys"
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"message":   msg,
		"apis": gin.H{
			"openai":   hasOpenAI,
			"deepseek": hasDeepSeek,
		},
	})
}

// maskKey shows only the first 10 characters of a key.
func maskKey(key string) string {
	if key == "" {
		return "MISSING"
	}
	if len(key) <= 10 {
		return key + "..."
	}
	return key[:10] + "..."
}

func (h *handlers) debug(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": h.Environment,
		"keys": gin.H{
			"openai":   maskKey(h.Keys.OpenAI),
			"deepseek": maskKey(h.Keys.DeepSeek),
		},
		"cost": gin.H{
			"total": h.Costs.Total(),
			"calls": h.Costs.Calls(),
		},
		"broadcastRunning": h.Broadcast.Running(),
		"sseListeners":     h.Hub.Listeners(),
		"test":             "debug endpoint working",
	})
}

func (h *handlers) testAI(c *gin.Context) {
	now := time.Now().UTC().Format(time.RFC3339)
	if h.Gateway == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "gateway not configured", "timestamp": now})
		return
	}
	text, err := h.Gateway.Generate(c.Request.Context(), llm.Request{
		Model:      "gpt-4o-mini",
		Transcript: []llm.Turn{{Role: llm.RoleUser, Content: "Say hello in one word"}},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "timestamp": now})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "AI API working",
		"response":  text,
		"timestamp": now,
	})
}
