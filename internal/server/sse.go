package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/notify"
)

// taskEvents streams a task's events as server-sent events. The stream
// opens with a snapshot of the conversation and ends once it settles.
func (h *handlers) taskEvents(c *gin.Context) {
	taskID := c.Param("id")
	ctx := c.Request.Context()

	// Subscribe before reading the snapshot so nothing falls in between.
	events, unsubscribe := h.Hub.Subscribe(taskID)
	defer unsubscribe()

	conv, err := h.Store.Get(ctx, taskID)
	if errors.Is(err, conversation.ErrUnknownTask) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeSSE(c.Writer, "snapshot", conv)
	c.Writer.Flush()
	if conv.Settled() {
		writeSSE(c.Writer, string(notify.EventSettled), notify.SettledEvent(conv.ID, conv.Variant, conv.Status))
		c.Writer.Flush()
		return
	}

	seen := make(map[string]bool, len(conv.Messages))
	for _, m := range conv.Messages {
		seen[m.ID] = true
	}

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			// The hub drops events for full listeners, settled included.
			if cur, err := h.Store.Get(ctx, taskID); err == nil && cur.Settled() {
				writeSSE(c.Writer, string(notify.EventSettled), notify.SettledEvent(cur.ID, cur.Variant, cur.Status))
				c.Writer.Flush()
				return
			}
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Message != nil && seen[evt.Message.ID] {
				continue
			}
			writeSSE(c.Writer, string(evt.Type), evt)
			c.Writer.Flush()
			if evt.Type == notify.EventSettled {
				return
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
