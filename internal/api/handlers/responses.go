// Package handlers implements the relay's HTTP endpoints: health, the model
// listing, and the Responses-compatible SSE endpoint.
package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatbridge-dev/chatbridge/internal/config"
	"github.com/chatbridge-dev/chatbridge/internal/relay"
	"github.com/chatbridge-dev/chatbridge/internal/sse"
	"github.com/chatbridge-dev/chatbridge/internal/upstream"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ResponsesHandler serves the relay endpoints.
type ResponsesHandler struct {
	cfg     *config.Config
	backend upstream.Backend
}

// NewResponsesHandler wires the handler to its backend.
func NewResponsesHandler(cfg *config.Config, backend upstream.Backend) *ResponsesHandler {
	return &ResponsesHandler{cfg: cfg, backend: backend}
}

// Health handles GET /health.
func (h *ResponsesHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": h.cfg.Model})
}

// Models handles GET /v1/models with a single synthetic descriptor.
func (h *ResponsesHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data": []gin.H{
			{
				"id":       h.cfg.Model,
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": "chatbridge",
			},
		},
	})
}

// Responses handles POST /v1/responses. The reply is always a well-formed
// SSE stream terminated by response.completed; upstream failures surface as
// a response.failed event, never as a dropped connection.
func (h *ResponsesHandler) Responses(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "failed to read request body"}})
		return
	}

	writer, err := sse.NewWriter(c.Writer, c.Request)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "streaming not supported"}})
		return
	}

	prompt := promptFromRequest(body)
	writer.WriteHeaders()

	// Bodies that carry no prompt but already look like a reply envelope are
	// translated directly. This keeps the endpoint usable for local testing
	// and for callers that pre-render the reply themselves.
	if prompt.Input == "" && prompt.Instructions == "" && looksLikeEnvelope(body) {
		env := relay.Normalize(body, h.cfg.StrictJSON)
		writeEvents(writer, relay.Translate(env))
		return
	}

	if h.cfg.StreamUpstream && !h.cfg.ForceJSON {
		h.streamLive(c, writer, prompt)
		return
	}

	text, err := h.backend.Complete(c.Request.Context(), prompt)
	if err != nil {
		log.Errorf("upstream completion failed: %v", err)
		writeEvents(writer, relay.FailureEvents(err.Error()))
		return
	}
	env := relay.Normalize([]byte(text), h.cfg.StrictJSON)
	writeEvents(writer, relay.Translate(env))
}

// streamLive forwards upstream deltas as they arrive, then closes the
// message and the stream.
func (h *ResponsesHandler) streamLive(c *gin.Context, writer *sse.Writer, prompt upstream.Prompt) {
	t := relay.NewTranslator()
	created := t.Created()
	if writer.WriteEvent(created.Name, created.Payload) != nil {
		return
	}

	deltas, errs := h.backend.Stream(c.Request.Context(), prompt)
	var accumulated strings.Builder
	for delta := range deltas {
		accumulated.WriteString(delta)
		ev := t.OutputTextDelta(delta)
		if writer.WriteEvent(ev.Name, ev.Payload) != nil {
			return
		}
	}
	if err := <-errs; err != nil {
		log.Errorf("upstream stream failed: %v", err)
		if accumulated.Len() == 0 {
			failed := t.Failed(err.Error())
			_ = writer.WriteEvent(failed.Name, failed.Payload)
			completed := t.Completed()
			_ = writer.WriteEvent(completed.Name, completed.Payload)
			return
		}
		// Partial output already reached the client; close it out normally.
	}

	if accumulated.Len() > 0 {
		done := t.StreamMessageDone(accumulated.String())
		if writer.WriteEvent(done.Name, done.Payload) != nil {
			return
		}
	}
	completed := t.Completed()
	_ = writer.WriteEvent(completed.Name, completed.Payload)
}

func writeEvents(writer *sse.Writer, events []relay.Event) {
	for _, ev := range events {
		if err := writer.WriteEvent(ev.Name, ev.Payload); err != nil {
			return
		}
	}
}

// promptFromRequest pulls the natural-language payload out of a
// provider-shaped request body.
func promptFromRequest(body []byte) upstream.Prompt {
	root := gjson.ParseBytes(body)
	return upstream.Prompt{
		Instructions:   root.Get("instructions").String(),
		Input:          inputText(root),
		Model:          root.Get("model").String(),
		ConversationID: conversationID(root),
	}
}

// inputText accepts the "input" field as a plain string or as the structured
// item list, falling back to "prompt".
func inputText(root gjson.Result) string {
	input := root.Get("input")
	switch {
	case input.Type == gjson.String:
		return input.String()
	case input.IsArray():
		var parts []string
		input.ForEach(func(_, item gjson.Result) bool {
			content := item.Get("content")
			if content.Type == gjson.String {
				if content.String() != "" {
					parts = append(parts, content.String())
				}
				return true
			}
			content.ForEach(func(_, piece gjson.Result) bool {
				switch piece.Get("type").String() {
				case "input_text", "text", "output_text":
					if text := piece.Get("text").String(); text != "" {
						parts = append(parts, text)
					}
				}
				return true
			})
			return true
		})
		return strings.Join(parts, "\n\n")
	}
	return root.Get("prompt").String()
}

// conversationID reads the caller's conversation key from the places
// different clients put it.
func conversationID(root gjson.Result) string {
	for _, path := range []string{"conversation_id", "conversationId", "metadata.conversation_id", "metadata.conversationId"} {
		if id := strings.TrimSpace(root.Get(path).String()); id != "" {
			return id
		}
	}
	return ""
}

// looksLikeEnvelope reports whether the body already carries reply-envelope
// fields rather than a prompt.
func looksLikeEnvelope(body []byte) bool {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return false
	}
	for _, field := range []string{"content", "output", "message", "final", "tool_calls", "reasoning_summary"} {
		if root.Get(field).Exists() {
			return true
		}
	}
	return false
}
