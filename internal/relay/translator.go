package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Event is one SSE record: the wire event name plus its JSON payload.
type Event struct {
	Name    string
	Payload string
}

// Wire event names emitted by the translator.
const (
	EventCreated               = "response.created"
	EventReasoningSummaryDelta = "response.reasoning_summary_text.delta"
	EventOutputTextDelta       = "response.output_text.delta"
	EventOutputItemDone        = "response.output_item.done"
	EventFailed                = "response.failed"
	EventCompleted             = "response.completed"
)

// Translator emits the canonical event sequence for one response. The
// response identifier is generated at construction and stitched through the
// created and completed events.
type Translator struct {
	responseID   string
	createdAt    int64
	itemSeq      int
	streamItemID string
}

// NewTranslator starts a response with a fresh identifier.
func NewTranslator() *Translator {
	return &Translator{
		responseID: "resp_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		createdAt:  time.Now().Unix(),
	}
}

// ResponseID returns the identifier carried by created and completed.
func (t *Translator) ResponseID() string { return t.responseID }

// Translate maps a canonical envelope into the full ordered event sequence:
// created, optional reasoning summary, then either the single finalizing
// message or the content fragments and tool calls, then completed. An empty
// envelope still produces created and completed so the stream always
// terminates.
func Translate(env Envelope) []Event {
	t := NewTranslator()
	out := []Event{t.Created()}

	if env.ReasoningSummary != "" {
		out = append(out, t.ReasoningSummaryDelta(env.ReasoningSummary))
	}

	if env.Final {
		out = append(out, t.MessageDone(env.FinalText))
		return append(out, t.Completed())
	}

	for _, fragment := range env.Content {
		out = append(out, t.MessageDone(fragment))
	}
	for _, call := range env.ToolCalls {
		out = append(out, t.ToolCallDone(call))
	}
	return append(out, t.Completed())
}

// FailureEvents renders an upstream failure as a complete, well-terminated
// stream: created, failed, completed. Clients never see a bare disconnect.
func FailureEvents(message string) []Event {
	t := NewTranslator()
	return []Event{t.Created(), t.Failed(message), t.Completed()}
}

// Created emits the stream-opening event.
func (t *Translator) Created() Event {
	payload := `{"type":"response.created","response":{"id":"","object":"response","created_at":0,"status":"in_progress","error":null,"output":[]}}`
	payload, _ = sjson.Set(payload, "response.id", t.responseID)
	payload, _ = sjson.Set(payload, "response.created_at", t.createdAt)
	return Event{Name: EventCreated, Payload: payload}
}

// ReasoningSummaryDelta emits the reasoning summary as one delta chunk.
// Receivers concatenate deltas, so emitting the full string at once is a
// valid (single-chunk) stream.
func (t *Translator) ReasoningSummaryDelta(text string) Event {
	payload := `{"type":"response.reasoning_summary_text.delta","item_id":"","output_index":0,"summary_index":0,"delta":""}`
	payload, _ = sjson.Set(payload, "item_id", t.nextItemID("rs"))
	payload, _ = sjson.Set(payload, "delta", text)
	return Event{Name: EventReasoningSummaryDelta, Payload: payload}
}

// OutputTextDelta emits one incremental text fragment. Used by the live
// streaming path; the buffered path goes straight to MessageDone. All deltas
// of one response share an item id so receivers can concatenate them.
func (t *Translator) OutputTextDelta(text string) Event {
	payload := `{"type":"response.output_text.delta","item_id":"","output_index":0,"content_index":0,"delta":""}`
	payload, _ = sjson.Set(payload, "item_id", t.messageItemID())
	payload, _ = sjson.Set(payload, "delta", text)
	return Event{Name: EventOutputTextDelta, Payload: payload}
}

// StreamMessageDone closes the streamed assistant message with the same item
// id the deltas carried.
func (t *Translator) StreamMessageDone(text string) Event {
	payload := `{"type":"response.output_item.done","output_index":0,"item":{"id":"","type":"message","status":"completed","role":"assistant","content":[{"type":"output_text","text":""}]}}`
	payload, _ = sjson.Set(payload, "item.id", t.messageItemID())
	payload, _ = sjson.Set(payload, "item.content.0.text", text)
	return Event{Name: EventOutputItemDone, Payload: payload}
}

func (t *Translator) messageItemID() string {
	if t.streamItemID == "" {
		t.streamItemID = t.nextItemID("msg")
	}
	return t.streamItemID
}

// MessageDone emits a completed assistant message item.
func (t *Translator) MessageDone(text string) Event {
	payload := `{"type":"response.output_item.done","output_index":0,"item":{"id":"","type":"message","status":"completed","role":"assistant","content":[{"type":"output_text","text":""}]}}`
	payload, _ = sjson.Set(payload, "item.id", t.nextItemID("msg"))
	payload, _ = sjson.Set(payload, "item.content.0.text", text)
	return Event{Name: EventOutputItemDone, Payload: payload}
}

// ToolCallDone classifies one tool call and emits the matching item event.
func (t *Translator) ToolCallDone(call ToolCall) Event {
	if call.Type == "local_shell_call" {
		return t.localShellCallDone(NormalizeShellArgs(call.Arguments))
	}
	if IsShellName(call.Name) {
		inv := NormalizeShellArgs(call.Arguments)
		return t.functionCallDone("shell", inv.ArgumentsJSON())
	}
	if call.Name == "apply_patch" || call.Type == "custom" {
		if patch := patchText(call.Arguments); patch != "" {
			return t.customToolCallDone("apply_patch", patch)
		}
	}

	name := call.Name
	if strings.TrimSpace(name) == "" {
		name = "unknown_function"
	}
	return t.functionCallDone(name, normalizeArguments(call.Arguments))
}

func (t *Translator) functionCallDone(name, arguments string) Event {
	payload := `{"type":"response.output_item.done","output_index":0,"item":{"id":"","type":"function_call","status":"completed","call_id":"","name":"","arguments":""}}`
	payload, _ = sjson.Set(payload, "item.id", t.nextItemID("fc"))
	payload, _ = sjson.Set(payload, "item.call_id", newCallID())
	payload, _ = sjson.Set(payload, "item.name", name)
	payload, _ = sjson.Set(payload, "item.arguments", arguments)
	return Event{Name: EventOutputItemDone, Payload: payload}
}

func (t *Translator) customToolCallDone(name, input string) Event {
	payload := `{"type":"response.output_item.done","output_index":0,"item":{"id":"","type":"custom_tool_call","status":"completed","call_id":"","name":"","input":""}}`
	payload, _ = sjson.Set(payload, "item.id", t.nextItemID("ct"))
	payload, _ = sjson.Set(payload, "item.call_id", newCallID())
	payload, _ = sjson.Set(payload, "item.name", name)
	payload, _ = sjson.Set(payload, "item.input", input)
	return Event{Name: EventOutputItemDone, Payload: payload}
}

func (t *Translator) localShellCallDone(inv ShellInvocation) Event {
	payload := `{"type":"response.output_item.done","output_index":0,"item":{"id":"","type":"local_shell_call","status":"completed","call_id":"","action":{"type":"exec","command":[]}}}`
	payload, _ = sjson.Set(payload, "item.id", t.nextItemID("sh"))
	payload, _ = sjson.Set(payload, "item.call_id", newCallID())
	payload, _ = sjson.Set(payload, "item.action.command", strings.Fields(inv.Command))
	if inv.TimeoutMS > 0 {
		payload, _ = sjson.Set(payload, "item.action.timeout_ms", inv.TimeoutMS)
	}
	return Event{Name: EventOutputItemDone, Payload: payload}
}

// Failed reports a terminal upstream error.
func (t *Translator) Failed(message string) Event {
	payload := `{"type":"response.failed","response":{"id":"","status":"failed","error":{"code":"upstream_error","message":""}}}`
	payload, _ = sjson.Set(payload, "response.id", t.responseID)
	payload, _ = sjson.Set(payload, "response.error.message", message)
	return Event{Name: EventFailed, Payload: payload}
}

// Completed closes the stream. Usage accounting is always zeroed: this relay
// does not meter tokens.
func (t *Translator) Completed() Event {
	payload := `{"type":"response.completed","response":{"id":"","object":"response","status":"completed","usage":{"input_tokens":0,"input_tokens_details":{"cached_tokens":0},"output_tokens":0,"output_tokens_details":{"reasoning_tokens":0},"total_tokens":0}}}`
	payload, _ = sjson.Set(payload, "response.id", t.responseID)
	return Event{Name: EventCompleted, Payload: payload}
}

func (t *Translator) nextItemID(kind string) string {
	t.itemSeq++
	return fmt.Sprintf("%s_%s_%d", kind, t.responseID, t.itemSeq)
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// patchText accepts the patch body from the shapes upstreams use: an object
// with an "input" or "patch" field, or the bare patch string itself.
func patchText(arguments string) string {
	parsed := gjson.Parse(arguments)
	if parsed.IsObject() {
		if v := parsed.Get("input"); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
		if v := parsed.Get("patch"); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
		return ""
	}
	return arguments
}

// normalizeArguments re-serializes tool arguments to a compact JSON string.
// String input is parsed and re-emitted to normalize quoting; if it does not
// parse, it passes through unchanged.
func normalizeArguments(arguments string) string {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return "{}"
	}
	if gjson.Valid(trimmed) {
		parsed := gjson.Parse(trimmed)
		if parsed.IsObject() || parsed.IsArray() {
			return parsed.Raw
		}
	}
	return arguments
}
