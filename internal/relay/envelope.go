// Package relay is the core of the proxy: it normalizes whatever the
// upstream chat service replied into a canonical envelope and translates
// that envelope into the ordered Responses SSE event sequence.
package relay

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ToolCall is one structured action extracted from a reply.
type ToolCall struct {
	// Name is the declared tool name, possibly empty.
	Name string
	// Type is the declared item type when the upstream used one
	// (e.g. "function", "custom", "local_shell_call").
	Type string
	// Arguments holds the raw argument value: a JSON object/array document,
	// or a bare string for upstreams that send pre-serialized arguments.
	Arguments string
}

// Envelope is the canonical reply shape the translator consumes. Every
// recognized upstream format — structured JSON, JSON buried in prose or code
// fences, or plain text — normalizes into this one form before any event is
// emitted.
type Envelope struct {
	ReasoningSummary string
	Content          []string
	ToolCalls        []ToolCall
	// Final marks a reply that closes the exchange with a single assistant
	// message and suppresses all content/tool emission.
	Final bool
	// FinalText is the message chosen for a final reply.
	FinalText string
}

// jsonRecovery is one parsing strategy; the first strategy to succeed wins.
type jsonRecovery func(text string) (gjson.Result, bool)

func parseDirect(text string) (gjson.Result, bool) {
	trimmed := strings.TrimSpace(text)
	if !gjson.Valid(trimmed) {
		return gjson.Result{}, false
	}
	root := gjson.Parse(trimmed)
	return root, root.IsObject()
}

// parseFenced pulls a JSON object out of the first fenced code block.
func parseFenced(text string) (gjson.Result, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return gjson.Result{}, false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the optional language tag line ("json", "jsonc", ...).
		if tag := strings.TrimSpace(rest[:nl]); tag == "" || len(tag) <= 8 {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return gjson.Result{}, false
	}
	return parseDirect(rest[:end])
}

// parseBraceSpan recovers JSON with leading/trailing prose by taking the
// outermost {...} span.
func parseBraceSpan(text string) (gjson.Result, bool) {
	open := strings.IndexByte(text, '{')
	closing := strings.LastIndexByte(text, '}')
	if open < 0 || closing <= open {
		return gjson.Result{}, false
	}
	return parseDirect(text[open : closing+1])
}

// Normalize maps an upstream reply into the canonical envelope. In strict
// mode only replies that parse as JSON directly count as structured; the
// recovery strategies are skipped.
func Normalize(raw []byte, strict bool) Envelope {
	text := string(raw)

	strategies := []jsonRecovery{parseDirect}
	if !strict {
		strategies = append(strategies, parseFenced, parseBraceSpan)
	}
	for _, strategy := range strategies {
		if root, ok := strategy(text); ok {
			return fromJSON(root)
		}
	}
	return fromText(text)
}

// fromText treats the reply as a plain assistant message, except that
// complete embedded patch blocks become patch-apply tool calls.
func fromText(text string) Envelope {
	var env Envelope
	for _, patch := range ExtractPatches(text) {
		env.ToolCalls = append(env.ToolCalls, ToolCall{Name: "apply_patch", Type: "custom", Arguments: patch})
	}
	remainder := text
	if len(env.ToolCalls) > 0 {
		remainder = StripPatches(text)
	}
	if strings.TrimSpace(remainder) != "" {
		env.Content = append(env.Content, remainder)
	}
	return env
}

func fromJSON(root gjson.Result) Envelope {
	env := Envelope{
		Final: root.Get("final").Bool(),
	}

	for _, field := range []string{"reasoning_summary", "summary", "reasoning"} {
		if v := root.Get(field); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			env.ReasoningSummary = v.String()
			break
		}
	}

	if env.Final {
		env.FinalText = finalText(root)
		return env
	}

	for _, field := range []string{"message", "output", "content"} {
		env.Content = append(env.Content, contentFragments(root.Get(field))...)
	}

	env.ToolCalls = extractToolCalls(root)

	// A textual patch only counts when no structured call claimed the reply.
	if len(env.ToolCalls) == 0 {
		var content []string
		for _, fragment := range env.Content {
			patches := ExtractPatches(fragment)
			if len(patches) == 0 {
				content = append(content, fragment)
				continue
			}
			for _, patch := range patches {
				env.ToolCalls = append(env.ToolCalls, ToolCall{Name: "apply_patch", Type: "custom", Arguments: patch})
			}
			if remainder := StripPatches(fragment); remainder != "" {
				content = append(content, remainder)
			}
		}
		env.Content = content
	}

	return env
}

// finalText picks the single assistant message for a finalizing reply, by
// first-match priority: message, output, content, then a fixed fallback.
func finalText(root gjson.Result) string {
	for _, field := range []string{"message", "output", "content"} {
		if fragments := contentFragments(root.Get(field)); len(fragments) > 0 {
			return fragments[0]
		}
	}
	return "Done."
}

// contentFragments reads a content-ish value: a bare string is one fragment,
// an array contributes each element carrying a recognized text marker.
func contentFragments(value gjson.Result) []string {
	switch {
	case value.Type == gjson.String:
		if value.String() == "" {
			return nil
		}
		return []string{value.String()}
	case value.IsArray():
		var fragments []string
		value.ForEach(func(_, item gjson.Result) bool {
			if !item.IsObject() {
				return true
			}
			switch item.Get("type").String() {
			case "text", "output_text", "input_text":
				if text := item.Get("text").String(); text != "" {
					fragments = append(fragments, text)
				}
			}
			return true
		})
		return fragments
	}
	return nil
}

// extractToolCalls reads the calls list, or falls back to interpreting the
// root object itself as a single call when it carries a name.
func extractToolCalls(root gjson.Result) []ToolCall {
	calls := root.Get("tool_calls")
	if !calls.Exists() {
		calls = root.Get("calls")
	}
	if calls.IsArray() {
		var out []ToolCall
		calls.ForEach(func(_, entry gjson.Result) bool {
			if call, ok := toolCallFromObject(entry); ok {
				out = append(out, call)
			}
			return true
		})
		return out
	}

	// A bare call object at the root: a string name, or a string type on an
	// object that is not an envelope (final replies never carry calls).
	if root.Get("name").Type == gjson.String ||
		(root.Get("type").Type == gjson.String && !root.Get("final").Exists()) {
		if call, ok := toolCallFromObject(root); ok {
			return []ToolCall{call}
		}
	}
	return nil
}

func toolCallFromObject(entry gjson.Result) (ToolCall, bool) {
	if !entry.IsObject() {
		return ToolCall{}, false
	}
	call := ToolCall{
		Name: entry.Get("name").String(),
		Type: entry.Get("type").String(),
	}
	if call.Name == "" {
		call.Name = entry.Get("function.name").String()
	}
	if call.Name == "" && call.Type == "" {
		return ToolCall{}, false
	}
	for _, field := range []string{"arguments", "args", "input", "parameters", "function.arguments"} {
		if v := entry.Get(field); v.Exists() {
			call.Arguments = rawArgument(v)
			break
		}
	}
	return call, true
}

// rawArgument keeps JSON documents as their raw form and unwraps JSON string
// literals to their value.
func rawArgument(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Raw
}
