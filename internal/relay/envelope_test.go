package relay

import (
	"strings"
	"testing"
)

func TestNormalizeDirectJSON(t *testing.T) {
	raw := []byte(`{"reasoning_summary":"thinking","message":"hello there"}`)
	env := Normalize(raw, false)

	if env.ReasoningSummary != "thinking" {
		t.Errorf("reasoning summary = %q, want %q", env.ReasoningSummary, "thinking")
	}
	if len(env.Content) != 1 || env.Content[0] != "hello there" {
		t.Errorf("content = %v, want [hello there]", env.Content)
	}
	if env.Final {
		t.Error("final should be false")
	}
}

func TestNormalizeFencedJSON(t *testing.T) {
	raw := []byte("Here is my answer:\n```json\n{\"message\":\"from the fence\"}\n```\nthanks")
	env := Normalize(raw, false)

	if len(env.Content) != 1 || env.Content[0] != "from the fence" {
		t.Errorf("content = %v, want [from the fence]", env.Content)
	}
}

func TestNormalizeBraceSpan(t *testing.T) {
	raw := []byte(`Sure thing! {"message":"recovered"} Hope that helps.`)
	env := Normalize(raw, false)

	if len(env.Content) != 1 || env.Content[0] != "recovered" {
		t.Errorf("content = %v, want [recovered]", env.Content)
	}
}

func TestNormalizeStrictSkipsRecovery(t *testing.T) {
	raw := []byte(`Sure thing! {"message":"buried"} Hope that helps.`)
	env := Normalize(raw, true)

	if len(env.ToolCalls) != 0 {
		t.Fatalf("tool calls = %v, want none", env.ToolCalls)
	}
	if len(env.Content) != 1 || !strings.Contains(env.Content[0], "Sure thing!") {
		t.Errorf("strict mode should keep the raw text, got %v", env.Content)
	}
}

func TestNormalizePlainText(t *testing.T) {
	env := Normalize([]byte("just words, no structure"), false)

	if len(env.Content) != 1 || env.Content[0] != "just words, no structure" {
		t.Errorf("content = %v", env.Content)
	}
	if env.ReasoningSummary != "" || env.Final || len(env.ToolCalls) != 0 {
		t.Errorf("plain text should only populate content, got %+v", env)
	}
}

func TestNormalizeFinal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"message field", `{"final":true,"message":"bye"}`, "bye"},
		{"output field", `{"final":true,"output":"done here"}`, "done here"},
		{"content field", `{"final":true,"content":"wrapped up"}`, "wrapped up"},
		{"no text", `{"final":true}`, "Done."},
		{"message wins over output", `{"final":true,"message":"first","output":"second"}`, "first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Normalize([]byte(tt.raw), false)
			if !env.Final {
				t.Fatal("final should be true")
			}
			if env.FinalText != tt.want {
				t.Errorf("final text = %q, want %q", env.FinalText, tt.want)
			}
			if len(env.Content) != 0 || len(env.ToolCalls) != 0 {
				t.Errorf("final reply must suppress content and tool calls, got %+v", env)
			}
		})
	}
}

func TestNormalizeToolCalls(t *testing.T) {
	raw := []byte(`{"tool_calls":[{"name":"shell","arguments":{"command":["ls","-la"]}},{"function":{"name":"lookup","arguments":"{\"q\":\"x\"}"}}]}`)
	env := Normalize(raw, false)

	if len(env.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(env.ToolCalls))
	}
	if env.ToolCalls[0].Name != "shell" {
		t.Errorf("first call name = %q", env.ToolCalls[0].Name)
	}
	if env.ToolCalls[1].Name != "lookup" {
		t.Errorf("second call name = %q", env.ToolCalls[1].Name)
	}
	if env.ToolCalls[1].Arguments != `{"q":"x"}` {
		t.Errorf("second call arguments = %q", env.ToolCalls[1].Arguments)
	}
}

func TestNormalizeRootLevelCall(t *testing.T) {
	raw := []byte(`{"name":"shell","arguments":{"command":"ls"}}`)
	env := Normalize(raw, false)

	if len(env.ToolCalls) != 1 || env.ToolCalls[0].Name != "shell" {
		t.Fatalf("tool calls = %+v, want one shell call", env.ToolCalls)
	}
}

func TestNormalizeRootLevelTypeOnlyCall(t *testing.T) {
	raw := []byte(`{"type":"local_shell_call","arguments":{"command":["ls","-la"]}}`)
	env := Normalize(raw, false)

	if len(env.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v, want one inferred call", env.ToolCalls)
	}
	call := env.ToolCalls[0]
	if call.Type != "local_shell_call" {
		t.Errorf("call type = %q", call.Type)
	}
	if got := NormalizeShellArgs(call.Arguments).Command; got != "ls -la" {
		t.Errorf("command = %q, want %q", got, "ls -la")
	}
}

func TestNormalizeFinalFalseWithTypeStaysText(t *testing.T) {
	// An explicit final field marks an envelope, not a bare call object.
	raw := []byte(`{"final":false,"type":"status","message":"still working"}`)
	env := Normalize(raw, false)

	if len(env.ToolCalls) != 0 {
		t.Errorf("tool calls = %+v, want none", env.ToolCalls)
	}
	if len(env.Content) != 1 || env.Content[0] != "still working" {
		t.Errorf("content = %v", env.Content)
	}
}

func TestNormalizeTextWithPatch(t *testing.T) {
	raw := []byte("Applying now.\n\n*** Begin Patch\n*** Update File: a.go\n@@\n-x\n+y\n*** End Patch\n")
	env := Normalize(raw, false)

	if len(env.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(env.ToolCalls))
	}
	call := env.ToolCalls[0]
	if call.Name != "apply_patch" || call.Type != "custom" {
		t.Errorf("call = %+v", call)
	}
	if !strings.HasPrefix(call.Arguments, "*** Begin Patch") || !strings.HasSuffix(call.Arguments, "*** End Patch") {
		t.Errorf("patch text not bounded by markers: %q", call.Arguments)
	}
	if len(env.Content) != 1 || env.Content[0] != "Applying now." {
		t.Errorf("remainder content = %v", env.Content)
	}
}

func TestNormalizeStructuredCallSuppressesTextPatch(t *testing.T) {
	raw := []byte(`{"message":"*** Begin Patch\nx\n*** End Patch","tool_calls":[{"name":"lookup","arguments":{}}]}`)
	env := Normalize(raw, false)

	if len(env.ToolCalls) != 1 || env.ToolCalls[0].Name != "lookup" {
		t.Fatalf("tool calls = %+v, want only the structured lookup call", env.ToolCalls)
	}
}

func TestNormalizeContentArray(t *testing.T) {
	raw := []byte(`{"content":[{"type":"text","text":"one"},{"type":"output_text","text":"two"},{"type":"image","url":"skip"}]}`)
	env := Normalize(raw, false)

	if len(env.Content) != 2 || env.Content[0] != "one" || env.Content[1] != "two" {
		t.Errorf("content = %v, want [one two]", env.Content)
	}
}

func TestNormalizeReasoningAliases(t *testing.T) {
	for _, field := range []string{"reasoning_summary", "summary", "reasoning"} {
		raw := []byte(`{"` + field + `":"why","message":"m"}`)
		env := Normalize(raw, false)
		if env.ReasoningSummary != "why" {
			t.Errorf("field %s: reasoning summary = %q", field, env.ReasoningSummary)
		}
	}
}
