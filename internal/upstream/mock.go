package upstream

import (
	"context"

	"github.com/chatbridge-dev/chatbridge/internal/relay"
)

// Mock serves scripted multi-step demo replies instead of calling the
// backend. Each conversation advances through the script independently; the
// step counter lives in a per-key-serialized store so concurrent requests
// for one conversation cannot corrupt it.
type Mock struct {
	steps *relay.StepStore
}

// NewMock creates a mock backend with fresh per-conversation state.
func NewMock() *Mock {
	return &Mock{steps: relay.NewStepStore()}
}

// script is the canned multi-step exchange: a reasoning + shell step, a
// patch step, and a finalizing message.
var script = []string{
	`{"reasoning_summary":"Inspecting the project layout before making changes.","tool_calls":[{"name":"shell","arguments":{"command":["ls","-la"]}}]}`,

	"Applying the requested change.\n\n*** Begin Patch\n*** Update File: README.md\n@@\n-old line\n+new line\n*** End Patch\n",

	`{"final":true,"message":"All demo steps complete."}`,
}

// Complete returns the next scripted reply for the conversation. Past the
// end of the script it keeps finalizing.
func (m *Mock) Complete(_ context.Context, p Prompt) (string, error) {
	step := m.steps.Next(p.ConversationID)
	if step >= len(script) {
		step = len(script) - 1
	}
	return script[step], nil
}

// Stream yields the scripted reply as a single delta.
func (m *Mock) Stream(ctx context.Context, p Prompt) (<-chan string, <-chan error) {
	deltas := make(chan string, 1)
	errs := make(chan error, 1)
	text, _ := m.Complete(ctx, p)
	deltas <- text
	close(deltas)
	close(errs)
	return deltas, errs
}
