package relay

import "sync"

// StepStore tracks a per-conversation step counter for scripted multi-step
// replies. Each key has its own lock so concurrent requests for the same
// conversation serialize their read-increment while unrelated conversations
// proceed independently.
type StepStore struct {
	mu    sync.Mutex
	steps map[string]*conversationSteps
}

type conversationSteps struct {
	mu   sync.Mutex
	next int
}

// NewStepStore creates an empty step store.
func NewStepStore() *StepStore {
	return &StepStore{steps: make(map[string]*conversationSteps)}
}

// Next returns the current step for the conversation and advances it. An
// empty key is a valid conversation of its own.
func (s *StepStore) Next(conversationID string) int {
	s.mu.Lock()
	entry, ok := s.steps[conversationID]
	if !ok {
		entry = &conversationSteps{}
		s.steps[conversationID] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	step := entry.next
	entry.next++
	return step
}

// Reset clears the counter for a conversation.
func (s *StepStore) Reset(conversationID string) {
	s.mu.Lock()
	delete(s.steps, conversationID)
	s.mu.Unlock()
}
