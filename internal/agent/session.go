package agent

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sacenox/ion/internal/provider"
)

// Session holds one conversation's running state: its message history, the
// steering queue a consumer can push onto mid-turn, and the cancellation
// handle for whichever turn is currently in flight.
type Session struct {
	ID         string
	WorkingDir string
	Model      string
	Created    time.Time
	Updated    time.Time

	mu       sync.Mutex
	Messages []provider.Message
	Queue    *MessageQueue

	cancel context.CancelFunc
}

// NewSession creates an empty session with a fresh, time-ordered ID.
func NewSession(workingDir, model string) *Session {
	now := time.Now()
	return &Session{
		ID:         ulid.Make().String(),
		WorkingDir: workingDir,
		Model:      model,
		Created:    now,
		Updated:    now,
		Queue:      NewMessageQueue(),
	}
}

// Restore rebuilds a Session around previously persisted history, for
// resuming a session across process restarts.
func Restore(id, workingDir, model string, msgs []provider.Message, created, updated time.Time) *Session {
	return &Session{
		ID:         id,
		WorkingDir: workingDir,
		Model:      model,
		Created:    created,
		Updated:    updated,
		Messages:   msgs,
		Queue:      NewMessageQueue(),
	}
}

// Prime seeds a fresh session with a system prompt. A no-op if the session
// already has any history, so resumed sessions never get a duplicate.
func (s *Session) Prime(systemPrompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Messages) > 0 {
		return
	}
	s.Messages = append(s.Messages, provider.Message{Role: "system", Content: systemPrompt, CreatedAt: time.Now()})
}

// Snapshot returns a copy of the message history, safe to hand to a
// provider call while appendMessage may run concurrently from a different
// goroutine (e.g. a sub-agent running against its own session never races
// this one, but a UI reading history while a turn streams might).
func (s *Session) Snapshot() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Message, len(s.Messages))
	copy(out, s.Messages)
	return out
}

func (s *Session) appendMessage(msg provider.Message) {
	s.mu.Lock()
	s.Messages = append(s.Messages, msg)
	s.Updated = time.Now()
	s.mu.Unlock()
}

// appendToLastMessage tacks text onto the trailing message's content rather
// than adding a new message, so cache-relevant message positions don't shift.
func (s *Session) appendToLastMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Messages) == 0 {
		return
	}
	last := &s.Messages[len(s.Messages)-1]
	if last.Content != "" {
		last.Content += "\n\n"
	}
	last.Content += text
	s.Updated = time.Now()
}

func (s *Session) replaceMessages(msgs []provider.Message) {
	s.mu.Lock()
	s.Messages = msgs
	s.Updated = time.Now()
	s.mu.Unlock()
}

// Steer enqueues a message for the in-flight turn to pick up at its next
// round boundary. Safe to call from any goroutine.
func (s *Session) Steer(text string) {
	s.Queue.Push(text)
}

// Cancel aborts whichever turn is currently running on this session, if
// any. The abort token is single-use: a fresh one is installed at the
// start of every RunTask call.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) installCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}
