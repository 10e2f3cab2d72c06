package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var ErrSessionClosed = errors.New("session closed")

// Session records everything sent to it. Block makes Send wait until
// Unblock is called or the send context is done.
type Session struct {
	id   string
	open atomic.Bool

	mu       sync.Mutex
	messages [][]byte
	blocked  chan struct{}
}

func NewSession() *Session {
	s := &Session{id: uuid.NewString()}
	s.open.Store(true)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) IsOpen() bool {
	return s.open.Load()
}

func (s *Session) Close() {
	s.open.Store(false)
}

func (s *Session) Block() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked == nil {
		s.blocked = make(chan struct{})
	}
}

func (s *Session) Unblock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocked != nil {
		close(s.blocked)
		s.blocked = nil
	}
}

func (s *Session) Send(ctx context.Context, msg []byte) error {
	s.mu.Lock()
	blocked := s.blocked
	s.mu.Unlock()
	if blocked != nil {
		select {
		case <-blocked:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !s.IsOpen() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *Session) Messages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte{}, s.messages...)
}

// Frames decodes every message as a JSON array.
func (s *Session) Frames() [][]json.RawMessage {
	frames := [][]json.RawMessage{}
	for _, msg := range s.Messages() {
		var frame []json.RawMessage
		if err := json.Unmarshal(msg, &frame); err != nil {
			panic(err)
		}
		frames = append(frames, frame)
	}
	return frames
}

// Count returns how many messages start with the given type, e.g. "EVENT".
func (s *Session) Count(messageType string) int {
	count := 0
	for _, frame := range s.Frames() {
		var t string
		if len(frame) > 0 && json.Unmarshal(frame[0], &t) == nil && t == messageType {
			count++
		}
	}
	return count
}
