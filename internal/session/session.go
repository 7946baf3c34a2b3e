// Package session implements the Session Manager (spec §4.12): the
// per-WebSocket-session object tracking conversation identity, active
// user/room, a bounded audio-input buffer, and the follow-up context a
// turn needs to inherit from the one before it.
package session

import (
	"fmt"
	"sync"

	"github.com/ebongard/renfield/internal/agentrouter"
)

const defaultMaxAudioBufferSize = 10 * 1024 * 1024 // 10 MiB

// ErrAudioBufferFull is returned by AppendAudio when appending data
// would exceed max_audio_buffer_size.
var ErrAudioBufferFull = fmt.Errorf("session: audio buffer full")

// Session is one active WebSocket session's state.
type Session struct {
	ID             string
	ConversationID string
	UserID         string
	Room           string

	LastRAGSources []string
	LastAgentRole  agentrouter.Role

	mu            sync.Mutex // guards the conversation id, audio buffer and follow-up context
	turnMu        sync.Mutex // serializes turn processing within the session
	audio         []byte
	maxAudioBytes int
}

func newSession(id string, maxAudioBytes int) *Session {
	if maxAudioBytes <= 0 {
		maxAudioBytes = defaultMaxAudioBufferSize
	}
	return &Session{ID: id, maxAudioBytes: maxAudioBytes}
}

// EnsureConversation lazily assigns a conversation id on first turn and
// returns it; later calls return the same stable id (spec §4.12
// "created lazily on first turn; remains stable for the session's
// lifetime").
func (s *Session) EnsureConversation(newID func() string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConversationID == "" {
		s.ConversationID = newID()
	}
	return s.ConversationID
}

// AppendAudio appends chunk to the session's input buffer, rejecting
// it if doing so would exceed max_audio_buffer_size.
func (s *Session) AppendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.audio)+len(chunk) > s.maxAudioBytes {
		return ErrAudioBufferFull
	}
	s.audio = append(s.audio, chunk...)
	return nil
}

// ResetAudio clears the input buffer, e.g. after a wake-word session ends.
func (s *Session) ResetAudio() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = nil
}

// Audio returns a copy of the currently buffered audio.
func (s *Session) Audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// SetFollowUpContext records the last turn's RAG sources and agent
// role so a follow-up message can inherit them.
func (s *Session) SetFollowUpContext(ragSources []string, role agentrouter.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastRAGSources = ragSources
	s.LastAgentRole = role
}

// FollowUpContext returns the last turn's RAG sources and agent role.
func (s *Session) FollowUpContext() ([]string, agentrouter.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastRAGSources, s.LastAgentRole
}

// RunTurn serializes turn processing within the session: only one
// turn runs at a time, and a concurrent turn blocks until the prior
// one finishes rather than running interleaved (spec §4.12 "a mutex
// that serializes turn processing within the session").
func (s *Session) RunTurn(fn func() error) error {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return fn()
}
