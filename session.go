package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transcript roles. Errors get their own role so the page can style them;
// successful exchanges alternate user/assistant.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
)

// ChatMessage is one transcript entry. The transcript lives only in process
// memory; the remote thread is the durable copy.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one browser chat session. threadID stays empty until the first
// send, so a session that never sends never touches the remote API.
//
// mu serializes sends only. The transcript and thread id have their own
// lock, and lastActive is atomic, so reads (and the store's sweep) never
// wait behind a remote exchange that is still in flight.
type Session struct {
	ID string

	mu sync.Mutex // held across the remote exchange

	smu        sync.Mutex // guards transcript and threadID
	threadID   string
	transcript []ChatMessage

	lastActive atomic.Int64 // unix nanoseconds
}

// Send forwards userText to the assistant and records both sides of the
// exchange. The remote thread is created on the first call and reused after
// that. A remote failure is appended as an error entry and returned; the
// session stays usable so the user can just send again.
func (s *Session) Send(ctx context.Context, assistant *AssistantClient, userText string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	s.append(RoleUser, userText)

	threadID := s.ThreadID()
	if threadID == "" {
		created, err := assistant.CreateThread(ctx)
		if err != nil {
			s.append(RoleError, err.Error())
			return "", err
		}
		threadID = created
		s.setThreadID(created)
	}

	reply, runID, err := assistant.Send(ctx, threadID, userText)
	LogExchange(s.ID, threadID, runID, userText, reply, err)
	if err != nil {
		s.append(RoleError, err.Error())
		return "", err
	}

	s.append(RoleAssistant, reply)
	return reply, nil
}

// Transcript returns a copy of the transcript in send/receive order. It
// never waits on an in-flight send, so a pending exchange shows its user
// entry immediately.
func (s *Session) Transcript() []ChatMessage {
	s.smu.Lock()
	defer s.smu.Unlock()
	out := make([]ChatMessage, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// ThreadID reports the remote thread handle, empty before the first send.
func (s *Session) ThreadID() string {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.threadID
}

func (s *Session) setThreadID(id string) {
	s.smu.Lock()
	s.threadID = id
	s.smu.Unlock()
}

func (s *Session) append(role, content string) {
	s.smu.Lock()
	defer s.smu.Unlock()
	s.transcript = append(s.transcript, ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) idleSince(cutoff time.Time) bool {
	return time.Unix(0, s.lastActive.Load()).Before(cutoff)
}

// SessionStore keeps live sessions keyed by id and expires idle ones.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: map[string]*Session{},
		ttl:      ttl,
	}
}

func (st *SessionStore) Create() *Session {
	s := &Session{ID: uuid.New().String()}
	s.touch()
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	return s
}

func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %s", id)
	}
	return s, nil
}

func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep drops sessions idle past the TTL and reports how many were removed.
// Idleness is an atomic read, so the sweep never waits on session mutexes
// held across remote exchanges.
func (st *SessionStore) Sweep(now time.Time) int {
	cutoff := now.Add(-st.ttl)
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		if s.idleSince(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired sessions in the background until ctx ends.
func (st *SessionStore) StartJanitor(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := st.Sweep(now); n > 0 {
					log.Printf("[Session] Expired %d idle session(s)", n)
				}
			}
		}
	}()
}
