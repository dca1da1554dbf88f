package profile

import "sync"

// Session is the per-conversation state: the profile that profile-scoped
// commands act on.
type Session struct {
	ID string

	mu     sync.Mutex
	active string
}

// Active returns the active profile name.
func (s *Session) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.active != ""
}

// SetActive makes name the active profile.
func (s *Session) SetActive(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = name
}

// ClearIf drops the active profile when it is name.
func (s *Session) ClearIf(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == name {
		s.active = ""
	}
}

// Sessions holds one Session per conversation.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Get returns the session of a conversation, creating it on first use.
func (s *Sessions) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id}
		s.sessions[id] = sess
	}
	return sess
}

// Forget clears name from every session, after the profile is removed.
func (s *Sessions) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.ClearIf(name)
	}
}
