package server

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/h2co3/sparkling/stdlib"
	"github.com/h2co3/sparkling/vm"
)

// Session is a workspace with its own VM. Globals defined by one Execute
// stay visible to later ones in the same session.
type Session struct {
	ID     string
	Name   string
	worker *VMWorker

	// output collects print/println; only touched on the worker goroutine.
	output bytes.Buffer
}

// Worker returns the session's VM worker.
func (s *Session) Worker() *VMWorker { return s.worker }

// takeOutput returns and clears the captured output. Must be called on the
// worker goroutine.
func (s *Session) takeOutput() string {
	out := s.output.String()
	s.output.Reset()
	return out
}

// SessionStore manages workspace sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	handles  *HandleStore
	config   vm.Config
}

// NewSessionStore creates a new session store. Session VMs are created
// with cfg.
func NewSessionStore(handles *HandleStore, cfg vm.Config) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		handles:  handles,
		config:   cfg,
	}
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(name string) (*Session, error) {
	session := &Session{
		ID:   uuid.NewString(),
		Name: name,
	}
	machine := vm.NewVMWithConfig(s.config)
	if err := stdlib.Load(machine, &session.output); err != nil {
		machine.Close()
		return nil, fmt.Errorf("loading runtime library: %w", err)
	}
	session.worker = NewVMWorker(machine)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Infof("created session %s %q", session.ID, name)
	return session, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Destroy removes a session, closes its VM and releases all its handles.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return false
	}
	closeWorker(session.worker)
	s.handles.ReleaseSession(id)
	log.Infof("destroyed session %s", id)
	return true
}

// DestroyAll destroys every session.
func (s *SessionStore) DestroyAll() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Destroy(id)
	}
}

// closeWorker closes the worker's VM on its own goroutine, then stops it.
func closeWorker(w *VMWorker) {
	_, _ = w.Do(func(v *vm.VM) interface{} {
		v.Close()
		return nil
	})
	w.Stop()
}
