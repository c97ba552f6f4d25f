package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h2co3/sparkling/vm/dist"
)

// Program is a compiled program kept by the server under a handle.
type Program struct {
	ID        string
	Image     *dist.Image
	SessionID string
	Created   time.Time
	lastUsed  time.Time
}

// HandleStore maps opaque string IDs to compiled programs. Programs are
// plain word slices, so no VM state is pinned by a handle.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*Program
}

// NewHandleStore creates a new handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{
		handles: make(map[string]*Program),
	}
}

// Create registers an image and returns an opaque handle ID.
func (s *HandleStore) Create(img *dist.Image, sessionID string) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.handles[id] = &Program{
		ID:        id,
		Image:     img,
		SessionID: sessionID,
		Created:   now,
		lastUsed:  now,
	}
	return id
}

// Lookup retrieves the program for a handle.
func (s *HandleStore) Lookup(id string) (*Program, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	p.lastUsed = time.Now()
	return p, true
}

// Release removes a handle.
func (s *HandleStore) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, id)
}

// ReleaseSession releases all handles owned by a session.
func (s *HandleStore) ReleaseSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.handles {
		if p.SessionID == sessionID {
			delete(s.handles, id)
		}
	}
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, p := range s.handles {
		if p.lastUsed.Before(cutoff) {
			delete(s.handles, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("swept %d idle program handles", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
