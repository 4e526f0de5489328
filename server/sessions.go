package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/wang/vm"
)

var (
	errWorkerStopped  = errors.New("session worker stopped")
	errSessionRunning = errors.New("session is running")
)

// Session is one interpreter owned by the server, addressed by id.
type Session struct {
	ID      string
	Name    string
	Created time.Time

	worker *VMWorker

	mu       sync.Mutex
	done     chan struct{}
	lastUsed time.Time
}

func newSession(name string, interp *vm.Interpreter) *Session {
	now := time.Now()
	return &Session{
		ID:       uuid.NewString(),
		Name:     name,
		Created:  now,
		worker:   NewVMWorker(interp),
		lastUsed: now,
	}
}

// Interpreter returns the session's interpreter.
func (s *Session) Interpreter() *vm.Interpreter {
	return s.worker.Interpreter()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// running reports whether a run is in flight.
func (s *Session) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// start launches fn on the worker and returns without waiting for it.
func (s *Session) start(fn func(*vm.Interpreter) (any, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			return errSessionRunning
		}
	}
	done := make(chan struct{})
	s.done = done
	s.lastUsed = time.Now()
	go func() {
		defer close(done)
		_, err := s.worker.Do(fn)
		if err != nil && !errors.Is(err, vm.ErrPaused) {
			log.Debugf("session %s: %v", s.ID, err)
		}
	}()
	return nil
}

// wait blocks until the current run, if any, has finished.
func (s *Session) wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) info() SessionInfo {
	st := s.Interpreter().ExecutionState()
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:         s.ID,
		Name:       s.Name,
		Phase:      st.Phase,
		Created:    s.Created,
		LastUsed:   s.lastUsed,
		Operations: st.Operations,
	}
}

func (s *Session) close() {
	if s.running() {
		s.Interpreter().Abort()
		s.wait(context.Background())
	}
	s.worker.Stop()
}

// SessionStore manages sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	options  []vm.Option
}

// NewSessionStore creates a session store. New sessions get interpreters
// built with opts.
func NewSessionStore(opts ...vm.Option) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		options:  opts,
	}
}

// Options returns the interpreter options of the store.
func (s *SessionStore) Options() []vm.Option {
	return s.options
}

// Create creates a new session with a fresh interpreter.
func (s *SessionStore) Create(name string) *Session {
	return s.Adopt(name, vm.New(s.options...))
}

// Adopt creates a session around an existing interpreter, such as one
// restored from a snapshot.
func (s *SessionStore) Adopt(name string, interp *vm.Interpreter) *Session {
	session := newSession(name, interp)

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Infof("session %s created", session.ID)
	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if ok {
		session.touch()
	}
	return session, ok
}

// List returns all sessions, oldest first.
func (s *SessionStore) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// Destroy removes a session, aborting any run in flight.
func (s *SessionStore) Destroy(id string) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.close()
		log.Infof("session %s destroyed", id)
	}
}

// DestroyAll removes every session.
func (s *SessionStore) DestroyAll() {
	for _, session := range s.List() {
		s.Destroy(session.ID)
	}
}

// Sweep removes idle sessions that haven't been used within the TTL.
// Running sessions are kept.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, session := range s.List() {
		if session.running() {
			continue
		}
		session.mu.Lock()
		idle := session.lastUsed.Before(cutoff)
		session.mu.Unlock()
		if idle {
			s.Destroy(session.ID)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ttl); n > 0 {
					log.Debugf("swept %d idle sessions", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
