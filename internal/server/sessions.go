package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/scrumvoice/scrumvoice/internal/bot"
	"github.com/scrumvoice/scrumvoice/internal/tracker"
)

// sessionTTL is how long an idle conversation is kept before pruning.
const sessionTTL = 30 * time.Minute

// Session is one user's conversation. The mutex serializes engine access;
// the bot engine itself is not concurrency-safe.
type Session struct {
	ID     string
	Engine *bot.Engine

	mu         sync.Mutex
	lastActive time.Time
}

// WithEngine runs fn while holding the session lock and refreshes the idle
// timer.
func (s *Session) WithEngine(fn func(*bot.Engine)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
	fn(s.Engine)
}

// SessionManager creates and looks up conversation sessions.
type SessionManager struct {
	trackerClient tracker.Client
	projectKey    string
	defaultUser   string

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager builds a manager whose sessions talk to the given
// tracker.
func NewSessionManager(tc tracker.Client, projectKey, defaultUser string) *SessionManager {
	return &SessionManager{
		trackerClient: tc,
		projectKey:    projectKey,
		defaultUser:   defaultUser,
		sessions:      make(map[string]*Session),
	}
}

// Create starts a new session for user (the tracker identity whose tasks
// the bot reads). An empty user falls back to the configured default.
func (m *SessionManager) Create(user string) *Session {
	if user == "" {
		user = m.defaultUser
	}
	s := &Session{
		ID: newSessionID(),
		Engine: bot.New(bot.Config{
			Tracker:    m.trackerClient,
			ProjectKey: m.projectKey,
			User:       user,
		}),
		lastActive: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.sessions[s.ID] = s
	return s
}

// Get returns the session with the given id.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}
	return s, nil
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *SessionManager) pruneLocked() {
	cutoff := time.Now().Add(-sessionTTL)
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActive.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
		}
	}
}

func newSessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf[:])
}
