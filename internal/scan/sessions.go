package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("scan session not found")

// CodeHandler receives the single fired code of an armed period. The session
// manager invokes it from the detector's dispatch goroutine; implementations
// typically resolve the code and record the outcome back onto the session.
type CodeHandler func(ctx context.Context, sessionID, code string)

// ManagerConfig wires the session registry.
type ManagerConfig struct {
	Cooldown   time.Duration
	SessionTTL time.Duration
	OnCode     CodeHandler
}

// Manager owns the live scan sessions, one detector each.
type Manager struct {
	cooldown   time.Duration
	sessionTTL time.Duration
	onCode     CodeHandler

	mu       sync.Mutex
	sessions map[string]*session

	done    chan struct{}
	stopOne sync.Once
}

type session struct {
	id       string
	detector *Detector

	mu        sync.Mutex
	lastCode  string
	result    any
	createdAt time.Time
	lastSeen  time.Time
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	LastCode  string    `json:"lastCode,omitempty"`
	Result    any       `json:"result,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewManager constructs the registry and starts its expiry janitor.
func NewManager(cfg ManagerConfig) *Manager {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	m := &Manager{
		cooldown:   cooldown,
		sessionTTL: ttl,
		onCode:     cfg.OnCode,
		sessions:   make(map[string]*session),
		done:       make(chan struct{}),
	}
	go m.janitor()
	return m
}

// StartSession configures a detector against the given device and registers
// it. A permission-denied device still yields a session so that the client
// can observe the Denied state; it just can never scan.
func (m *Manager) StartSession(ctx context.Context, device CaptureDevice) (Snapshot, error) {
	id := uuid.NewString()
	sess := &session{
		id:        id,
		createdAt: time.Now().UTC(),
		lastSeen:  time.Now().UTC(),
	}
	sess.detector = NewDetector(DetectorConfig{
		Device:   device,
		Cooldown: m.cooldown,
		OnCode: func(code string) {
			sess.mu.Lock()
			sess.lastCode = code
			sess.mu.Unlock()
			if m.onCode != nil {
				m.onCode(context.Background(), id, code)
			}
		},
		OnDenied: func() {
			slog.Info("scan session denied", "session_id", id)
		},
	})
	err := sess.detector.Configure(ctx)
	if err != nil && !errors.Is(err, ErrPermissionDenied) {
		sess.detector.Close()
		return Snapshot{}, err
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()
	return m.snapshot(sess), nil
}

// PushFrame feeds decoded symbols into a session's detector.
func (m *Manager) PushFrame(id string, symbols []Symbol) error {
	sess, ok := m.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.touch()
	sess.detector.HandleFrame(symbols)
	return nil
}

// ResetSession re-arms a fired session early.
func (m *Manager) ResetSession(id string) error {
	sess, ok := m.get(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.touch()
	sess.detector.Reset()
	return nil
}

// SetResult attaches the ingestion outcome of the last fired code.
func (m *Manager) SetResult(id string, result any) {
	sess, ok := m.get(id)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.result = result
	sess.mu.Unlock()
}

// GetSession returns the session snapshot.
func (m *Manager) GetSession(id string) (Snapshot, bool) {
	sess, ok := m.get(id)
	if !ok {
		return Snapshot{}, false
	}
	sess.touch()
	return m.snapshot(sess), true
}

// EndSession closes and removes a session.
func (m *Manager) EndSession(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.detector.Close()
	return nil
}

// Stop closes all sessions and halts the janitor.
func (m *Manager) Stop() {
	m.stopOne.Do(func() {
		close(m.done)
		m.mu.Lock()
		for id, sess := range m.sessions {
			sess.detector.Close()
			delete(m.sessions, id)
		}
		m.mu.Unlock()
	})
}

func (m *Manager) get(id string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

func (m *Manager) snapshot(sess *session) Snapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return Snapshot{
		ID:        sess.id,
		State:     sess.detector.State(),
		LastCode:  sess.lastCode,
		Result:    sess.result,
		CreatedAt: sess.createdAt,
	}
}

func (s *session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now().UTC()
	s.mu.Unlock()
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-m.sessionTTL)
			m.mu.Lock()
			for id, sess := range m.sessions {
				sess.mu.Lock()
				stale := sess.lastSeen.Before(cutoff)
				sess.mu.Unlock()
				if stale {
					sess.detector.Close()
					delete(m.sessions, id)
				}
			}
			m.mu.Unlock()
		}
	}
}
