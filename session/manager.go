package session

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"SketchDetect/canvas"
	iface "SketchDetect/interface"
	"SketchDetect/logger"
	"SketchDetect/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBusy            = errors.New("a detection is already running for this session")
)

// Detector is the part of the inference client a session needs.
type Detector interface {
	CheckStatus(ctx context.Context) iface.Status
	Detect(ctx context.Context, image string) (iface.Outcome, error)
}

// StatusObserver is told about every finished status check.
type StatusObserver interface {
	ObserveStatus(st iface.Status)
}

type Options struct {
	Width         int
	Height        int
	BrushSize     int
	JPEGQuality   float64
	IdleTimeout   time.Duration
	DebugLogLines int
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = canvas.DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = canvas.DefaultHeight
	}
	if o.BrushSize <= 0 {
		o.BrushSize = canvas.DefaultBrushSize
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 1 {
		o.JPEGQuality = 0.8
	}
	if o.DebugLogLines <= 0 {
		o.DebugLogLines = 500
	}
	return o
}

type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	detector  Detector
	observers []StatusObserver
	opts      Options
	now       func() time.Time
}

func NewManager(detector Detector, opts Options, observers ...StatusObserver) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		detector:  detector,
		observers: observers,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Create allocates a fresh session with a white surface. The initial status
// check is left to the caller.
func (m *Manager) Create() *Session {
	s := &Session{
		id:          uuid.NewString(),
		mgr:         m,
		surface:     canvas.New(m.opts.Width, m.opts.Height, m.opts.BrushSize),
		status:      iface.Status{Kind: iface.StatusChecking},
		lastActive:  m.now(),
		cancelTimer: make(chan struct{}),
	}
	s.resetResultsLocked()
	s.logLocked("canvas initialized")

	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()
	monitor.SessionsActive.Set(float64(n))
	logger.Log().Info("session created", zap.String("sessionID", s.id))

	if m.opts.IdleTimeout > 0 {
		m.startIdleMonitor(s)
	}
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Release drops the session and runs its close hooks. It reports false for
// unknown ids.
func (m *Manager) Release(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return false
	}
	monitor.SessionsActive.Set(float64(n))

	s.cancelOnce.Do(func() {
		close(s.cancelTimer)
	})
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.released = true
		closers := s.closers
		s.closers = nil
		s.mu.Unlock()
		for _, c := range closers {
			c()
		}
	})
	logger.Log().Info("session released", zap.String("sessionID", id))
	return true
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close releases every session.
func (m *Manager) Close() {
	m.mu.RLock()
	all := maps.Clone(m.sessions)
	m.mu.RUnlock()
	for id := range all {
		m.Release(id)
	}
}

func (m *Manager) startIdleMonitor(s *Session) {
	interval := min(max(m.opts.IdleTimeout/10, 10*time.Millisecond), time.Second)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.cancelTimer:
				return
			case <-ticker.C:
				if s.idleFor() > m.opts.IdleTimeout {
					logger.Log().Info("session idle, releasing", zap.String("sessionID", s.id))
					m.Release(s.id)
					return
				}
			}
		}
	}()
}

func (m *Manager) notify(st iface.Status) {
	monitor.ObserveStatus(st)
	for _, o := range m.observers {
		o.ObserveStatus(st)
	}
}
