package web

import (
	"context"
	"errors"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	log "github.com/sirupsen/logrus"

	"todo-app/ui"
)

// Session is one browser's controller together with its pending flash
// message and the event streams watching it.
type Session struct {
	ID   string
	Ctrl *ui.Controller

	mu       sync.Mutex
	flash    string
	lastSeen time.Time
	streams  int

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
	stop   chan struct{}
}

func (s *Session) setFlash(msg string) {
	s.mu.Lock()
	s.flash = msg
	s.mu.Unlock()
}

func (s *Session) takeFlash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.flash
	s.flash = ""
	return msg
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams > 0 {
		return 0
	}
	return now.Sub(s.lastSeen)
}

func (s *Session) streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams > 0
}

// subscribe registers a stream. Every controller change signals all streams.
func (s *Session) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()
	return ch
}

func (s *Session) unsubscribe(ch chan struct{}, now time.Time) {
	s.subsMu.Lock()
	delete(s.subs, ch)
	s.subsMu.Unlock()
	s.mu.Lock()
	s.streams--
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) fanOut() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.Ctrl.Changes():
		}
		s.subsMu.Lock()
		for ch := range s.subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		s.subsMu.Unlock()
	}
}

// ErrTooManySessions is returned by Open when the registry is full and every
// session has an open event stream.
var ErrTooManySessions = errors.New("too many live sessions")

// DefaultMaxSessions bounds the registry when no limit is configured.
const DefaultMaxSessions = 1000

// Sessions owns the mounted controllers of all browser sessions. A session
// idle for longer than the TTL is unmounted by the janitor. When the registry
// is full, opening a session evicts the one idle the longest.
type Sessions struct {
	svc    ui.Service
	ttl    time.Duration
	max    int
	logger *log.Logger
	now    func() time.Time

	mu   sync.Mutex
	byID map[string]*Session
}

// SessionsOption configures a Sessions registry.
type SessionsOption func(*Sessions)

// WithMaxSessions caps the number of live sessions.
func WithMaxSessions(n int) SessionsOption {
	return func(s *Sessions) {
		if n > 0 {
			s.max = n
		}
	}
}

// NewSessions creates an empty registry. A non-positive ttl keeps sessions
// until they are evicted or Close is called. svc is best a todo.Hub so all
// sessions share one live subscription.
func NewSessions(svc ui.Service, ttl time.Duration, logger *log.Logger, opts ...SessionsOption) *Sessions {
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &Sessions{
		svc:    svc,
		ttl:    ttl,
		max:    DefaultMaxSessions,
		logger: logger,
		now:    time.Now,
		byID:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the live session with the given id.
func (s *Sessions) Get(id string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.byID[id]
	s.mu.Unlock()
	if ok {
		sess.touch(s.now())
	}
	return sess, ok
}

// Open creates and mounts a new session. Its feed lives until the session
// expires, independent of the request that opened it.
func (s *Sessions) Open() (*Session, error) {
	if err := s.makeRoom(); err != nil {
		return nil, err
	}
	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	ctrl := ui.NewController(s.svc, s.logger)
	if err := ctrl.Mount(context.Background()); err != nil {
		return nil, err
	}
	sess := &Session{
		ID:       id,
		Ctrl:     ctrl,
		lastSeen: s.now(),
		subs:     make(map[chan struct{}]struct{}),
		stop:     make(chan struct{}),
	}
	go sess.fanOut()

	s.mu.Lock()
	s.byID[id] = sess
	n := len(s.byID)
	s.mu.Unlock()
	s.logger.WithFields(log.Fields{"session": id, "sessions": n}).Debug("session opened")
	return sess, nil
}

// makeRoom evicts the longest idle session without streams when the
// registry is full.
func (s *Sessions) makeRoom() error {
	now := s.now()
	s.mu.Lock()
	if len(s.byID) < s.max {
		s.mu.Unlock()
		return nil
	}
	var (
		oldest *Session
		idle   time.Duration
	)
	for _, sess := range s.byID {
		if sess.streaming() {
			continue
		}
		if d := sess.idleSince(now); oldest == nil || d > idle {
			oldest, idle = sess, d
		}
	}
	if oldest == nil {
		s.mu.Unlock()
		return ErrTooManySessions
	}
	delete(s.byID, oldest.ID)
	s.mu.Unlock()

	s.close(oldest)
	s.logger.WithFields(log.Fields{"session": oldest.ID, "idle": idle}).Debug("session evicted")
	return nil
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Sweep unmounts sessions idle for longer than the TTL and returns how many
// were removed.
func (s *Sessions) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.byID {
		if sess.idleSince(now) > s.ttl {
			expired = append(expired, sess)
			delete(s.byID, id)
		}
	}
	s.mu.Unlock()
	for _, sess := range expired {
		s.close(sess)
	}
	return len(expired)
}

// Run sweeps expired sessions until ctx is done.
func (s *Sessions) Run(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.WithField("expired", n).Debug("sessions swept")
			}
		}
	}
}

// Close unmounts every session.
func (s *Sessions) Close() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.byID))
	for id, sess := range s.byID {
		all = append(all, sess)
		delete(s.byID, id)
	}
	s.mu.Unlock()
	for _, sess := range all {
		s.close(sess)
	}
}

func (s *Sessions) close(sess *Session) {
	close(sess.stop)
	sess.Ctrl.Unmount()
	s.logger.WithField("session", sess.ID).Debug("session closed")
}
