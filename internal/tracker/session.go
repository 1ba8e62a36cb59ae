package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/observability"
)

// ErrSessionClosed is returned when starting a session that was already closed.
var ErrSessionClosed = errors.New("session closed")

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger overrides the session logger.
func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithProfileFeed recomputes the prediction against the last delivered log
// snapshot whenever the followed user's profile is replaced.
func WithProfileFeed(feed domain.ProfileFeed) SessionOption {
	return func(s *Session) {
		s.profiles = feed
	}
}

// Session follows the signed-in identity, keeps exactly one live log
// subscription for it and feeds every snapshot to the Orchestrator.
//
// On identity change the old subscription is torn down and the orchestrator
// reset before the new subscription is opened, so results computed for the
// previous user are never applied.
type Session struct {
	id         string
	identities domain.IdentitySource
	logs       domain.LogStore
	profiles   domain.ProfileFeed
	orch       *Orchestrator
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	uid           string
	unsubLogs     func()
	unsubProfile  func()
	unsubIdentity func()
	started       bool
	closed        bool

	generation atomic.Uint64
	inflight   sync.WaitGroup

	// snapMu orders tag issue between log snapshots and profile changes.
	snapMu sync.Mutex
	last   *deliveredSnapshot
}

type deliveredSnapshot struct {
	gen  uint64
	snap domain.LogSnapshot
}

// NewSession constructs a Session. Call Start to begin following identities.
func NewSession(identities domain.IdentitySource, logs domain.LogStore, orch *Orchestrator, opts ...SessionOption) *Session {
	s := &Session{
		id:         uuid.NewString(),
		identities: identities,
		logs:       logs,
		orch:       orch,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session_id", s.id))
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Start subscribes to identity changes. The current identity, if any, is
// picked up before Start returns.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	observability.SessionStarted()
	unsub := s.identities.OnIdentityChange(s.handleIdentity)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return ErrSessionClosed
	}
	s.unsubIdentity = unsub
	s.mu.Unlock()
	return nil
}

// UID returns the uid currently followed, or "" when signed out.
func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

// State returns the orchestrator state for the current identity.
func (s *Session) State() State {
	return s.orch.State()
}

// Wait blocks until every in-flight prediction has completed.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Close releases the identity and log subscriptions and waits for in-flight
// predictions to finish. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubIdentity := s.unsubIdentity
	s.unsubIdentity = nil
	started := s.started
	s.mu.Unlock()

	if unsubIdentity != nil {
		unsubIdentity()
	}

	s.mu.Lock()
	s.stopFeedsLocked()
	s.uid = ""
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.inflight.Wait()
	s.orch.Reset("")
	if started {
		observability.SessionEnded()
	}
	s.logger.Debug("session closed")
}

func (s *Session) handleIdentity(identity *domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	uid := ""
	if identity != nil {
		uid = identity.UID
	}
	if uid == s.uid && (uid == "" || s.unsubLogs != nil) {
		return
	}

	s.stopFeedsLocked()
	s.orch.Reset(uid)
	gen := s.generation.Add(1)
	s.uid = uid

	if uid == "" {
		s.logger.Info("identity cleared")
		return
	}

	s.logger.Info("identity changed", zap.String("uid", uid))
	if s.profiles != nil {
		unsub, err := s.profiles.SubscribeProfile(s.ctx, uid, s.onProfileChange(gen))
		if err != nil {
			s.failLocked(uid, fmt.Errorf("subscribe profile: %w", err))
			return
		}
		s.unsubProfile = unsub
	}
	unsub, err := s.logs.SubscribeLogs(s.ctx, uid, s.onSnapshot(gen))
	if err != nil {
		s.failLocked(uid, fmt.Errorf("subscribe symptom logs: %w", err))
		return
	}
	s.unsubLogs = unsub
}

// failLocked must be called with s.mu held.
func (s *Session) failLocked(uid string, err error) {
	s.logger.Error("subscription failed", zap.String("uid", uid), zap.Error(err))
	s.stopFeedsLocked()
	tag := s.orch.Issue()
	s.orch.Apply(tag, uid, domain.PredictionResult{}, err)
}

// stopFeedsLocked must be called with s.mu held.
func (s *Session) stopFeedsLocked() {
	if s.unsubProfile != nil {
		s.unsubProfile()
		s.unsubProfile = nil
	}
	if s.unsubLogs != nil {
		s.unsubLogs()
		s.unsubLogs = nil
	}
	s.generation.Add(1)
}

// onSnapshot runs on the store's delivery path and must not take s.mu.
func (s *Session) onSnapshot(gen uint64) func(domain.LogSnapshot) {
	return func(snap domain.LogSnapshot) {
		s.snapMu.Lock()
		if s.generation.Load() != gen {
			s.snapMu.Unlock()
			return
		}
		s.last = &deliveredSnapshot{gen: gen, snap: snap}
		tag := s.orch.Issue()
		s.snapMu.Unlock()

		s.compute(gen, tag, snap)
	}
}

// onProfileChange recomputes against the last snapshot of generation gen. A
// change seen before the first snapshot needs no recompute: that snapshot has
// not been issued yet and will read the new profile.
func (s *Session) onProfileChange(gen uint64) func() {
	return func() {
		s.snapMu.Lock()
		last := s.last
		if s.generation.Load() != gen || last == nil || last.gen != gen {
			s.snapMu.Unlock()
			return
		}
		tag := s.orch.Issue()
		s.snapMu.Unlock()

		s.compute(gen, tag, last.snap)
	}
}

func (s *Session) compute(gen, tag uint64, snap domain.LogSnapshot) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		result, err := s.orch.Compute(s.ctx, snap.UID, snap.Entries)
		if s.generation.Load() != gen {
			observability.RecordStaleCompletion()
			return
		}
		s.orch.Apply(tag, snap.UID, result, err)
	}()
}
