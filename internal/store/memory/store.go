// Package memory provides an in-process document store for local development and tests.
package memory

import (
	"context"
	"sync"

	"example.com/vedabloom/internal/domain"
)

// Store keeps profiles and symptom logs in memory and fans out log snapshots
// and profile replacements to subscribers.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]domain.UserProfile
	logs     map[string]map[string]domain.SymptomLogEntry

	// notifyMu serializes writes with their notifications so every
	// subscriber observes changes in commit order. It also guards subs and
	// profileSubs.
	notifyMu    sync.Mutex
	subs        map[string]map[uint64]func(domain.LogSnapshot)
	profileSubs map[string]map[uint64]func()
	nextSub     uint64
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		profiles: make(map[string]domain.UserProfile),
		logs:     make(map[string]map[string]domain.SymptomLogEntry),
		subs:     make(map[string]map[uint64]func(domain.LogSnapshot)),

		profileSubs: make(map[string]map[uint64]func()),
	}
}

// GetProfile implements domain.ProfileStore.
func (s *Store) GetProfile(ctx context.Context, uid string) (*domain.UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[uid]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// PutProfile implements domain.ProfileStore. The previous document is replaced as a whole.
func (s *Store) PutProfile(ctx context.Context, uid string, profile domain.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	profile.UID = uid

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.profiles[uid] = profile
	s.mu.Unlock()

	for _, fn := range s.profileSubs[uid] {
		fn()
	}
	return nil
}

// SubscribeProfile implements domain.ProfileFeed.
func (s *Store) SubscribeProfile(ctx context.Context, uid string, fn func()) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.nextSub++
	id := s.nextSub
	if s.profileSubs[uid] == nil {
		s.profileSubs[uid] = make(map[uint64]func())
	}
	s.profileSubs[uid][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			defer s.notifyMu.Unlock()
			delete(s.profileSubs[uid], id)
			if len(s.profileSubs[uid]) == 0 {
				delete(s.profileSubs, uid)
			}
		})
	}, nil
}

// GetAllLogs implements domain.LogStore.
func (s *Store) GetAllLogs(ctx context.Context, uid string) (map[string]domain.SymptomLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneEntries(s.logs[uid]), nil
}

// MergeLog implements domain.LogStore with field-merge semantics.
func (s *Store) MergeLog(ctx context.Context, uid, dateKey string, patch domain.LogPatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := domain.ParseDateKey(dateKey); err != nil {
		return err
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	entries, ok := s.logs[uid]
	if !ok {
		entries = make(map[string]domain.SymptomLogEntry)
		s.logs[uid] = entries
	}
	entries[dateKey] = patch.Apply(entries[dateKey])
	s.mu.Unlock()

	s.notifyLocked(uid)
	return nil
}

// SubscribeLogs implements domain.LogStore. The initial snapshot is delivered
// before SubscribeLogs returns.
func (s *Store) SubscribeLogs(ctx context.Context, uid string, fn func(domain.LogSnapshot)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.nextSub++
	id := s.nextSub
	if s.subs[uid] == nil {
		s.subs[uid] = make(map[uint64]func(domain.LogSnapshot))
	}
	s.subs[uid][id] = fn
	fn(s.snapshot(uid))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			defer s.notifyMu.Unlock()
			delete(s.subs[uid], id)
			if len(s.subs[uid]) == 0 {
				delete(s.subs, uid)
			}
		})
	}, nil
}

// Subscribers reports the number of live log subscriptions for uid.
func (s *Store) Subscribers(uid string) int {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return len(s.subs[uid])
}

// ProfileSubscribers reports the number of live profile subscriptions for uid.
func (s *Store) ProfileSubscribers(uid string) int {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return len(s.profileSubs[uid])
}

func (s *Store) notifyLocked(uid string) {
	for _, fn := range s.subs[uid] {
		fn(s.snapshot(uid))
	}
}

func (s *Store) snapshot(uid string) domain.LogSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.LogSnapshot{UID: uid, Entries: domain.CloneEntries(s.logs[uid])}
}
