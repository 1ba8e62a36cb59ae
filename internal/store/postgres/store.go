// Package postgres stores profiles and symptom logs as JSONB documents and
// streams changes through LISTEN/NOTIFY.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/events"
	"example.com/vedabloom/internal/outbox"
)

const (
	logChannel     = "symptom_logs"
	profileChannel = "profiles"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithOutbox toggles recording change events in the outbox table.
func WithOutbox(enabled bool) Option {
	return func(s *Store) {
		s.outbox = enabled
	}
}

// Store implements domain.ProfileStore and domain.LogStore on Postgres.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	outbox bool
	now    func() time.Time
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		logger: zap.NewNop(),
		outbox: true,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetProfile implements domain.ProfileStore.
func (s *Store) GetProfile(ctx context.Context, uid string) (*domain.UserProfile, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM profiles WHERE uid = $1`, uid).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	var profile domain.UserProfile
	if err := json.Unmarshal(doc, &profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", uid, err)
	}
	profile.UID = uid
	return &profile, nil
}

// PutProfile implements domain.ProfileStore. The stored document is replaced
// in full.
func (s *Store) PutProfile(ctx context.Context, uid string, profile domain.UserProfile) (err error) {
	profile.UID = uid
	doc, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("%w: encode profile: %v", domain.ErrStoreWriteFailed, err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`INSERT INTO profiles (uid, doc) VALUES ($1, $2)
         ON CONFLICT (uid) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`,
		uid, doc,
	); err != nil {
		return fmt.Errorf("%w: put profile: %v", domain.ErrStoreWriteFailed, err)
	}

	if s.outbox {
		var cycleLength *int
		if n, ok := profile.CycleLength.PositiveInt(); ok {
			cycleLength = &n
		}
		payload := events.NewProfileReplaced(uid, string(domain.ClassifyAgeValue(profile.Age)), cycleLength, s.now())
		if err = outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: events.AggregateProfile,
			AggregateID:   uid,
			EventType:     events.TypeProfileReplaced,
			Topic:         events.TopicProfiles,
			PartitionKey:  uid,
			DedupeKey:     payload.EventID,
			Payload:       payload,
		}); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
		}
	}

	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, profileChannel, uid); err != nil {
		return fmt.Errorf("%w: notify: %v", domain.ErrStoreWriteFailed, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit profile: %v", domain.ErrStoreWriteFailed, err)
	}
	return nil
}

// GetAllLogs implements domain.LogStore.
func (s *Store) GetAllLogs(ctx context.Context, uid string) (map[string]domain.SymptomLogEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT date_key, doc FROM symptom_logs WHERE uid = $1`, uid)
	if err != nil {
		return nil, fmt.Errorf("list symptom logs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.SymptomLogEntry)
	for rows.Next() {
		var (
			key string
			doc []byte
		)
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, fmt.Errorf("scan symptom log: %w", err)
		}
		var entry domain.SymptomLogEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			s.logger.Warn("skipping undecodable symptom log", zap.String("uid", uid), zap.String("date", key), zap.Error(err))
			continue
		}
		out[key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list symptom logs: %w", err)
	}
	return out, nil
}

// MergeLog implements domain.LogStore. Only the fields set in patch are
// written; the rest of the stored entry is preserved.
func (s *Store) MergeLog(ctx context.Context, uid, dateKey string, patch domain.LogPatch) (err error) {
	if _, err := domain.ParseDateKey(dateKey); err != nil {
		return err
	}

	fields := make(map[string]any, 2)
	names := make([]string, 0, 2)
	if patch.Mood != nil {
		fields["mood"] = *patch.Mood
		names = append(names, "mood")
	}
	if patch.Symptoms != nil {
		symptoms := *patch.Symptoms
		if symptoms == nil {
			symptoms = []string{}
		}
		fields["symptoms"] = symptoms
		names = append(names, "symptoms")
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: encode patch: %v", domain.ErrStoreWriteFailed, err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`INSERT INTO symptom_logs (uid, date_key, doc) VALUES ($1, $2, $3)
         ON CONFLICT (uid, date_key) DO UPDATE SET doc = symptom_logs.doc || EXCLUDED.doc, updated_at = NOW()`,
		uid, dateKey, doc,
	); err != nil {
		return fmt.Errorf("%w: merge symptom log: %v", domain.ErrStoreWriteFailed, err)
	}

	if s.outbox {
		payload := events.NewSymptomLogMerged(uid, dateKey, names, s.now())
		if err = outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: events.AggregateSymptomLog,
			AggregateID:   uid + ":" + dateKey,
			EventType:     events.TypeSymptomLogMerged,
			Topic:         events.TopicSymptomLogs,
			PartitionKey:  uid,
			DedupeKey:     payload.EventID,
			Payload:       payload,
		}); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreWriteFailed, err)
		}
	}

	// Delivered to listeners when the transaction commits.
	if _, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, logChannel, uid); err != nil {
		return fmt.Errorf("%w: notify: %v", domain.ErrStoreWriteFailed, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit symptom log: %v", domain.ErrStoreWriteFailed, err)
	}
	return nil
}

// SubscribeLogs implements domain.LogStore. Each subscription holds one
// dedicated connection listening on the change channel; the initial snapshot
// is delivered before SubscribeLogs returns.
func (s *Store) SubscribeLogs(ctx context.Context, uid string, fn func(domain.LogSnapshot)) (func(), error) {
	conn, err := s.acquireListener(ctx, logChannel)
	if err != nil {
		return nil, err
	}

	initial, err := s.GetAllLogs(ctx, uid)
	if err != nil {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
		conn.Release()
		return nil, err
	}
	fn(domain.LogSnapshot{UID: uid, Entries: initial})

	return s.startListener(ctx, conn, logChannel, uid, func(ctx context.Context) {
		entries, err := s.GetAllLogs(ctx, uid)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("reload symptom logs failed", zap.String("uid", uid), zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		fn(domain.LogSnapshot{UID: uid, Entries: entries})
	}), nil
}

// SubscribeProfile implements domain.ProfileFeed on a dedicated listening
// connection.
func (s *Store) SubscribeProfile(ctx context.Context, uid string, fn func()) (func(), error) {
	conn, err := s.acquireListener(ctx, profileChannel)
	if err != nil {
		return nil, err
	}
	return s.startListener(ctx, conn, profileChannel, uid, func(context.Context) { fn() }), nil
}

func (s *Store) acquireListener(ctx context.Context, channel string) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return conn, nil
}

// startListener runs onNotify for every notification on channel carrying uid
// until the returned function is called.
func (s *Store) startListener(ctx context.Context, conn *pgxpool.Conn, channel, uid string, onNotify func(context.Context)) func() {
	subCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go s.listen(subCtx, conn, channel, uid, onNotify, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (s *Store) listen(ctx context.Context, conn *pgxpool.Conn, channel, uid string, onNotify func(context.Context), done chan struct{}) {
	defer close(done)
	// A connection interrupted mid-wait is not returned to the pool.
	defer func() {
		raw := conn.Hijack()
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = raw.Close(closeCtx)
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("subscription ended", zap.String("channel", channel), zap.String("uid", uid), zap.Error(err))
			}
			return
		}
		if n.Payload != uid {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		onNotify(ctx)
	}
}
