// Package tracker turns live symptom log snapshots into cycle predictions.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/observability"
)

// State is the ephemeral prediction view held for the active session.
type State struct {
	// UID is the user the state belongs to; "" after sign-out.
	UID       string
	Result    *domain.PredictionResult
	Err       error
	Tag       uint64
	UpdatedAt time.Time
}

// Option configures optional behaviour for the Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides the wall clock used for "today".
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithLocation sets the zone whose calendar date counts as "today".
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		o.loc = loc
	}
}

// WithListener registers fn to be called after every applied state change.
// Listeners run in apply order and must not call Apply or Reset.
func WithListener(fn func(State)) Option {
	return func(o *Orchestrator) {
		o.listeners = append(o.listeners, fn)
	}
}

// Orchestrator owns the PredictionResult for one session. Completions are
// tagged in snapshot order and only the newest tag may overwrite state.
type Orchestrator struct {
	profiles  domain.ProfileStore
	predictor domain.Predictor
	now       func() time.Time
	loc       *time.Location
	logger    *zap.Logger
	listeners []func(State)

	notifyMu sync.Mutex
	mu       sync.Mutex
	issued   uint64
	applied  uint64
	state    State
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(profiles domain.ProfileStore, predictor domain.Predictor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		profiles:  profiles,
		predictor: predictor,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Compute derives a prediction for uid from the given log entries. It does not
// touch the held state.
func (o *Orchestrator) Compute(ctx context.Context, uid string, entries map[string]domain.SymptomLogEntry) (domain.PredictionResult, error) {
	profile, err := o.profiles.GetProfile(ctx, uid)
	if err != nil {
		observability.RecordPrediction(observability.OutcomeError)
		return domain.PredictionResult{}, fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		observability.RecordPrediction(observability.OutcomeProfileMissing)
		return domain.PredictionResult{}, domain.ErrProfileMissing
	}

	cycleLength, ok := profile.CycleLength.PositiveInt()
	if !ok {
		observability.RecordPrediction(observability.OutcomeInvalidCycle)
		return domain.PredictionResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidCycleLength, string(profile.CycleLength))
	}

	ref := domain.LastPeriodDate(entries, o.today())
	req := domain.PredictionRequest{
		LastPeriodDate:     domain.FormatDate(ref),
		AverageCycleLength: cycleLength,
	}

	start := time.Now()
	result, err := o.predictor.Predict(ctx, req)
	observability.ObservePredictionLatency(time.Since(start))
	if err != nil {
		observability.RecordPrediction(observability.OutcomeUnavailable)
		if !errors.Is(err, domain.ErrPredictionServiceUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrPredictionServiceUnavailable, err)
		}
		o.logger.Warn("prediction failed",
			zap.String("uid", uid),
			zap.String("last_period_date", req.LastPeriodDate),
			zap.Error(err))
		return domain.PredictionResult{}, err
	}

	observability.RecordPrediction(observability.OutcomeSuccess)
	o.logger.Debug("prediction computed",
		zap.String("uid", uid),
		zap.String("last_period_date", req.LastPeriodDate),
		zap.Int("cycle_length", cycleLength))
	return result, nil
}

// Issue reserves the tag for the next snapshot. Tags must be issued in
// snapshot delivery order.
func (o *Orchestrator) Issue() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.issued++
	return o.issued
}

// Apply records the outcome of the computation tagged tag, run for uid.
// Outcomes older than the last applied tag are discarded and Apply returns false.
//
// Service failures keep the last good result alongside the error. Validation
// failures clear it.
func (o *Orchestrator) Apply(tag uint64, uid string, result domain.PredictionResult, err error) bool {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	if tag <= o.applied || tag > o.issued {
		o.mu.Unlock()
		observability.RecordStaleCompletion()
		o.logger.Debug("discarding stale prediction", zap.Uint64("tag", tag))
		return false
	}
	o.applied = tag

	next := State{UID: uid, Tag: tag, UpdatedAt: o.now(), Err: err}
	if o.state.UID == uid {
		next.Result = o.state.Result
	}
	switch {
	case err == nil:
		r := result
		next.Result = &r
	case errors.Is(err, domain.ErrProfileMissing), errors.Is(err, domain.ErrInvalidCycleLength):
		next.Result = nil
	}
	o.state = next
	o.mu.Unlock()

	o.notify(next)
	return true
}

// Run issues a tag, computes and applies in one call.
func (o *Orchestrator) Run(ctx context.Context, uid string, entries map[string]domain.SymptomLogEntry) State {
	tag := o.Issue()
	result, err := o.Compute(ctx, uid, entries)
	o.Apply(tag, uid, result, err)
	return o.State()
}

// Reset discards the held state, invalidates every in-flight tag and hands the
// empty state to uid.
func (o *Orchestrator) Reset(uid string) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	o.applied = o.issued
	o.state = State{UID: uid, Tag: o.issued, UpdatedAt: o.now()}
	next := o.state
	o.mu.Unlock()

	o.notify(next)
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.state
	if out.Result != nil {
		r := *out.Result
		out.Result = &r
	}
	return out
}

func (o *Orchestrator) today() time.Time {
	now := o.now()
	if o.loc != nil {
		now = now.In(o.loc)
	}
	return now
}

func (o *Orchestrator) notify(state State) {
	for _, fn := range o.listeners {
		s := state
		if s.Result != nil {
			r := *s.Result
			s.Result = &r
		}
		fn(s)
	}
}
