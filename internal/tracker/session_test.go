package tracker

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"example.com/vedabloom/internal/auth"
	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/store/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoPredictor answers with the request date as the next period date and
// holds any request whose date is listed in gates until that gate closes.
type echoPredictor struct {
	gates map[string]chan struct{}
}

func (p *echoPredictor) Predict(ctx context.Context, req domain.PredictionRequest) (domain.PredictionResult, error) {
	if gate, ok := p.gates[req.LastPeriodDate]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.PredictionResult{}, ctx.Err()
		}
	}
	return domain.PredictionResult{
		NextPeriodDate:     req.LastPeriodDate,
		OvulationDate:      req.LastPeriodDate,
		FertileWindowStart: req.LastPeriodDate,
	}, nil
}

func mood(m string) domain.LogPatch {
	return domain.LogPatch{Mood: &m}
}

func newTestSession(t *testing.T, predictor domain.Predictor) (*Session, *auth.Hub, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	hub := auth.NewHub()
	orch := NewOrchestrator(store, predictor, WithClock(fixedClock))
	session := NewSession(hub, store, orch, WithProfileFeed(store))
	require.NoError(t, session.Start(context.Background()))
	t.Cleanup(session.Close)
	return session, hub, store
}

func nextPeriod(s *Session) string {
	state := s.State()
	if state.Result == nil {
		return ""
	}
	return state.Result.NextPeriodDate
}

func TestSessionPredictsOnEverySnapshot(t *testing.T) {
	session, hub, store := newTestSession(t, &echoPredictor{})
	ctx := context.Background()
	seedProfile(t, store, "u1", "28")

	hub.SetIdentity(domain.Identity{UID: "u1"})
	session.Wait()
	require.Equal(t, "u1", session.UID())
	require.Equal(t, "2024-02-20", nextPeriod(session))

	require.NoError(t, store.MergeLog(ctx, "u1", "2024-02-05", mood("low")))
	session.Wait()
	require.Equal(t, "2024-02-05", nextPeriod(session))

	require.NoError(t, store.MergeLog(ctx, "u1", "2024-02-11", mood("ok")))
	session.Wait()
	require.Equal(t, "2024-02-11", nextPeriod(session))
}

func TestSessionPicksUpCurrentIdentityOnStart(t *testing.T) {
	store := memory.NewStore()
	seedProfile(t, store, "u1", "28")
	hub := auth.NewHub()
	hub.SetIdentity(domain.Identity{UID: "u1"})

	session := NewSession(hub, store, NewOrchestrator(store, &echoPredictor{}, WithClock(fixedClock)))
	require.NoError(t, session.Start(context.Background()))
	defer session.Close()

	session.Wait()
	require.Equal(t, "u1", session.UID())
	require.Equal(t, 1, store.Subscribers("u1"))
	require.Equal(t, "2024-02-20", nextPeriod(session))
}

func TestSessionDropsStaleCompletion(t *testing.T) {
	gate := make(chan struct{})
	session, hub, store := newTestSession(t, &echoPredictor{gates: map[string]chan struct{}{"2024-02-01": gate}})
	ctx := context.Background()
	seedProfile(t, store, "u1", "28")
	require.NoError(t, store.MergeLog(ctx, "u1", "2024-02-01", mood("ok")))

	hub.SetIdentity(domain.Identity{UID: "u1"})
	require.NoError(t, store.MergeLog(ctx, "u1", "2024-02-10", mood("low")))

	require.Eventually(t, func() bool { return nextPeriod(session) == "2024-02-10" }, time.Second, 5*time.Millisecond)

	close(gate)
	session.Wait()
	require.Equal(t, "2024-02-10", nextPeriod(session))
}

func TestSessionSwitchesSubscriptionOnIdentityChange(t *testing.T) {
	session, hub, store := newTestSession(t, &echoPredictor{})
	ctx := context.Background()
	seedProfile(t, store, "u1", "28")
	seedProfile(t, store, "u2", "30")
	require.NoError(t, store.MergeLog(ctx, "u1", "2024-01-03", mood("ok")))
	require.NoError(t, store.MergeLog(ctx, "u2", "2024-01-17", mood("ok")))

	hub.SetIdentity(domain.Identity{UID: "u1"})
	session.Wait()
	require.Equal(t, "2024-01-03", nextPeriod(session))

	hub.SetIdentity(domain.Identity{UID: "u2"})
	require.Equal(t, 0, store.Subscribers("u1"))
	require.Equal(t, 1, store.Subscribers("u2"))
	require.Equal(t, 0, store.ProfileSubscribers("u1"))
	require.Equal(t, 1, store.ProfileSubscribers("u2"))
	session.Wait()
	require.Equal(t, "2024-01-17", nextPeriod(session))

	require.NoError(t, store.MergeLog(ctx, "u1", "2024-02-09", mood("low")))
	session.Wait()
	require.Equal(t, "2024-01-17", nextPeriod(session))
}

func TestSessionDiscardsPreviousUserResultAfterSwitch(t *testing.T) {
	gate := make(chan struct{})
	session, hub, store := newTestSession(t, &echoPredictor{gates: map[string]chan struct{}{"2024-01-03": gate}})
	ctx := context.Background()
	seedProfile(t, store, "u1", "28")
	seedProfile(t, store, "u2", "30")
	require.NoError(t, store.MergeLog(ctx, "u1", "2024-01-03", mood("ok")))

	hub.SetIdentity(domain.Identity{UID: "u1"})
	hub.SetIdentity(domain.Identity{UID: "u2"})
	require.Eventually(t, func() bool { return nextPeriod(session) == "2024-02-20" }, time.Second, 5*time.Millisecond)

	close(gate)
	session.Wait()
	require.Equal(t, "2024-02-20", nextPeriod(session))
}

func TestSessionSignOutClearsState(t *testing.T) {
	session, hub, store := newTestSession(t, &echoPredictor{})
	seedProfile(t, store, "u1", "28")

	hub.SetIdentity(domain.Identity{UID: "u1"})
	session.Wait()
	require.NotNil(t, session.State().Result)

	hub.SignOut()
	require.Equal(t, "", session.UID())
	require.Nil(t, session.State().Result)
	require.Equal(t, 0, store.Subscribers("u1"))
}

func TestSessionSurfacesProfileMissing(t *testing.T) {
	session, hub, _ := newTestSession(t, &echoPredictor{})

	hub.SetIdentity(domain.Identity{UID: "new-user"})
	session.Wait()

	state := session.State()
	require.Nil(t, state.Result)
	require.ErrorIs(t, state.Err, domain.ErrProfileMissing)
}

func TestSessionCloseReleasesSubscriptions(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	store := memory.NewStore()
	seedProfile(t, store, "u1", "28")
	hub := auth.NewHub()
	session := NewSession(hub, store,
		NewOrchestrator(store, &echoPredictor{gates: map[string]chan struct{}{"2024-02-20": gate}}, WithClock(fixedClock)),
		WithProfileFeed(store))
	require.NoError(t, session.Start(context.Background()))

	hub.SetIdentity(domain.Identity{UID: "u1"})
	session.Close()
	session.Close()

	require.Equal(t, 0, store.Subscribers("u1"))
	require.Equal(t, 0, store.ProfileSubscribers("u1"))
	require.Nil(t, session.State().Result)
	require.ErrorIs(t, session.Start(context.Background()), ErrSessionClosed)

	hub.SetIdentity(domain.Identity{UID: "u2"})
	require.Equal(t, "", session.UID())
}

// cyclePredictor reports the requested cycle length as the ovulation date so
// tests can see which profile a prediction was computed from.
type cyclePredictor struct{}

func (cyclePredictor) Predict(_ context.Context, req domain.PredictionRequest) (domain.PredictionResult, error) {
	return domain.PredictionResult{
		NextPeriodDate:     req.LastPeriodDate,
		OvulationDate:      strconv.Itoa(req.AverageCycleLength),
		FertileWindowStart: req.LastPeriodDate,
	}, nil
}

func TestSessionRecomputesWhenOnboardingCompletes(t *testing.T) {
	session, hub, store := newTestSession(t, cyclePredictor{})
	ctx := context.Background()
	require.NoError(t, store.MergeLog(ctx, "u1", "2024-02-05", mood("low")))

	hub.SetIdentity(domain.Identity{UID: "u1"})
	session.Wait()
	require.ErrorIs(t, session.State().Err, domain.ErrProfileMissing)

	seedProfile(t, store, "u1", "28")
	session.Wait()

	state := session.State()
	require.NoError(t, state.Err)
	require.NotNil(t, state.Result)
	require.Equal(t, "2024-02-05", state.Result.NextPeriodDate)
	require.Equal(t, "28", state.Result.OvulationDate)
}

func TestSessionRecomputesWhenCycleLengthChanges(t *testing.T) {
	session, hub, store := newTestSession(t, cyclePredictor{})
	seedProfile(t, store, "u1", "28")

	hub.SetIdentity(domain.Identity{UID: "u1"})
	session.Wait()
	require.Equal(t, "28", session.State().Result.OvulationDate)

	seedProfile(t, store, "u1", "32")
	session.Wait()
	require.Equal(t, "32", session.State().Result.OvulationDate)

	seedProfile(t, store, "u1", "abc")
	session.Wait()
	require.Nil(t, session.State().Result)
	require.ErrorIs(t, session.State().Err, domain.ErrInvalidCycleLength)
}

func TestSessionIgnoresOtherUsersProfileChanges(t *testing.T) {
	session, hub, store := newTestSession(t, cyclePredictor{})
	seedProfile(t, store, "u1", "28")

	hub.SetIdentity(domain.Identity{UID: "u1"})
	session.Wait()
	tag := session.State().Tag

	seedProfile(t, store, "u2", "35")
	session.Wait()
	require.Equal(t, tag, session.State().Tag)
	require.Equal(t, "u1", session.State().UID)
}
