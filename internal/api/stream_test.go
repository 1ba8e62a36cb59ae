package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/tracker"
)

func dialStream(t *testing.T, env *testEnv, tok string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/stream?token=" + tok
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(StreamMessage) bool) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func predictionFor(date string) func(StreamMessage) bool {
	return func(m StreamMessage) bool {
		return m.Type == MessagePrediction && m.Prediction != nil && m.Prediction.NextPeriodDate == date
	}
}

func TestStreamRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStreamPushesPredictionPerSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.PutProfile(ctx, "u1", domain.UserProfile{CycleLength: "28"}))
	low := "low"
	require.NoError(t, env.store.MergeLog(ctx, "u1", "2024-02-05", domain.LogPatch{Mood: &low}))

	tok := token(t, "u1")
	conn := dialStream(t, env, tok)
	msg := readUntil(t, conn, predictionFor("2024-02-05"))
	require.Equal(t, "u1", msg.UID)

	resp := env.do(t, http.MethodPut, "/v1/logs/2024-02-10", tok, `{"symptoms":["cramps"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readUntil(t, conn, predictionFor("2024-02-10"))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageSignOut}))
	readUntil(t, conn, func(m StreamMessage) bool { return m.Type == MessageSignedOut })
	require.Eventually(t, func() bool { return env.store.Subscribers("u1") == 0 }, time.Second, 10*time.Millisecond)
}

func TestStreamSwitchesIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ok := "ok"
	require.NoError(t, env.store.PutProfile(ctx, "u1", domain.UserProfile{CycleLength: "28"}))
	require.NoError(t, env.store.PutProfile(ctx, "u2", domain.UserProfile{CycleLength: "30"}))
	require.NoError(t, env.store.MergeLog(ctx, "u1", "2024-01-03", domain.LogPatch{Mood: &ok}))
	require.NoError(t, env.store.MergeLog(ctx, "u2", "2024-01-17", domain.LogPatch{Mood: &ok}))

	conn := dialStream(t, env, token(t, "u1"))
	readUntil(t, conn, predictionFor("2024-01-03"))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageIdentify, Token: token(t, "u2")}))
	msg := readUntil(t, conn, predictionFor("2024-01-17"))
	require.Equal(t, "u2", msg.UID)
	require.Eventually(t, func() bool {
		return env.store.Subscribers("u1") == 0 && env.store.Subscribers("u2") == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageIdentify, Token: "bogus"}))
	readUntil(t, conn, func(m StreamMessage) bool { return m.Type == MessageError && m.Error == "unauthorized" })
}

func TestStreamReportsProfileMissing(t *testing.T) {
	env := newTestEnv(t)
	conn := dialStream(t, env, token(t, "newcomer"))
	msg := readUntil(t, conn, func(m StreamMessage) bool { return m.Type == MessageError })
	require.Equal(t, "profile_not_found", msg.Error)
	require.Nil(t, msg.Prediction)
}

func TestStreamRecomputesAfterOnboarding(t *testing.T) {
	env := newTestEnv(t)
	low := "low"
	require.NoError(t, env.store.MergeLog(context.Background(), "u1", "2024-02-05", domain.LogPatch{Mood: &low}))

	tok := token(t, "u1")
	conn := dialStream(t, env, tok)
	missing := readUntil(t, conn, func(m StreamMessage) bool { return m.Type == MessageError })
	require.Equal(t, "profile_not_found", missing.Error)

	resp := env.do(t, http.MethodPut, "/v1/profile", tok, `{"name":"Asha","age":"29","cycleLength":"28"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg := readUntil(t, conn, predictionFor("2024-02-05"))
	require.Equal(t, "u1", msg.UID)
}

func TestStreamClosesSubscriptionOnDisconnect(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.PutProfile(context.Background(), "u1", domain.UserProfile{CycleLength: "28"}))

	conn := dialStream(t, env, token(t, "u1"))
	readUntil(t, conn, func(m StreamMessage) bool { return m.Type == MessagePrediction })
	require.Equal(t, 1, env.store.Subscribers("u1"))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.store.Subscribers("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestToStreamMessage(t *testing.T) {
	result := &domain.PredictionResult{NextPeriodDate: "2024-03-04"}

	msg, ok := toStreamMessage(tracker.State{UID: "u1", Result: result})
	require.True(t, ok)
	require.Equal(t, MessagePrediction, msg.Type)

	msg, ok = toStreamMessage(tracker.State{UID: "u1", Result: result, Err: domain.ErrPredictionServiceUnavailable})
	require.True(t, ok)
	require.Equal(t, MessageError, msg.Type)
	require.Equal(t, "prediction_unavailable", msg.Error)
	require.Equal(t, result, msg.Prediction)

	msg, ok = toStreamMessage(tracker.State{Result: result})
	require.True(t, ok)
	require.Equal(t, MessageSignedOut, msg.Type)
	require.Nil(t, msg.Prediction)

	_, ok = toStreamMessage(tracker.State{UID: "u1"})
	require.False(t, ok)
}
