package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"example.com/vedabloom/internal/auth"
	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/tracker"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Stream message types.
const (
	MessagePrediction = "prediction"
	MessageError      = "error"
	MessageSignedOut  = "signed_out"
	MessageIdentify   = "identify"
	MessageSignOut    = "sign_out"
)

// StreamMessage is pushed to the client on every prediction state change.
type StreamMessage struct {
	Type       string                   `json:"type"`
	UID        string                   `json:"uid,omitempty"`
	Prediction *domain.PredictionResult `json:"prediction,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Detail     string                   `json:"detail,omitempty"`
	UpdatedAt  time.Time                `json:"updatedAt"`
}

// ClientMessage is sent by the client to switch or clear the identity.
type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || h.deps.AllowedOrigin == "*" || origin == h.deps.AllowedOrigin
		},
	}
}

// stream runs a live tracker session over a websocket. The session follows
// the identity from the token query parameter until the client sends another
// identity or signs out.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims, err := auth.Parse(r.URL.Query().Get("token"), h.deps.Auth)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.streamsGroup.Add(1)
	defer h.streamsGroup.Done()
	ctx, cancel := context.WithCancel(h.streamCtx)
	defer cancel()

	updates := make(chan tracker.State, 1)
	hub := auth.NewHub()
	hub.SetIdentity(claims.Identity())

	orch := tracker.NewOrchestrator(h.deps.Profiles, h.deps.Predictor,
		tracker.WithLogger(h.logger),
		tracker.WithLocation(h.deps.Location),
		tracker.WithListener(func(s tracker.State) { offerLatest(updates, s) }))
	sessionOpts := []tracker.SessionOption{tracker.WithSessionLogger(h.logger)}
	if h.deps.ProfileFeed != nil {
		sessionOpts = append(sessionOpts, tracker.WithProfileFeed(h.deps.ProfileFeed))
	}
	session := tracker.NewSession(hub, h.deps.Logs, orch, sessionOpts...)

	logger := h.logger.With(zap.String("session_id", session.ID()))
	outbound := make(chan StreamMessage, 4)

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		defer cancel()
		// Unblocks readLoop when the writer gives up first.
		defer conn.Close()
		h.writeLoop(ctx, conn, updates, outbound, logger)
	}()

	if err := session.Start(ctx); err != nil {
		logger.Error("start tracker session", zap.Error(err))
	} else {
		h.readLoop(ctx, conn, hub, outbound, logger)
	}

	session.Close()
	cancel()
	writer.Wait()
}

// offerLatest replaces any undelivered state with s.
func offerLatest(ch chan tracker.State, s tracker.State) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, hub *auth.Hub, outbound chan<- StreamMessage, logger *zap.Logger) {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("stream closed", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sendOrDrop(ctx, outbound, StreamMessage{Type: MessageError, Error: "invalid_request", Detail: "unable to parse message", UpdatedAt: time.Now()})
			continue
		}

		switch msg.Type {
		case MessageIdentify:
			claims, err := auth.Parse(msg.Token, h.deps.Auth)
			if err != nil {
				sendOrDrop(ctx, outbound, StreamMessage{Type: MessageError, Error: "unauthorized", Detail: err.Error(), UpdatedAt: time.Now()})
				continue
			}
			hub.SetIdentity(claims.Identity())
		case MessageSignOut:
			hub.SignOut()
		default:
			sendOrDrop(ctx, outbound, StreamMessage{Type: MessageError, Error: "invalid_request", Detail: "unknown message type", UpdatedAt: time.Now()})
		}
	}
}

func sendOrDrop(ctx context.Context, ch chan<- StreamMessage, msg StreamMessage) {
	select {
	case ch <- msg:
	case <-ctx.Done():
	default:
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, updates <-chan tracker.State, outbound <-chan StreamMessage, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(msg StreamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case state := <-updates:
			msg, ok := toStreamMessage(state)
			if !ok {
				continue
			}
			if err := write(msg); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case msg := <-outbound:
			if err := write(msg); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// toStreamMessage labels the message with the user the state was computed
// for. It reports false for the empty state produced while switching between
// identities.
func toStreamMessage(state tracker.State) (StreamMessage, bool) {
	msg := StreamMessage{UID: state.UID, Prediction: state.Result, UpdatedAt: state.UpdatedAt}
	switch {
	case state.UID == "":
		msg.Type = MessageSignedOut
		msg.Prediction = nil
	case state.Err != nil:
		_, code := errorCode(state.Err)
		msg.Type = MessageError
		msg.Error = code
		msg.Detail = domain.UserMessage(state.Err)
	case state.Result != nil:
		msg.Type = MessagePrediction
	default:
		return StreamMessage{}, false
	}
	return msg, true
}
