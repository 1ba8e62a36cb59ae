// Package api exposes HTTP and websocket handlers for the tracker service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/vedabloom/internal/auth"
	"example.com/vedabloom/internal/content"
	"example.com/vedabloom/internal/domain"
	"example.com/vedabloom/internal/history"
	"example.com/vedabloom/internal/observability"
	"example.com/vedabloom/internal/report"
	"example.com/vedabloom/internal/tracker"
)

// Dependencies are the collaborators a Handler serves requests with.
type Dependencies struct {
	Profiles    domain.ProfileStore
	Logs        domain.LogStore
	ProfileFeed domain.ProfileFeed // optional; live streams recompute on profile changes
	Predictor   domain.Predictor
	Content     *content.Service
	History     *history.Aggregator
	Renderer    *report.PDFRenderer
	Auth        auth.Config
	// Location decides which calendar date counts as today. Defaults to time.Local.
	Location *time.Location
	// AllowedOrigin is checked against websocket Origin headers; "*" allows any.
	AllowedOrigin string
	Logger        *zap.Logger
}

// Handler coordinates HTTP requests with the domain services.
type Handler struct {
	deps    Dependencies
	service *domain.Service
	oneShot *tracker.Orchestrator
	logger  *zap.Logger

	streamCtx    context.Context
	stopStreams  context.CancelFunc
	streamsGroup sync.WaitGroup
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Renderer == nil {
		deps.Renderer = report.NewPDFRenderer(history.Title)
	}
	streamCtx, stopStreams := context.WithCancel(context.Background())
	return &Handler{
		deps:    deps,
		service: domain.NewService(deps.Profiles, deps.Logs),
		oneShot: tracker.NewOrchestrator(deps.Profiles, deps.Predictor,
			tracker.WithLogger(deps.Logger),
			tracker.WithLocation(deps.Location)),
		logger:      deps.Logger,
		streamCtx:   streamCtx,
		stopStreams: stopStreams,
	}
}

// Close ends every open stream and waits for their sessions to shut down.
// http.Server.Shutdown does not track hijacked connections.
func (h *Handler) Close() {
	h.stopStreams()
	h.streamsGroup.Wait()
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/healthz", healthz)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	router.GET("/v1/profile", h.getProfile)
	router.PUT("/v1/profile", h.putProfile)
	router.GET("/v1/logs", h.listLogs)
	router.PUT("/v1/logs/:date", h.mergeLog)
	router.GET("/v1/prediction", h.prediction)
	router.GET("/v1/faq", h.faq)
	router.GET("/v1/history", h.history)
	router.GET("/v1/history/download", h.historyDownload)
	router.GET("/v1/stream", h.stream)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	profile, err := h.service.GetProfile(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) putProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	var req OnboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	input := domain.OnboardingInput{
		Identity:         claims.Identity(),
		Name:             req.Name,
		Age:              req.Age,
		CycleLength:      req.CycleLength,
		HealthConditions: req.HealthConditions,
	}
	if err := input.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	profile, err := h.service.CompleteOnboarding(r.Context(), input)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	logs, err := h.service.ListLogs(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) mergeLog(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	date := params.ByName("date")
	var patch domain.LogPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "validation_failed", "mood or symptoms is required")
		return
	}

	if err := h.service.LogSymptoms(r.Context(), claims.Subject, date, patch); err != nil {
		h.writeDomainError(w, err)
		return
	}

	logs, err := h.service.ListLogs(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LogEntryResponse{Date: date, Entry: logs[date]})
}

func (h *Handler) prediction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	logs, err := h.service.ListLogs(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	result, err := h.oneShot.Compute(r.Context(), claims.Subject, logs)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) faq(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	uid := ""
	if claims, ok := auth.FromContext(r.Context()); ok {
		uid = claims.Subject
	}
	writeJSON(w, http.StatusOK, h.deps.Content.ForUser(r.Context(), uid))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	rep, err := h.deps.History.Generate(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	observability.RecordReport("json")
	writeJSON(w, http.StatusOK, HistoryResponse{Report: rep, Blocks: rep.Blocks()})
}

func (h *Handler) historyDownload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	rep, err := h.deps.History.Generate(r.Context(), claims.Subject)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	var buf bytes.Buffer
	if _, err := h.deps.Renderer.Render(&buf, rep.Blocks()); err != nil {
		h.logger.Error("render history pdf", zap.String("uid", claims.Subject), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error", "Could not generate PDF.")
		return
	}
	observability.RecordReport("pdf")

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// OnboardingRequest is the payload for PUT /v1/profile.
type OnboardingRequest struct {
	Name             string          `json:"name"`
	Age              domain.LooseInt `json:"age"`
	CycleLength      domain.LooseInt `json:"cycleLength"`
	HealthConditions string          `json:"healthConditions"`
}

// LogEntryResponse echoes the merged entry for PUT /v1/logs/:date.
type LogEntryResponse struct {
	Date  string                 `json:"date"`
	Entry domain.SymptomLogEntry `json:"entry"`
}

// HistoryResponse is the report model plus its layout blocks.
type HistoryResponse struct {
	history.Report
	Blocks []report.Block `json:"blocks"`
}

func requireClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	return claims, true
}

// errorCode maps domain failures onto an HTTP status and error type.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrProfileMissing):
		return http.StatusNotFound, "profile_not_found"
	case errors.Is(err, domain.ErrInvalidCycleLength):
		return http.StatusUnprocessableEntity, "invalid_cycle_length"
	case errors.Is(err, domain.ErrPredictionServiceUnavailable):
		return http.StatusBadGateway, "prediction_unavailable"
	case errors.Is(err, domain.ErrMalformedLogKey):
		return http.StatusBadRequest, "malformed_log_key"
	case errors.Is(err, domain.ErrContentSourceUnavailable):
		return http.StatusServiceUnavailable, "content_unavailable"
	case errors.Is(err, domain.ErrStoreWriteFailed):
		return http.StatusServiceUnavailable, "store_write_failed"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status, code := errorCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.String("type", code), zap.Error(err))
	}
	writeError(w, status, code, domain.UserMessage(err))
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
