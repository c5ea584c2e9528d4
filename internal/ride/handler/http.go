package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/gatortaxi/internal/auth"
	ratelimitmw "github.com/example/gatortaxi/internal/http/middleware"
	"github.com/example/gatortaxi/internal/ride/domain"
	"github.com/example/gatortaxi/internal/ride/manager"
)

const (
	defaultRecentEvents = 20
	maxRecentEvents     = 1000
)

// EventJournal serves recently recorded ride events.
type EventJournal interface {
	Recent(ctx context.Context, n int) ([]domain.RideEvent, error)
}

// Config carries the optional collaborators of the HTTP adapter. Zero values
// disable the matching feature.
type Config struct {
	JWTSecret   string
	Limiter     *ratelimitmw.RateLimiter
	Idempotency domain.IdempotencyStore
	Journal     EventJournal
	Logger      *zap.Logger
}

// HTTP exposes the ride manager over JSON endpoints.
type HTTP struct {
	rides  *manager.Manager
	cfg    Config
	logger *zap.Logger
}

// NewHTTP constructs a handler. An empty JWTSecret leaves the routes open.
func NewHTTP(rides *manager.Manager, cfg Config) *HTTP {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{rides: rides, cfg: cfg, logger: logger}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.cfg.JWTSecret, auth.RoleDispatcher, auth.RoleViewer))
		r.Use(h.cfg.Limiter.Middleware)
		r.Get("/v1/rides", h.listRides)
		r.Get("/v1/rides/count", h.countRides)
		r.Get("/v1/rides/stats", h.stats)
		r.Get("/v1/rides/next", h.peekRide)
		r.Get("/v1/rides/events", h.recentEvents)
		r.Get("/v1/rides/rank/{k}", h.rideByRank)
		r.Get("/v1/rides/{id}", h.getRide)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.cfg.JWTSecret, auth.RoleDispatcher))
		r.Use(h.cfg.Limiter.Middleware)
		r.Post("/v1/rides", h.insertRide)
		r.Post("/v1/rides/next", h.nextRide)
		r.Post("/v1/rides/{id}/cancel", h.cancelRide)
		r.Post("/v1/rides/{id}/trip", h.updateTrip)
	})
	return r
}

type insertRideRequest struct {
	ID       int `json:"ride_number"`
	Cost     int `json:"ride_cost"`
	Duration int `json:"trip_duration"`
}

func (h *HTTP) insertRide(w http.ResponseWriter, r *http.Request) {
	var payload insertRideRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key, replayed := h.replay(w, r, "insert")
	if replayed {
		return
	}
	ride, err := h.rides.InsertRide(r.Context(), payload.ID, payload.Cost, payload.Duration)
	h.audit(r, "insert", zap.Int("ride_number", payload.ID), zap.Error(err))
	switch {
	case errors.Is(err, domain.ErrDuplicateID):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrCapacityExceeded):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		h.respond(w, r, key, http.StatusCreated, ride)
	}
}

func (h *HTTP) getRide(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ride, found := h.rides.PrintRide(r.Context(), id)
	if !found {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// listRides returns every active ride when neither bound is given.
func (h *HTTP) listRides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("low") && !q.Has("high") {
		writeJSON(w, http.StatusOK, map[string]any{"rides": h.rides.Snapshot()})
		return
	}
	low, high, ok := queryRange(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": h.rides.PrintRideRange(r.Context(), low, high)})
}

func (h *HTTP) countRides(w http.ResponseWriter, r *http.Request) {
	low, high, ok := queryRange(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": h.rides.CountRideRange(r.Context(), low, high)})
}

func (h *HTTP) rideByRank(w http.ResponseWriter, r *http.Request) {
	k, err := strconv.Atoi(chi.URLParam(r, "k"))
	if err != nil || k < 0 {
		http.Error(w, "rank must be a non-negative integer", http.StatusBadRequest)
		return
	}
	ride, found := h.rides.RideByRank(r.Context(), k)
	if !found {
		http.Error(w, "rank out of range", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (h *HTTP) peekRide(w http.ResponseWriter, r *http.Request) {
	ride, found := h.rides.PeekNextRide(r.Context())
	if !found {
		http.Error(w, domain.ErrNoActiveRides.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (h *HTTP) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Journal == nil {
		http.Error(w, "event journal not configured", http.StatusServiceUnavailable)
		return
	}
	n := defaultRecentEvents
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = min(parsed, maxRecentEvents)
	}
	events, err := h.cfg.Journal.Recent(r.Context(), n)
	if err != nil {
		h.logger.Warn("read event journal failed", zap.Error(err))
		http.Error(w, "event journal unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *HTTP) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active":   h.rides.Len(),
		"capacity": h.rides.Capacity(),
		"totals":   h.rides.Stats(),
	})
}

func (h *HTTP) nextRide(w http.ResponseWriter, r *http.Request) {
	key, replayed := h.replay(w, r, "next")
	if replayed {
		return
	}
	ride, err := h.rides.GetNextRide(r.Context())
	h.audit(r, "dispatch", zap.Int("ride_number", ride.ID), zap.Error(err))
	if errors.Is(err, domain.ErrNoActiveRides) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.respond(w, r, key, http.StatusOK, ride)
}

func (h *HTTP) cancelRide(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cancelled := h.rides.CancelRide(r.Context(), id)
	h.audit(r, "cancel", zap.Int("ride_number", id), zap.Bool("cancelled", cancelled))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (h *HTTP) updateTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Duration *int `json:"trip_duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if payload.Duration == nil {
		http.Error(w, "trip_duration is required", http.StatusBadRequest)
		return
	}
	outcome, err := h.rides.UpdateTrip(r.Context(), id, *payload.Duration)
	h.audit(r, "update_trip", zap.Int("ride_number", id), zap.String("outcome", string(outcome)), zap.Error(err))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.UpdateOutcome{"outcome": outcome})
}

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// replay answers a retried request from the idempotency store. It returns the
// key the fresh response must be stored under, or replayed when the cached
// response was written.
func (h *HTTP) replay(w http.ResponseWriter, r *http.Request, scope string) (key string, replayed bool) {
	raw := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if raw == "" || h.cfg.Idempotency == nil {
		return "", false
	}
	key = scope + ":" + raw
	if subject := operator(r); subject != "" {
		key = subject + ":" + key
	}
	payload, ok, err := h.cfg.Idempotency.GetResponse(r.Context(), key)
	if err != nil {
		h.logger.Warn("idempotency lookup failed", zap.Error(err), zap.String("key", key))
		return key, false
	}
	if !ok {
		return key, false
	}
	var cached cachedResponse
	if err := json.Unmarshal(payload, &cached); err != nil {
		h.logger.Warn("discarding corrupt idempotency entry", zap.Error(err), zap.String("key", key))
		return key, false
	}
	w.Header().Set("Idempotent-Replayed", "true")
	writeRaw(w, cached.Status, cached.Body)
	return "", true
}

// respond writes v and, when key is set, remembers it for retries.
func (h *HTTP) respond(w http.ResponseWriter, r *http.Request, key string, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if key != "" {
		payload, _ := json.Marshal(cachedResponse{Status: status, Body: body})
		if err := h.cfg.Idempotency.PutResponse(r.Context(), key, payload); err != nil {
			h.logger.Warn("idempotency store failed", zap.Error(err), zap.String("key", key))
		}
	}
	writeRaw(w, status, body)
}

func (h *HTTP) audit(r *http.Request, action string, fields ...zap.Field) {
	fields = append(fields,
		zap.String("action", action),
		zap.String("operator", operator(r)),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)
	h.logger.Info("ride mutation", fields...)
}

func operator(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return ""
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid ride number", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryRange(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	low, errLow := strconv.Atoi(r.URL.Query().Get("low"))
	high, errHigh := strconv.Atoi(r.URL.Query().Get("high"))
	if errLow != nil || errHigh != nil {
		http.Error(w, "low and high must be integers", http.StatusBadRequest)
		return 0, 0, false
	}
	return low, high, true
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
