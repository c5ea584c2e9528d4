package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/gatortaxi/internal/auth"
	ratelimitmw "github.com/example/gatortaxi/internal/http/middleware"
	"github.com/example/gatortaxi/internal/ride/domain"
	"github.com/example/gatortaxi/internal/ride/handler"
	"github.com/example/gatortaxi/internal/ride/idempotency"
	"github.com/example/gatortaxi/internal/ride/manager"
)

func do(t *testing.T, h http.Handler, method, path, body, token string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	mgr := manager.New(manager.Config{Capacity: 2}, nil, nil, nil)
	h := handler.NewHTTP(mgr, handler.Config{}).Router()

	rec := do(t, h, http.MethodPost, "/v1/rides", `{"ride_number":5,"ride_cost":10,"trip_duration":8}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, 5, decode[domain.Ride](t, rec).ID)

	rec = do(t, h, http.MethodPost, "/v1/rides", `{"ride_number":5,"ride_cost":1,"trip_duration":1}`, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/rides", `{"ride_number":3,"ride_cost":20,"trip_duration":5}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/rides", `{"ride_number":9,"ride_cost":1,"trip_duration":1}`, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/rides/3", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 20, decode[domain.Ride](t, rec).Cost)

	rec = do(t, h, http.MethodGet, "/v1/rides?low=1&high=10", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Rides []domain.Ride `json:"rides"`
	}](t, rec)
	require.Len(t, list.Rides, 2)
	require.Equal(t, 3, list.Rides[0].ID)

	rec = do(t, h, http.MethodGet, "/v1/rides", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[struct {
		Rides []domain.Ride `json:"rides"`
	}](t, rec)
	require.Len(t, all.Rides, 2)
	require.Equal(t, 5, all.Rides[1].ID)

	rec = do(t, h, http.MethodGet, "/v1/rides/count?low=4&high=10", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[map[string]int](t, rec)["count"])

	rec = do(t, h, http.MethodPost, "/v1/rides/3/trip", `{"trip_duration":8}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "REPRICED", decode[map[string]string](t, rec)["outcome"])

	rec = do(t, h, http.MethodPost, "/v1/rides/next", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, decode[domain.Ride](t, rec).ID)

	rec = do(t, h, http.MethodPost, "/v1/rides/3/cancel", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[map[string]bool](t, rec)["cancelled"])

	rec = do(t, h, http.MethodPost, "/v1/rides/next", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/rides/3", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/rides/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[struct {
		Active   int           `json:"active"`
		Capacity int           `json:"capacity"`
		Totals   manager.Stats `json:"totals"`
	}](t, rec)
	require.Equal(t, 0, stats.Active)
	require.Equal(t, 2, stats.Capacity)
	require.Equal(t, 2, stats.Totals.Inserted)
	require.Equal(t, 1, stats.Totals.Repriced)
}

func TestBadRequests(t *testing.T) {
	h := handler.NewHTTP(manager.New(manager.Config{}, nil, nil, nil), handler.Config{}).Router()

	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/rides/abc", "", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/rides?low=1", "", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/rides", "{", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/rides/1/trip", `{}`, "").Code)
}

func TestRoutesRequireRoleWhenSecretSet(t *testing.T) {
	const secret = "s3cret"
	h := handler.NewHTTP(manager.New(manager.Config{}, nil, nil, nil), handler.Config{JWTSecret: secret}).Router()
	viewer, err := auth.Sign(secret, "audit", auth.RoleViewer)
	require.NoError(t, err)
	dispatcher, err := auth.Sign(secret, "ops", auth.RoleDispatcher)
	require.NoError(t, err)

	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/rides/1", "", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/rides/1", "", viewer).Code)
	require.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/v1/rides/next", "", viewer).Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/v1/rides/next", "", dispatcher).Code)
}

func TestRetriedDispatchWithSameKeyIsReplayed(t *testing.T) {
	mgr := manager.New(manager.Config{}, nil, nil, nil)
	h := handler.NewHTTP(mgr, handler.Config{Idempotency: idempotency.NewMemoryStore()}).Router()
	for _, body := range []string{
		`{"ride_number":1,"ride_cost":10,"trip_duration":4}`,
		`{"ride_number":2,"ride_cost":20,"trip_duration":4}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/rides", body, "").Code)
	}

	first := do(t, h, http.MethodPost, "/v1/rides/next", "", "", "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, 1, decode[domain.Ride](t, first).ID)

	retry := do(t, h, http.MethodPost, "/v1/rides/next", "", "", "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, retry.Code)
	require.Equal(t, "true", retry.Header().Get("Idempotent-Replayed"))
	require.Equal(t, 1, decode[domain.Ride](t, retry).ID)
	require.Equal(t, 1, mgr.Len())

	fresh := do(t, h, http.MethodPost, "/v1/rides/next", "", "", "Idempotency-Key", "k-2")
	require.Equal(t, 2, decode[domain.Ride](t, fresh).ID)
	require.Equal(t, 0, mgr.Len())

	// empty queue results are not cached
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/v1/rides/next", "", "", "Idempotency-Key", "k-3").Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/rides", `{"ride_number":3,"ride_cost":1,"trip_duration":1}`, "").Code)
	require.Equal(t, 3, decode[domain.Ride](t, do(t, h, http.MethodPost, "/v1/rides/next", "", "", "Idempotency-Key", "k-3")).ID)
}

func TestRetriedInsertWithSameKeyIsNotADuplicate(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mgr := manager.New(manager.Config{}, nil, nil, nil)
	h := handler.NewHTTP(mgr, handler.Config{Idempotency: idempotency.NewRedisStore(client, 0)}).Router()
	body := `{"ride_number":8,"ride_cost":12,"trip_duration":3}`

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/rides", body, "", "Idempotency-Key", "ins-8").Code)
	retry := do(t, h, http.MethodPost, "/v1/rides", body, "", "Idempotency-Key", "ins-8")
	require.Equal(t, http.StatusCreated, retry.Code)
	require.Equal(t, 8, decode[domain.Ride](t, retry).ID)
	require.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/v1/rides", body, "").Code)
	require.True(t, mr.Exists("gatortaxi:idem:insert:ins-8"))
}

func TestPeekRankAndStatsBounds(t *testing.T) {
	mgr := manager.New(manager.Config{}, nil, nil, nil)
	h := handler.NewHTTP(mgr, handler.Config{}).Router()

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/rides/next", "", "").Code)
	for _, body := range []string{
		`{"ride_number":30,"ride_cost":5,"trip_duration":5}`,
		`{"ride_number":10,"ride_cost":9,"trip_duration":1}`,
		`{"ride_number":20,"ride_cost":5,"trip_duration":2}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/rides", body, "").Code)
	}

	rec := do(t, h, http.MethodGet, "/v1/rides/next", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 20, decode[domain.Ride](t, rec).ID)
	require.Equal(t, 3, mgr.Len())

	rec = do(t, h, http.MethodGet, "/v1/rides/rank/0", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 10, decode[domain.Ride](t, rec).ID)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/rides/rank/3", "", "").Code)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/rides/rank/-1", "", "").Code)

	stats := decode[struct {
		Totals manager.Stats `json:"totals"`
	}](t, do(t, h, http.MethodGet, "/v1/rides/stats", "", ""))
	require.Equal(t, 10, *stats.Totals.LowestID)
	require.Equal(t, 30, *stats.Totals.HighestID)
}

type stubJournal struct {
	events []domain.RideEvent
	err    error
	asked  int
}

func (s *stubJournal) Recent(_ context.Context, n int) ([]domain.RideEvent, error) {
	s.asked = n
	return s.events, s.err
}

func TestRecentEvents(t *testing.T) {
	mgr := manager.New(manager.Config{}, nil, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable,
		do(t, handler.NewHTTP(mgr, handler.Config{}).Router(), http.MethodGet, "/v1/rides/events", "", "").Code)

	journal := &stubJournal{events: []domain.RideEvent{{Type: domain.EventRideDispatched, Ride: domain.Ride{ID: 4}}}}
	h := handler.NewHTTP(mgr, handler.Config{Journal: journal}).Router()

	rec := do(t, h, http.MethodGet, "/v1/rides/events?n=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5, journal.asked)
	got := decode[struct {
		Events []domain.RideEvent `json:"events"`
	}](t, rec)
	require.Len(t, got.Events, 1)
	require.Equal(t, 4, got.Events[0].Ride.ID)

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/rides/events", "", "").Code)
	require.Equal(t, 20, journal.asked)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/rides/events?n=50000", "", "").Code)
	require.Equal(t, 1000, journal.asked)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/rides/events?n=zero", "", "").Code)

	journal.err = errors.New("redis down")
	require.Equal(t, http.StatusBadGateway, do(t, h, http.MethodGet, "/v1/rides/events", "", "").Code)
}

func TestWriteRoutesAreRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := ratelimitmw.NewRateLimiter(client, ratelimitmw.Bucket{}, ratelimitmw.Bucket{Rate: 0.01, Burst: 1}, nil)
	h := handler.NewHTTP(manager.New(manager.Config{}, nil, nil, nil), handler.Config{Limiter: limiter}).Router()

	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/v1/rides", `{"ride_number":1,"ride_cost":1,"trip_duration":1}`, "", "X-Client-ID", "ops").Code)
	require.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/v1/rides/next", "", "", "X-Client-ID", "ops").Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/rides/1", "", "", "X-Client-ID", "ops").Code)
}
