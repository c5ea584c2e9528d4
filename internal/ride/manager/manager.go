package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/gatortaxi/internal/ride/domain"
	"github.com/example/gatortaxi/internal/ride/index"
	"github.com/example/gatortaxi/internal/ride/queue"
)

// Config tunes the manager.
type Config struct {
	Capacity int
}

// Stats counts lifecycle transitions since the manager was created.
type Stats struct {
	// LowestID and HighestID bound the active ride numbers; both are nil when
	// no ride is active.
	LowestID   *int `json:"lowest_ride_number"`
	HighestID  *int `json:"highest_ride_number"`
	Inserted   int  `json:"inserted"`
	Dispatched int  `json:"dispatched"`
	Cancelled  int  `json:"cancelled"`
	Shortened  int  `json:"shortened"`
	Repriced   int  `json:"repriced"`
	Abandoned  int  `json:"abandoned"`
}

// Manager keeps the dispatch queue and the ride index describing the same set
// of active rides. Both hold handles to the same ride records; every mutation
// goes through the manager, which re-validates the affected index.
type Manager struct {
	mu     sync.Mutex
	queue  *queue.Queue
	index  *index.Tree
	events domain.EventPublisher
	clock  domain.Clock
	logger *zap.Logger
	seq    uint64
	stats  Stats
}

// New constructs a Manager. events may be nil.
func New(cfg Config, events domain.EventPublisher, clock domain.Clock, logger *zap.Logger) *Manager {
	if cfg.Capacity <= 0 {
		cfg.Capacity = domain.DefaultCapacity
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		queue:  queue.New(cfg.Capacity),
		index:  index.New(),
		events: events,
		clock:  clock,
		logger: logger,
	}
}

// InsertRide registers a new active ride.
func (m *Manager) InsertRide(ctx context.Context, id, cost, duration int) (domain.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, err := m.insert(id, cost, duration)
	if err != nil {
		return domain.Ride{}, err
	}
	m.stats.Inserted++
	m.record(ctx, domain.EventRideRequested, ride)
	return *ride, nil
}

// GetNextRide dispatches the cheapest ride, shortest duration first on equal cost.
func (m *Manager) GetNextRide(ctx context.Context) (domain.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.IsEmpty() {
		return domain.Ride{}, domain.ErrNoActiveRides
	}
	ride, _ := m.queue.ExtractMin()
	m.index.Delete(ride.ID)
	ride.Status = domain.StatusDispatched
	m.stats.Dispatched++
	m.record(ctx, domain.EventRideDispatched, ride)
	return *ride, nil
}

// CancelRide drops an active ride. Unknown ids are ignored and report false.
func (m *Manager) CancelRide(ctx context.Context, id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, ok := m.cancel(id)
	if !ok {
		return false
	}
	m.stats.Cancelled++
	m.record(ctx, domain.EventRideCancelled, ride)
	return true
}

// UpdateTrip applies a new trip duration to an active ride. A shorter or equal
// duration is applied in place; up to AbandonFactor times the current duration
// the ride is re-queued with a Surcharge; anything longer cancels it.
func (m *Manager) UpdateTrip(ctx context.Context, id, newDuration int) (domain.UpdateOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, ok := m.index.Search(id)
	if !ok {
		return domain.OutcomeNotFound, nil
	}
	current := ride.Duration

	switch {
	case newDuration <= current:
		ride.Duration = newDuration
		m.queue.Fix(id)
		m.stats.Shortened++
		m.record(ctx, domain.EventRideShortened, ride)
		return domain.OutcomeShortened, nil

	case newDuration <= domain.AbandonFactor*current:
		cost := ride.Cost + domain.Surcharge
		m.cancel(id)
		repriced, err := m.insert(id, cost, newDuration)
		if err != nil {
			return "", fmt.Errorf("reinsert ride %d: %w", id, err)
		}
		m.stats.Repriced++
		m.record(ctx, domain.EventRideRepriced, repriced)
		return domain.OutcomeRepriced, nil

	default:
		m.cancel(id)
		m.stats.Abandoned++
		m.record(ctx, domain.EventRideAbandoned, ride)
		return domain.OutcomeAbandoned, nil
	}
}

// PrintRide looks up an active ride by id.
func (m *Manager) PrintRide(_ context.Context, id int) (domain.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, ok := m.index.Search(id)
	if !ok {
		return domain.Ride{}, false
	}
	return *ride, true
}

// PrintRideRange returns active rides with low <= id <= high in ascending id order.
func (m *Manager) PrintRideRange(_ context.Context, low, high int) []domain.Ride {
	m.mu.Lock()
	defer m.mu.Unlock()

	return copyRides(m.index.Range(low, high))
}

// PeekNextRide returns the ride GetNextRide would dispatch without removing it.
func (m *Manager) PeekNextRide(_ context.Context) (domain.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, ok := m.queue.Peek()
	if !ok {
		return domain.Ride{}, false
	}
	return *ride, true
}

// RideByRank returns the active ride with the k-th smallest ride number, from zero.
func (m *Manager) RideByRank(_ context.Context, k int) (domain.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, ok := m.index.Select(k)
	if !ok {
		return domain.Ride{}, false
	}
	return *ride, true
}

// CountRideRange counts active rides with low <= id <= high.
func (m *Manager) CountRideRange(_ context.Context, low, high int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.index.CountRange(low, high)
}

// Len returns the number of active rides.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.queue.Len()
}

// Capacity returns the maximum number of active rides.
func (m *Manager) Capacity() int {
	return m.queue.Cap()
}

// Snapshot returns every active ride in ascending id order.
func (m *Manager) Snapshot() []domain.Ride {
	m.mu.Lock()
	defer m.mu.Unlock()

	rides := make([]domain.Ride, 0, m.index.Size())
	for _, id := range m.index.Keys() {
		ride, _ := m.index.Search(id)
		rides = append(rides, *ride)
	}
	return rides
}

// Stats returns the transition counters and the current id bounds.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	if lo, ok := m.index.Min(); ok {
		id := lo.ID
		stats.LowestID = &id
	}
	if hi, ok := m.index.Max(); ok {
		id := hi.ID
		stats.HighestID = &id
	}
	return stats
}

// insert puts a new record into the queue first; the index is only touched
// once the queue accepted it.
func (m *Manager) insert(id, cost, duration int) (*domain.Ride, error) {
	m.seq++
	ride := &domain.Ride{ID: id, Cost: cost, Duration: duration, Status: domain.StatusActive, Seq: m.seq}
	if err := m.queue.Insert(ride); err != nil {
		switch {
		case errors.Is(err, queue.ErrDuplicate):
			insertRejections.WithLabelValues("duplicate").Inc()
			return nil, fmt.Errorf("insert ride %d: %w", id, domain.ErrDuplicateID)
		case errors.Is(err, queue.ErrFull):
			insertRejections.WithLabelValues("capacity").Inc()
			return nil, fmt.Errorf("insert ride %d: %w", id, domain.ErrCapacityExceeded)
		default:
			return nil, fmt.Errorf("insert ride %d: %w", id, err)
		}
	}
	m.index.Upsert(ride)
	return ride, nil
}

func (m *Manager) cancel(id int) (*domain.Ride, bool) {
	ride, ok := m.index.Search(id)
	if !ok {
		return nil, false
	}
	m.index.Delete(id)
	m.queue.RemoveByID(id)
	ride.Status = domain.StatusCancelled
	return ride, true
}

// record updates metrics and publishes the transition. Publish failures are
// logged and never fail the operation.
func (m *Manager) record(ctx context.Context, eventType domain.RideEventType, ride *domain.Ride) {
	rideTransitions.WithLabelValues(string(eventType)).Inc()
	activeRides.Set(float64(m.queue.Len()))
	m.logger.Debug("ride transition",
		zap.String("event", string(eventType)),
		zap.Int("ride_number", ride.ID),
		zap.Int("ride_cost", ride.Cost),
		zap.Int("trip_duration", ride.Duration),
		zap.Int("active", m.queue.Len()),
	)
	if m.events == nil {
		return
	}
	event := domain.RideEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Ride:      *ride,
		CreatedAt: m.clock.Now(),
	}
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warn("publish ride event failed", zap.Error(err), zap.String("event", string(eventType)), zap.Int("ride_number", ride.ID))
	}
}

func copyRides(rides []*domain.Ride) []domain.Ride {
	out := make([]domain.Ride, len(rides))
	for i, r := range rides {
		out[i] = *r
	}
	return out
}
