package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCapacity bounds the number of active rides when no capacity is configured.
	DefaultCapacity = 100
	// Surcharge is added to the cost when a trip is extended up to AbandonFactor times its duration.
	Surcharge = 10
	// AbandonFactor is the duration multiplier past which an extended trip is dropped.
	AbandonFactor = 2
)

var (
	ErrDuplicateID      = errors.New("duplicate ride number")
	ErrCapacityExceeded = errors.New("ride capacity exceeded")
	ErrNoActiveRides    = errors.New("no active ride requests")
)

// RideStatus is the lifecycle state of a ride record.
type RideStatus string

const (
	StatusActive     RideStatus = "ACTIVE"
	StatusDispatched RideStatus = "DISPATCHED"
	StatusCancelled  RideStatus = "CANCELLED"
)

// Ride is a pending ride request. Cost and Duration form the priority key.
type Ride struct {
	ID       int        `json:"ride_number"`
	Cost     int        `json:"ride_cost"`
	Duration int        `json:"trip_duration"`
	Status   RideStatus `json:"status"`
	// Seq orders rides with equal cost and duration; earlier insertion wins.
	Seq uint64 `json:"-"`
}

// Less orders rides by cost, then duration, then insertion sequence.
func (r *Ride) Less(other *Ride) bool {
	if r.Cost != other.Cost {
		return r.Cost < other.Cost
	}
	if r.Duration != other.Duration {
		return r.Duration < other.Duration
	}
	return r.Seq < other.Seq
}

// UpdateOutcome tells which branch UpdateTrip took.
type UpdateOutcome string

const (
	OutcomeNotFound  UpdateOutcome = "NOT_FOUND"
	OutcomeShortened UpdateOutcome = "SHORTENED"
	OutcomeRepriced  UpdateOutcome = "REPRICED"
	OutcomeAbandoned UpdateOutcome = "ABANDONED"
)

// RideEventType names a lifecycle transition.
type RideEventType string

const (
	EventRideRequested  RideEventType = "RideRequested"
	EventRideDispatched RideEventType = "RideDispatched"
	EventRideCancelled  RideEventType = "RideCancelled"
	EventRideShortened  RideEventType = "RideShortened"
	EventRideRepriced   RideEventType = "RideRepriced"
	EventRideAbandoned  RideEventType = "RideAbandoned"
)

// RideEvent records one transition with a copy of the ride after it.
type RideEvent struct {
	ID        uuid.UUID     `json:"id"`
	Type      RideEventType `json:"type"`
	Ride      Ride          `json:"ride"`
	CreatedAt time.Time     `json:"created_at"`
}

// IdempotencyStore caches the response of a mutating request under its
// client supplied idempotency key.
type IdempotencyStore interface {
	GetResponse(ctx context.Context, key string) ([]byte, bool, error)
	PutResponse(ctx context.Context, key string, payload []byte) error
}

// EventPublisher receives every ride transition.
type EventPublisher interface {
	Publish(ctx context.Context, event RideEvent) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
