// Package queue holds pending rides in a capacity bounded binary min-heap.
//
// The heap stores handles owned by the caller and keeps an id to position map in
// step with every swap, so duplicate checks are O(1) and removal by id is O(log n).
// A Queue is not safe for concurrent use.
package queue

import (
	"errors"

	"github.com/example/gatortaxi/internal/ride/domain"
)

var (
	// ErrDuplicate indicates a ride with the same id is already queued.
	ErrDuplicate = errors.New("ride already queued")
	// ErrFull indicates the queue reached its capacity.
	ErrFull = errors.New("queue is full")
)

// Queue orders rides by domain.Ride.Less.
type Queue struct {
	items    []*domain.Ride
	pos      map[int]int
	capacity int
}

// New constructs an empty queue holding at most capacity rides.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = domain.DefaultCapacity
	}
	return &Queue{
		items:    make([]*domain.Ride, 0, capacity),
		pos:      make(map[int]int, capacity),
		capacity: capacity,
	}
}

// Insert appends the ride and sifts it up.
func (q *Queue) Insert(r *domain.Ride) error {
	if _, ok := q.pos[r.ID]; ok {
		return ErrDuplicate
	}
	if len(q.items) >= q.capacity {
		return ErrFull
	}
	q.items = append(q.items, r)
	i := len(q.items) - 1
	q.pos[r.ID] = i
	q.up(i)
	return nil
}

// Peek returns the minimum ride without removing it.
func (q *Queue) Peek() (*domain.Ride, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// ExtractMin removes and returns the minimum ride.
func (q *Queue) ExtractMin() (*domain.Ride, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	head := q.items[0]
	q.removeAt(0)
	return head, true
}

// RemoveByID drops the ride with the given id. It reports false when absent.
func (q *Queue) RemoveByID(id int) bool {
	i, ok := q.pos[id]
	if !ok {
		return false
	}
	q.removeAt(i)
	return true
}

// Fix restores heap order after the key of the ride with the given id changed.
func (q *Queue) Fix(id int) bool {
	i, ok := q.pos[id]
	if !ok {
		return false
	}
	if !q.up(i) {
		q.down(i)
	}
	return true
}

func (q *Queue) Len() int      { return len(q.items) }
func (q *Queue) Cap() int      { return q.capacity }
func (q *Queue) IsEmpty() bool { return len(q.items) == 0 }

func (q *Queue) removeAt(i int) {
	last := len(q.items) - 1
	removed := q.items[i]
	if i != last {
		q.swap(i, last)
	}
	q.items[last] = nil
	q.items = q.items[:last]
	delete(q.pos, removed.ID)
	if i < last && !q.up(i) {
		q.down(i)
	}
}

// up sifts the element at i toward the root and reports whether it moved.
func (q *Queue) up(i int) bool {
	start := i
	for i > 0 {
		parent := (i - 1) / 2
		if !q.items[i].Less(q.items[parent]) {
			break
		}
		q.swap(i, parent)
		i = parent
	}
	return i != start
}

func (q *Queue) down(i int) {
	n := len(q.items)
	for {
		smallest := i
		left, right := 2*i+1, 2*i+2
		if left < n && q.items[left].Less(q.items[smallest]) {
			smallest = left
		}
		if right < n && q.items[right].Less(q.items[smallest]) {
			smallest = right
		}
		if smallest == i {
			return
		}
		q.swap(i, smallest)
		i = smallest
	}
}

func (q *Queue) swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.pos[q.items[i].ID] = i
	q.pos[q.items[j].ID] = j
}
