package arena

import (
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

var (
	ErrQueueFull     = errors.New("matchmaking queue is full")
	ErrAlreadyQueued = errors.New("player is already queued")
)

const defaultQueueCapacity = 1024

// Queue is a bounded FIFO of players waiting for an opponent.
type Queue struct {
	mu       sync.Mutex
	items    []Peer
	queued   mapset.Set[string]
	capacity int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Queue{
		queued:   mapset.NewThreadUnsafeSet[string](),
		capacity: capacity,
	}
}

func (q *Queue) Push(p Peer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued.Contains(p.UserID()) {
		return ErrAlreadyQueued
	}
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, p)
	q.queued.Add(p.UserID())
	return nil
}

func (q *Queue) Pop() (Peer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.shift(), true
}

// PopPair removes the two oldest players, or nothing when fewer are waiting.
func (q *Queue) PopPair() (Peer, Peer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) < 2 {
		return nil, nil, false
	}
	a := q.shift()
	b := q.shift()
	return a, b, true
}

// Remove drops the queued player with userID.
func (q *Queue) Remove(userID string) bool {
	return q.removeWhere(func(p Peer) bool { return p.UserID() == userID })
}

// RemovePeer drops p only if that exact connection is still queued.
func (q *Queue) RemovePeer(p Peer) bool {
	return q.removeWhere(func(item Peer) bool { return item == p })
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) removeWhere(match func(Peer) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if match(item) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.queued.Remove(item.UserID())
			return true
		}
	}
	return false
}

func (q *Queue) shift() Peer {
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.queued.Remove(p.UserID())
	return p
}
