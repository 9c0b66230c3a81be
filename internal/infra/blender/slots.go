package blender

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrSlotsClosed is returned by Acquire after Close.
var ErrSlotsClosed = errors.New("render slots closed")

// Slots bounds how many render-host processes run at once.
type Slots struct {
	mu     sync.Mutex
	sem    chan struct{}
	closed bool

	acquired atomic.Int64
	timeouts atomic.Int64
}

// Slot is a held permission to run one render.
type Slot struct {
	AcquiredAt time.Time
	released   atomic.Bool
}

// Stats is a point-in-time view used by the stats endpoint.
type Stats struct {
	Enabled  bool  `json:"enabled"`
	Capacity int   `json:"capacity"`
	Idle     int   `json:"idle"`
	InUse    int   `json:"in_use"`
	Acquired int64 `json:"acquired_total"`
	Timeouts int64 `json:"acquire_timeouts"`
}

// NewSlots creates n slots. n must be positive.
func NewSlots(n int) (*Slots, error) {
	if n <= 0 {
		return nil, errors.New("render slots disabled (max_concurrent <= 0)")
	}
	s := &Slots{sem: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		s.sem <- struct{}{}
	}
	return s, nil
}

// Acquire blocks until a slot is free, ctx is done, or the slots are closed.
func (s *Slots) Acquire(ctx context.Context) (*Slot, error) {
	s.mu.Lock()
	closed := s.closed
	sem := s.sem
	s.mu.Unlock()
	if closed || sem == nil {
		return nil, ErrSlotsClosed
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.timeouts.Add(1)
		}
		return nil, ctx.Err()
	case <-sem:
		s.acquired.Add(1)
		return &Slot{AcquiredAt: time.Now()}, nil
	}
}

// Release returns a slot. Releasing the same slot twice is a no-op.
func (s *Slots) Release(slot *Slot) {
	if slot == nil || !slot.released.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sem == nil {
		return
	}
	select {
	case s.sem <- struct{}{}:
	default:
	}
}

// Stats reports capacity and usage.
func (s *Slots) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sem == nil {
		return Stats{}
	}
	capacity := cap(s.sem)
	idle := len(s.sem)
	return Stats{
		Enabled:  !s.closed,
		Capacity: capacity,
		Idle:     idle,
		InUse:    capacity - idle,
		Acquired: s.acquired.Load(),
		Timeouts: s.timeouts.Load(),
	}
}

// Close rejects further acquisitions. Held slots may still be released.
func (s *Slots) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
