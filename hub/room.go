package hub

import (
	"context"
	"sync"
	"time"

	"slideremote-relay-server/domain"
)

type angleSample struct {
	angle       float64
	lastUpdated time.Time
}

type room struct {
	code        int
	presenter   domain.Connection
	controllers map[string]domain.Connection
	voices      map[string]domain.Connection
	angles      map[string]angleSample
	closed      bool
	mu          sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func newRoom(code int, presenter domain.Connection) *room {
	return &room{
		code:        code,
		presenter:   presenter,
		controllers: make(map[string]domain.Connection),
		voices:      make(map[string]domain.Connection),
		angles:      make(map[string]angleSample),
		done:        make(chan struct{}),
	}
}

// RoomInfo is a point-in-time view of a room's membership.
type RoomInfo struct {
	Code         int
	HasPresenter bool
	Controllers  int
	Voices       int
	Samples      int
}

func (r *room) info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomInfo{
		Code:         r.code,
		HasPresenter: r.presenter != nil,
		Controllers:  len(r.controllers),
		Voices:       len(r.voices),
		Samples:      len(r.angles),
	}
}

func (r *room) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// shutdown must be called with r.mu held.
func (r *room) shutdown() {
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *room) clientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.controllers) + len(r.voices)
	if r.presenter != nil {
		n++
	}
	return n
}

// freshAverage returns the mean of samples younger than window, and the
// presenter to deliver it to.
func (r *room) freshAverage(now time.Time, window time.Duration) (float64, domain.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.presenter == nil {
		return 0, nil, false
	}

	var sum float64
	var count int
	for _, s := range r.angles {
		if now.Sub(s.lastUpdated) < window {
			sum += s.angle
			count++
		}
	}
	if count == 0 {
		return 0, nil, false
	}
	return sum / float64(count), r.presenter, true
}
