package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"slideremote-relay-server/domain"
)

const (
	DefaultAngleInterval = 150 * time.Millisecond
	DefaultAngleWindow   = 500 * time.Millisecond
)

type Hub struct {
	rooms map[int]*room
	mu    sync.RWMutex

	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

type Option func(*Hub)

// WithAngleInterval sets how often each room pushes its averaged angle.
func WithAngleInterval(d time.Duration) Option {
	return func(h *Hub) { h.interval = d }
}

// WithAngleWindow sets how long an angle sample counts as fresh.
func WithAngleWindow(d time.Duration) Option {
	return func(h *Hub) { h.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		rooms:    make(map[int]*room),
		interval: DefaultAngleInterval,
		window:   DefaultAngleWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// lookup returns the live room for code, or nil.
func (h *Hub) lookup(code int) *room {
	h.mu.RLock()
	r := h.rooms[code]
	h.mu.RUnlock()
	return r
}

func (h *Hub) CreateRoom(code int, presenter domain.Connection) error {
	h.mu.Lock()
	if existing, ok := h.rooms[code]; ok && !existing.isClosed() {
		h.mu.Unlock()
		return domain.ErrRoomExists
	}

	r := newRoom(code, presenter)
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	h.rooms[code] = r
	h.mu.Unlock()

	go h.runAggregator(ctx, r)

	slog.Info("room created", "code", code, "clientId", presenter.ID())
	return nil
}

func (h *Hub) JoinRoom(code int, conn domain.Connection, role domain.Source) error {
	r := h.lookup(code)
	if r == nil {
		return domain.ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return domain.ErrRoomNotFound
	}
	if _, ok := r.controllers[conn.ID()]; ok {
		return domain.ErrAlreadyJoined
	}
	if _, ok := r.voices[conn.ID()]; ok {
		return domain.ErrAlreadyJoined
	}

	switch role {
	case domain.SourceController:
		r.controllers[conn.ID()] = conn
	case domain.SourceVoice:
		r.voices[conn.ID()] = conn
	default:
		return domain.ErrInvalidRole
	}

	slog.Info("client joined", "code", code, "clientId", conn.ID(), "role", role,
		"controllers", len(r.controllers), "voices", len(r.voices))
	return nil
}

// RecordAngle stores the latest angle reported by conn. Membership is not
// checked: any connection that names the room may contribute a sample.
func (h *Hub) RecordAngle(code int, conn domain.Connection, angle float64, now time.Time) {
	r := h.lookup(code)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.presenter == nil {
		return
	}
	r.angles[conn.ID()] = angleSample{angle: angle, lastUpdated: now}
}

func (h *Hub) ForwardCommand(code int, change domain.Change) bool {
	r := h.lookup(code)
	if r == nil {
		return false
	}

	r.mu.Lock()
	presenter := r.presenter
	if r.closed {
		presenter = nil
	}
	r.mu.Unlock()

	if presenter == nil {
		return false
	}
	domain.Deliver(presenter, domain.CommandUpdate(change))
	return true
}

func (h *Hub) BroadcastSlide(code int, slideNumber float64) int {
	r := h.lookup(code)
	if r == nil {
		return 0
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	voices := make([]domain.Connection, 0, len(r.voices))
	for _, v := range r.voices {
		voices = append(voices, v)
	}
	r.mu.Unlock()

	msg := domain.SlideUpdate(slideNumber)
	for _, v := range voices {
		domain.Deliver(v, msg)
	}
	return len(voices)
}

// RemoveConnection drops conn from every room it belongs to. A departing
// presenter closes its room; a room left with no members is removed too.
func (h *Hub) RemoveConnection(conn domain.Connection) {
	h.mu.RLock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	id := conn.ID()
	for _, r := range rooms {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}

		if r.presenter != nil && r.presenter.ID() == id {
			r.shutdown()
			r.mu.Unlock()
			h.deleteRoom(r)
			slog.Info("presenter left, room closed", "code", r.code, "clientId", id)
			continue
		}

		delete(r.controllers, id)
		delete(r.voices, id)
		delete(r.angles, id)

		empty := r.presenter == nil && len(r.controllers) == 0 && len(r.voices) == 0
		if empty {
			r.shutdown()
		}
		r.mu.Unlock()

		if empty {
			h.deleteRoom(r)
			slog.Info("room removed", "code", r.code)
		}
	}
}

// deleteRoom unlinks r unless its code has already been reused.
func (h *Hub) deleteRoom(r *room) {
	h.mu.Lock()
	if h.rooms[r.code] == r {
		delete(h.rooms, r.code)
	}
	h.mu.Unlock()
}

func (h *Hub) Room(code int) (RoomInfo, bool) {
	r := h.lookup(code)
	if r == nil {
		return RoomInfo{}, false
	}
	info := r.info()
	if r.isClosed() {
		return RoomInfo{}, false
	}
	return info, true
}

func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, r := range h.rooms {
		if r.isClosed() {
			continue
		}
		rooms++
		clients += r.clientCount()
	}
	return rooms, clients
}

// Close tears down every room and waits for their aggregators to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[int]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.mu.Lock()
		r.shutdown()
		r.mu.Unlock()
		<-r.done
	}
	slog.Info("hub closed", "rooms", len(rooms))
}
