package protocol

import (
	"errors"
	"log/slog"
	"time"

	"slideremote-relay-server/domain"
)

// Replies sent to the originating connection.
const (
	msgRoomCreated   = "Room created"
	msgJoinedRoom    = "Joined room"
	msgRoomExists    = "Room already exists"
	msgRoomNotFound  = "Room does not exist"
	msgAlreadyJoined = "Already joined this room"
	msgInvalidRole   = "Invalid client type"
)

type Handler struct {
	rooms domain.RoomRegistry
	now   func() time.Time
}

type HandlerOption func(*Handler)

// WithClock sets the clock used to timestamp motion samples.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

func NewHandler(rooms domain.RoomRegistry, opts ...HandlerOption) *Handler {
	h := &Handler{rooms: rooms, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Handle(conn domain.Connection, data []byte) {
	msg, err := Parse(data)
	if err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return
	}

	switch body := msg.Body.(type) {
	case Create:
		if msg.Source == domain.SourcePresenter {
			h.create(conn, msg.Code)
			return
		}
	case Join:
		h.join(conn, msg.Code, msg.Source)
		return
	case Motion:
		if msg.Source == domain.SourceController {
			h.rooms.RecordAngle(msg.Code, conn, body.Angle, h.now())
			return
		}
	case Command:
		if msg.Source == domain.SourceVoice {
			if h.rooms.ForwardCommand(msg.Code, body.Change) {
				slog.Info("voice command forwarded", "code", msg.Code, "clientId", conn.ID(), "change", body.Change)
			}
			return
		}
	case Data:
		if msg.Source == domain.SourcePresenter {
			n := h.rooms.BroadcastSlide(msg.Code, body.SlideNumber)
			slog.Info("slide changed", "code", msg.Code, "slideNumber", body.SlideNumber, "voices", n)
			return
		}
	}

	slog.Debug("message ignored", "clientId", conn.ID(), "code", msg.Code,
		"event", msg.Event(), "source", msg.Source)
}

// Disconnect removes conn from every room it belongs to.
func (h *Handler) Disconnect(conn domain.Connection) {
	h.rooms.RemoveConnection(conn)
}

func (h *Handler) create(conn domain.Connection, code int) {
	if err := h.rooms.CreateRoom(code, conn); err != nil {
		h.reject(conn, code, err)
		return
	}
	domain.Deliver(conn, domain.JoinAck(msgRoomCreated))
}

func (h *Handler) join(conn domain.Connection, code int, role domain.Source) {
	if err := h.rooms.JoinRoom(code, conn, role); err != nil {
		h.reject(conn, code, err)
		return
	}
	domain.Deliver(conn, domain.JoinAck(msgJoinedRoom))
}

func (h *Handler) reject(conn domain.Connection, code int, err error) {
	reason := err.Error()
	switch {
	case errors.Is(err, domain.ErrRoomExists):
		reason = msgRoomExists
	case errors.Is(err, domain.ErrRoomNotFound):
		reason = msgRoomNotFound
	case errors.Is(err, domain.ErrAlreadyJoined):
		reason = msgAlreadyJoined
	case errors.Is(err, domain.ErrInvalidRole):
		reason = msgInvalidRole
	}

	slog.Info("request rejected", "clientId", conn.ID(), "code", code, "reason", reason)
	domain.Deliver(conn, domain.ErrorReply(reason))
}
