package domain

import (
	"errors"
	"time"
)

// Room codes are nine-digit join codes chosen by the presenter.
const (
	MinRoomCode = 100_000_000
	MaxRoomCode = 999_999_999
)

type Source string

const (
	SourceServer     Source = "server"
	SourceController Source = "controller"
	SourceVoice      Source = "voice"
	SourcePresenter  Source = "presenter"
)

func (s Source) Valid() bool {
	switch s {
	case SourceServer, SourceController, SourceVoice, SourcePresenter:
		return true
	}
	return false
}

type Event string

const (
	EventCreate  Event = "create"
	EventJoin    Event = "join"
	EventLeave   Event = "leave"
	EventData    Event = "data"
	EventCommand Event = "command"
	EventMotion  Event = "motion"
	EventError   Event = "error"
)

type Change string

const (
	ChangeForward  Change = "forward"
	ChangeBackward Change = "backward"
)

func (c Change) Valid() bool {
	return c == ChangeForward || c == ChangeBackward
}

var (
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room does not exist")
	ErrAlreadyJoined = errors.New("connection already joined room")
	ErrInvalidRole   = errors.New("invalid client type")
)

type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// RoomRegistry owns every room and its membership. Operations that address
// a missing room or a room without a presenter are no-ops.
type RoomRegistry interface {
	CreateRoom(code int, presenter Connection) error
	JoinRoom(code int, conn Connection, role Source) error
	RecordAngle(code int, conn Connection, angle float64, now time.Time)
	ForwardCommand(code int, change Change) bool
	BroadcastSlide(code int, slideNumber float64) int
	RemoveConnection(conn Connection)
	Stats() (rooms, clients int)
}

type MessageHandler interface {
	Handle(conn Connection, data []byte)
	Disconnect(conn Connection)
}
