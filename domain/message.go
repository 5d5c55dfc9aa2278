package domain

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// ServerMessage is every frame the relay originates. Source is always "server".
type ServerMessage struct {
	Event       Event    `json:"event"`
	Source      Source   `json:"source"`
	Status      string   `json:"status,omitempty"`
	Message     string   `json:"message,omitempty"`
	Angle       *float64 `json:"angle,omitempty"`
	Change      Change   `json:"change,omitempty"`
	SlideNumber *float64 `json:"slideNumber,omitempty"`
}

func JoinAck(message string) ServerMessage {
	return ServerMessage{Event: EventJoin, Source: SourceServer, Status: "ok", Message: message}
}

func ErrorReply(message string) ServerMessage {
	return ServerMessage{Event: EventError, Source: SourceServer, Message: message}
}

func MotionUpdate(angle float64) ServerMessage {
	return ServerMessage{Event: EventMotion, Source: SourceServer, Angle: &angle}
}

func CommandUpdate(change Change) ServerMessage {
	return ServerMessage{Event: EventCommand, Source: SourceServer, Change: change}
}

func SlideUpdate(slideNumber float64) ServerMessage {
	return ServerMessage{Event: EventData, Source: SourceServer, SlideNumber: &slideNumber}
}

// Deliver encodes msg and hands it to conn. Failures are logged and
// returned, but callers treat delivery as best effort.
func Deliver(conn Connection, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal error", "clientId", conn.ID(), "event", msg.Event, "error", err)
		return fmt.Errorf("marshal %s message: %w", msg.Event, err)
	}
	if err := conn.Send(data); err != nil {
		slog.Warn("send failed", "clientId", conn.ID(), "event", msg.Event, "error", err)
		return fmt.Errorf("send %s message: %w", msg.Event, err)
	}
	return nil
}
