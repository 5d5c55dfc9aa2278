package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"slideremote-relay-server/domain"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrInvalidMessage = errors.New("invalid message")
)

// Message is a fully validated inbound frame. Body holds exactly one of
// Create, Join, Leave, Data, Command or Motion.
type Message struct {
	Code   int
	Source domain.Source
	Body   Body
}

func (m Message) Event() domain.Event {
	if m.Body == nil {
		return ""
	}
	return m.Body.event()
}

type Body interface {
	event() domain.Event
}

// Create opens a room. SlideData is carried opaquely and may be empty.
type Create struct {
	SlideData json.RawMessage
}

type Join struct{}

type Leave struct{}

type Data struct {
	SlideNumber float64
}

type Command struct {
	Change domain.Change
}

// Motion carries a controller's orientation angle. Values are range checked
// against single precision but kept at full precision.
type Motion struct {
	Angle float64
}

func (Create) event() domain.Event  { return domain.EventCreate }
func (Join) event() domain.Event    { return domain.EventJoin }
func (Leave) event() domain.Event   { return domain.EventLeave }
func (Data) event() domain.Event    { return domain.EventData }
func (Command) event() domain.Event { return domain.EventCommand }
func (Motion) event() domain.Event  { return domain.EventMotion }

type fields map[string]json.RawMessage

// Parse decodes and validates a raw frame. It never returns a partially
// populated Message.
func Parse(data []byte) (Message, error) {
	if !json.Valid(data) {
		return Message{}, fmt.Errorf("%w: not valid json", ErrMalformed)
	}

	var f fields
	if err := json.Unmarshal(data, &f); err != nil || f == nil {
		return Message{}, invalid("message must be a json object")
	}

	code, err := f.code()
	if err != nil {
		return Message{}, err
	}

	source, err := f.str("source")
	if err != nil {
		return Message{}, err
	}
	if !domain.Source(source).Valid() {
		return Message{}, invalid("unknown source %q", source)
	}

	event, err := f.str("event")
	if err != nil {
		return Message{}, err
	}
	body, err := f.body(domain.Event(event))
	if err != nil {
		return Message{}, err
	}

	return Message{Code: code, Source: domain.Source(source), Body: body}, nil
}

func (f fields) body(event domain.Event) (Body, error) {
	switch event {
	case domain.EventCreate:
		return Create{SlideData: f["slideData"]}, nil
	case domain.EventJoin:
		return Join{}, nil
	case domain.EventLeave:
		return Leave{}, nil
	case domain.EventData:
		n, err := f.number("slideNumber")
		if err != nil {
			return nil, err
		}
		return Data{SlideNumber: n}, nil
	case domain.EventCommand:
		change, err := f.str("change")
		if err != nil {
			return nil, err
		}
		if !domain.Change(change).Valid() {
			return nil, invalid("unknown change %q", change)
		}
		return Command{Change: domain.Change(change)}, nil
	case domain.EventMotion:
		angle, err := f.number("angle")
		if err != nil {
			return nil, err
		}
		if math.Abs(angle) > math.MaxFloat32 {
			return nil, invalid("angle %g out of float32 range", angle)
		}
		return Motion{Angle: angle}, nil
	default:
		return nil, invalid("unknown event %q", event)
	}
}

func (f fields) code() (int, error) {
	n, err := f.number("code")
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) {
		return 0, invalid("code must be an integer")
	}
	if n < domain.MinRoomCode || n > domain.MaxRoomCode {
		return 0, invalid("code %.0f out of range", n)
	}
	return int(n), nil
}

func (f fields) required(name string) (json.RawMessage, error) {
	raw, ok := f[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, invalid("%s is required", name)
	}
	return raw, nil
}

func (f fields) number(name string) (float64, error) {
	raw, err := f.required(name)
	if err != nil {
		return 0, err
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, invalid("%s must be a number", name)
	}
	return n, nil
}

func (f fields) str(name string) (string, error) {
	raw, err := f.required(name)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalid("%s must be a string", name)
	}
	return s, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, fmt.Sprintf(format, args...))
}
