package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slideremote-relay-server/domain"
	"slideremote-relay-server/hub"
)

const testCode = 123456789

type mockConn struct {
	id   string
	sent [][]byte
	mu   sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error { return nil }

func (m *mockConn) getSent() []domain.ServerMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ServerMessage, 0, len(m.sent))
	for _, data := range m.sent {
		var msg domain.ServerMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockConn) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

func frame(code int, source domain.Source, event domain.Event, extra string) []byte {
	s := fmt.Sprintf(`{"code":%d,"source":%q,"event":%q`, code, source, event)
	if extra != "" {
		s += "," + extra
	}
	return []byte(s + "}")
}

// newTestHandler returns a handler backed by a hub whose aggregator never
// fires on its own.
func newTestHandler(t *testing.T) (*Handler, *hub.Hub) {
	t.Helper()
	rooms := hub.New(hub.WithAngleInterval(time.Hour))
	t.Cleanup(rooms.Close)
	return NewHandler(rooms), rooms
}

func requireReply(t *testing.T, conn *mockConn, event domain.Event, message string) {
	t.Helper()
	sent := conn.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, event, sent[0].Event)
	assert.Equal(t, domain.SourceServer, sent[0].Source)
	assert.Equal(t, message, sent[0].Message)
}

func TestHandler_Create(t *testing.T) {
	handler, rooms := newTestHandler(t)
	presenter := &mockConn{id: "presenter"}

	handler.Handle(presenter, frame(testCode, domain.SourcePresenter, domain.EventCreate, `"slideData":[1,2]`))

	requireReply(t, presenter, domain.EventJoin, msgRoomCreated)
	assert.Equal(t, "ok", presenter.getSent()[0].Status)
	info, ok := rooms.Room(testCode)
	require.True(t, ok)
	assert.True(t, info.HasPresenter)
}

func TestHandler_CreateExisting(t *testing.T) {
	handler, rooms := newTestHandler(t)
	owner := &mockConn{id: "owner"}
	intruder := &mockConn{id: "intruder"}

	handler.Handle(owner, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))
	before, _ := rooms.Room(testCode)

	handler.Handle(intruder, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))

	requireReply(t, intruder, domain.EventError, msgRoomExists)
	after, _ := rooms.Room(testCode)
	assert.Equal(t, before, after)

	// The room still belongs to the first presenter.
	handler.Disconnect(intruder)
	_, ok := rooms.Room(testCode)
	assert.True(t, ok)
}

func TestHandler_CreateFromWrongSource(t *testing.T) {
	handler, rooms := newTestHandler(t)
	conn := &mockConn{id: "controller"}

	handler.Handle(conn, frame(testCode, domain.SourceController, domain.EventCreate, ""))

	assert.Empty(t, conn.getSent())
	_, ok := rooms.Room(testCode)
	assert.False(t, ok)
}

func TestHandler_Join(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		source      domain.Source
		joinTwice   bool
		wantEvent   domain.Event
		wantMessage string
	}{
		{
			name:        "controller joins",
			code:        testCode,
			source:      domain.SourceController,
			wantEvent:   domain.EventJoin,
			wantMessage: msgJoinedRoom,
		},
		{
			name:        "voice joins",
			code:        testCode,
			source:      domain.SourceVoice,
			wantEvent:   domain.EventJoin,
			wantMessage: msgJoinedRoom,
		},
		{
			name:        "unknown room",
			code:        987654321,
			source:      domain.SourceController,
			wantEvent:   domain.EventError,
			wantMessage: msgRoomNotFound,
		},
		{
			name:        "second join rejected",
			code:        testCode,
			source:      domain.SourceVoice,
			joinTwice:   true,
			wantEvent:   domain.EventError,
			wantMessage: msgAlreadyJoined,
		},
		{
			name:        "presenter cannot join",
			code:        testCode,
			source:      domain.SourcePresenter,
			wantEvent:   domain.EventError,
			wantMessage: msgInvalidRole,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, rooms := newTestHandler(t)
			handler.Handle(&mockConn{id: "presenter"}, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))

			conn := &mockConn{id: "client"}
			if tt.joinTwice {
				handler.Handle(conn, frame(tt.code, tt.source, domain.EventJoin, ""))
				conn.reset()
			}
			before, _ := rooms.Room(testCode)

			handler.Handle(conn, frame(tt.code, tt.source, domain.EventJoin, ""))

			requireReply(t, conn, tt.wantEvent, tt.wantMessage)
			if tt.wantEvent == domain.EventError {
				after, _ := rooms.Room(testCode)
				assert.Equal(t, before, after)
			}
		})
	}
}

func TestHandler_JoinTwiceWithDifferentRole(t *testing.T) {
	handler, rooms := newTestHandler(t)
	handler.Handle(&mockConn{id: "presenter"}, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))

	conn := &mockConn{id: "client"}
	handler.Handle(conn, frame(testCode, domain.SourceController, domain.EventJoin, ""))
	conn.reset()
	handler.Handle(conn, frame(testCode, domain.SourceVoice, domain.EventJoin, ""))

	requireReply(t, conn, domain.EventError, msgAlreadyJoined)
	info, _ := rooms.Room(testCode)
	assert.Equal(t, 1, info.Controllers)
	assert.Zero(t, info.Voices)
}

func TestHandler_UnknownRoomIsNotMutated(t *testing.T) {
	handler, rooms := newTestHandler(t)
	const missing = 555555555

	controller := &mockConn{id: "controller"}
	voice := &mockConn{id: "voice"}
	presenter := &mockConn{id: "presenter"}

	handler.Handle(controller, frame(missing, domain.SourceController, domain.EventMotion, `"angle":10`))
	handler.Handle(voice, frame(missing, domain.SourceVoice, domain.EventCommand, `"change":"forward"`))
	handler.Handle(presenter, frame(missing, domain.SourcePresenter, domain.EventData, `"slideNumber":2`))

	assert.Empty(t, controller.getSent())
	assert.Empty(t, voice.getSent())
	assert.Empty(t, presenter.getSent())
	roomCount, clients := rooms.Stats()
	assert.Zero(t, roomCount)
	assert.Zero(t, clients)

	handler.Handle(controller, frame(missing, domain.SourceController, domain.EventJoin, ""))
	requireReply(t, controller, domain.EventError, msgRoomNotFound)
}

func TestHandler_Motion(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rooms := hub.New(hub.WithAngleInterval(time.Hour))
	t.Cleanup(rooms.Close)
	handler := NewHandler(rooms, WithClock(func() time.Time { return now }))

	presenter := &mockConn{id: "presenter"}
	controller := &mockConn{id: "controller"}
	handler.Handle(presenter, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))
	handler.Handle(controller, frame(testCode, domain.SourceController, domain.EventJoin, ""))
	presenter.reset()
	controller.reset()

	handler.Handle(controller, frame(testCode, domain.SourceController, domain.EventMotion, `"angle":25`))

	assert.Empty(t, controller.getSent())
	assert.Empty(t, presenter.getSent())
	info, _ := rooms.Room(testCode)
	assert.Equal(t, 1, info.Samples)

	// Motion from any other source is ignored.
	handler.Handle(&mockConn{id: "voice"}, frame(testCode, domain.SourceVoice, domain.EventMotion, `"angle":90`))
	info, _ = rooms.Room(testCode)
	assert.Equal(t, 1, info.Samples)
}

func TestHandler_MotionAveragedToPresenter(t *testing.T) {
	rooms := hub.New(hub.WithAngleInterval(10 * time.Millisecond))
	t.Cleanup(rooms.Close)
	handler := NewHandler(rooms)

	presenter := &mockConn{id: "presenter"}
	handler.Handle(presenter, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))
	for i, angle := range []int{10, 30} {
		c := &mockConn{id: fmt.Sprintf("controller-%d", i)}
		handler.Handle(c, frame(testCode, domain.SourceController, domain.EventJoin, ""))
		handler.Handle(c, frame(testCode, domain.SourceController, domain.EventMotion, fmt.Sprintf(`"angle":%d`, angle)))
	}

	assert.Eventually(t, func() bool {
		for _, msg := range presenter.getSent() {
			if msg.Event == domain.EventMotion && msg.Angle != nil && *msg.Angle == 20 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_Command(t *testing.T) {
	handler, _ := newTestHandler(t)

	presenter := &mockConn{id: "presenter"}
	voice := &mockConn{id: "voice"}
	otherVoice := &mockConn{id: "voice2"}
	controller := &mockConn{id: "controller"}
	handler.Handle(presenter, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))
	handler.Handle(voice, frame(testCode, domain.SourceVoice, domain.EventJoin, ""))
	handler.Handle(otherVoice, frame(testCode, domain.SourceVoice, domain.EventJoin, ""))
	handler.Handle(controller, frame(testCode, domain.SourceController, domain.EventJoin, ""))
	for _, c := range []*mockConn{presenter, voice, otherVoice, controller} {
		c.reset()
	}

	handler.Handle(voice, frame(testCode, domain.SourceVoice, domain.EventCommand, `"change":"forward"`))

	sent := presenter.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.EventCommand, sent[0].Event)
	assert.Equal(t, domain.SourceServer, sent[0].Source)
	assert.Equal(t, domain.ChangeForward, sent[0].Change)
	assert.Empty(t, voice.getSent())
	assert.Empty(t, otherVoice.getSent())
	assert.Empty(t, controller.getSent())

	// Commands from a controller are ignored.
	handler.Handle(controller, frame(testCode, domain.SourceController, domain.EventCommand, `"change":"backward"`))
	assert.Len(t, presenter.getSent(), 1)
}

func TestHandler_DataFanOut(t *testing.T) {
	handler, _ := newTestHandler(t)

	presenter := &mockConn{id: "presenter"}
	voices := []*mockConn{{id: "voice1"}, {id: "voice2"}}
	controller := &mockConn{id: "controller"}
	handler.Handle(presenter, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))
	for _, v := range voices {
		handler.Handle(v, frame(testCode, domain.SourceVoice, domain.EventJoin, ""))
		v.reset()
	}
	handler.Handle(controller, frame(testCode, domain.SourceController, domain.EventJoin, ""))
	controller.reset()
	presenter.reset()

	handler.Handle(presenter, frame(testCode, domain.SourcePresenter, domain.EventData, `"slideNumber":7`))

	for _, v := range voices {
		sent := v.getSent()
		require.Len(t, sent, 1, "voice %s", v.ID())
		assert.Equal(t, domain.EventData, sent[0].Event)
		require.NotNil(t, sent[0].SlideNumber)
		assert.Equal(t, float64(7), *sent[0].SlideNumber)
	}
	assert.Empty(t, controller.getSent())
	assert.Empty(t, presenter.getSent())

	// Slide data from a voice is ignored.
	handler.Handle(voices[0], frame(testCode, domain.SourceVoice, domain.EventData, `"slideNumber":8`))
	assert.Len(t, voices[1].getSent(), 1)
}

func TestHandler_LeaveIsIgnored(t *testing.T) {
	handler, rooms := newTestHandler(t)
	presenter := &mockConn{id: "presenter"}
	voice := &mockConn{id: "voice"}
	handler.Handle(presenter, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))
	handler.Handle(voice, frame(testCode, domain.SourceVoice, domain.EventJoin, ""))
	voice.reset()

	handler.Handle(voice, frame(testCode, domain.SourceVoice, domain.EventLeave, ""))

	assert.Empty(t, voice.getSent())
	info, _ := rooms.Room(testCode)
	assert.Equal(t, 1, info.Voices)
}

func TestHandler_InvalidInput(t *testing.T) {
	handler, rooms := newTestHandler(t)
	conn := &mockConn{id: "client1"}

	handler.Handle(conn, []byte("not json"))
	handler.Handle(conn, []byte(`{"code":1,"source":"presenter","event":"create"}`))
	handler.Handle(conn, []byte(`{"code":123456789,"source":"presenter","event":"data"}`))

	assert.Empty(t, conn.getSent())
	roomCount, _ := rooms.Stats()
	assert.Zero(t, roomCount)
}

func TestHandler_PresenterDisconnect(t *testing.T) {
	handler, rooms := newTestHandler(t)
	presenter := &mockConn{id: "presenter"}
	handler.Handle(presenter, frame(testCode, domain.SourcePresenter, domain.EventCreate, ""))
	for i := 0; i < 3; i++ {
		handler.Handle(&mockConn{id: fmt.Sprintf("c%d", i)}, frame(testCode, domain.SourceController, domain.EventJoin, ""))
		handler.Handle(&mockConn{id: fmt.Sprintf("v%d", i)}, frame(testCode, domain.SourceVoice, domain.EventJoin, ""))
	}

	handler.Disconnect(presenter)

	_, ok := rooms.Room(testCode)
	assert.False(t, ok)

	late := &mockConn{id: "late"}
	handler.Handle(late, frame(testCode, domain.SourceController, domain.EventJoin, ""))
	requireReply(t, late, domain.EventError, msgRoomNotFound)
}
