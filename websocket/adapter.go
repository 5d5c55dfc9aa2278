package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"slideremote-relay-server/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	DefaultMaxMessageSize = 4096
	DefaultSendBuffer     = 256
)

var errSendBufferFull = errors.New("send buffer full")

type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	handler domain.MessageHandler

	maxMessageSize int64
}

type Option func(*Conn)

func WithMaxMessageSize(n int64) Option {
	return func(c *Conn) { c.maxMessageSize = n }
}

func WithSendBuffer(n int) Option {
	return func(c *Conn) { c.send = make(chan []byte, n) }
}

func NewConn(id string, ws *websocket.Conn, h domain.MessageHandler, opts ...Option) *Conn {
	c := &Conn{
		id:             id,
		ws:             ws,
		send:           make(chan []byte, DefaultSendBuffer),
		done:           make(chan struct{}),
		handler:        h,
		maxMessageSize: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) ID() string { return c.id }

// Send queues data for the write pump without blocking. It fails once the
// connection is closed or its queue is full.
func (c *Conn) Send(data []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.ws.Close()
}

func (c *Conn) Start() {
	slog.Info("client connected", "clientId", c.id, "remote", c.ws.RemoteAddr().String())
	go c.writePump()
	go c.readPump()
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		c.handler.Disconnect(c)
		slog.Info("client disconnected", "clientId", c.id)
	}()

	c.ws.SetReadLimit(c.maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("read error", "clientId", c.id, "error", err)
			}
			return
		}

		c.handler.Handle(c, data)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("write error", "clientId", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
