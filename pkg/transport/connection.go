package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// MessageHandler is invoked for every inbound frame, synchronously relative to
// the connection's own read loop, so messages from one session are handled in
// the order received.
type MessageHandler func(ctx context.Context, connID uuid.UUID, msg []byte)

// OnCloseHandler runs once when the connection terminates for any reason.
type OnCloseHandler func(connID uuid.UUID, err error)

type ConnectionConfig struct {
	ReadTimeout time.Duration
}

// Connection wraps a single WebSocket session with a read pump, a buffered
// write pump and idempotent teardown. Send is safe for concurrent use.
type Connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	config ConnectionConfig
	send   chan []byte

	onMessage MessageHandler
	onClose   OnCloseHandler

	done      chan struct{}
	wg        *sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	logger *slog.Logger
}

func NewConnection(parentCtx context.Context, wg *sync.WaitGroup, conn *websocket.Conn, config ConnectionConfig, logger *slog.Logger) *Connection {
	id := uuid.New()
	connCtx, cancel := context.WithCancel(parentCtx)

	// Counted from construction so teardown before Run still balances.
	wg.Add(1)

	return &Connection{
		id:     id,
		conn:   conn,
		config: config,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		wg:     wg,
		ctx:    connCtx,
		cancel: cancel,
		logger: logger.With(slog.String("connID", id.String())),
	}
}

// Run starts the read and write pumps. The onMessage and onClose handlers must
// be set before calling Run.
func (c *Connection) Run() {
	go c.readPump()
	go c.writePump()
	c.logger.Info("connection established")
}

func (c *Connection) readPump() {
	var readErr error
	defer func() {
		c.Close(readErr)
	}()

	for {
		readCtx, cancelRead := context.WithTimeout(c.ctx, c.config.ReadTimeout)
		typ, r, err := c.conn.Reader(readCtx)
		if err != nil {
			cancelRead()
			readErr = err
			return
		}
		if typ != websocket.MessageText && typ != websocket.MessageBinary {
			cancelRead()
			continue
		}
		message, err := io.ReadAll(r)
		if err != nil {
			cancelRead()
			readErr = err
			return
		}
		cancelRead()
		if c.onMessage != nil {
			c.onMessage(c.ctx, c.id, message)
		}
	}
}

func (c *Connection) writePump() {
	var writeErr error
	defer func() {
		c.Close(writeErr)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.conn.Write(c.ctx, websocket.MessageText, message); err != nil {
				writeErr = err
				return
			}
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "connection cancelled")
			return
		}
	}
}

// Send queues a message for delivery. Messages queued after the connection has
// started closing are dropped.
func (c *Connection) Send(message []byte) {
	select {
	case c.send <- message:
	case <-c.ctx.Done():
		c.logger.Warn("Attempted to send on a closed connection")
	}
}

// Close tears the connection down exactly once and fires the onClose handler.
func (c *Connection) Close(err error) {
	c.closeOnce.Do(func() {
		c.logger.Info("Transport connection closing", slog.Any("reason", err))

		// The send channel is never closed; Send and the write pump both bail
		// out on the cancelled context instead.
		c.cancel()
		if c.conn != nil {
			c.conn.Close(websocket.StatusNormalClosure, "")
		}
		if c.onClose != nil {
			c.onClose(c.id, err)
		}
		c.wg.Done()
		close(c.done)
	})
}

// Done is closed when the connection is fully terminated.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) ID() uuid.UUID {
	return c.id
}

func (c *Connection) SetOnMessageHandler(handler MessageHandler) {
	c.onMessage = handler
}

func (c *Connection) SetOnCloseHandler(handler OnCloseHandler) {
	c.onClose = handler
}
