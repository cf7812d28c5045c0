package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// Client frames are small; notifications only flow outwards.
	maxFrameSize   = 4096
	sendBufferSize = 256
)

// Client is one browser connection. Group membership lives in the Hub.
type Client struct {
	ID   string
	Addr string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}
	once sync.Once
	log  *logger.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, addr string, log *logger.Logger) *Client {
	id := shared.NewID().String()
	return &Client{
		ID:   id,
		Addr: addr,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		quit: make(chan struct{}),
		log:  log.With("client_id", id),
	}
}

// deliver encodes f and queues it.
func (c *Client) deliver(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.log.Error("encode frame", "op", string(f.Op), "error", err)
		return
	}
	c.enqueue(data)
}

// enqueue never blocks: a client that cannot keep up loses frames.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.quit:
	default:
		c.log.Warn("send buffer full, dropping frame")
	}
}

// close is safe to call from the hub and both loops.
func (c *Client) close() {
	c.once.Do(func() {
		close(c.quit)
		_ = c.conn.Close()
	})
}

// goingAway tells the browser the server is shutting down, then closes.
func (c *Client) goingAway() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.close()
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.detach(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read failed", "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.deliver(errorFrame("", CodeBadFrame, "frame is not valid JSON"))
			continue
		}
		c.handle(f)
	}
}

func (c *Client) handle(f Frame) {
	switch f.Op {
	case OpJoin, OpLeave:
		if f.Group == "" {
			c.deliver(errorFrame(f.Ref, CodeBadFrame, "group is required"))
			return
		}
		// The hub replies once the membership change is applied.
		c.hub.submit(c, f)
	case OpPing:
		c.deliver(Frame{Op: OpPong, Ref: f.Ref})
	default:
		c.deliver(errorFrame(f.Ref, CodeUnknownOp, "unknown op "+string(f.Op)))
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.quit:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// One frame per message; browsers parse each frame as a whole document.
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
