package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait.
)

// Conn is a Handle that also yields the frames its peer sends. The inbound
// channel is closed once the connection is gone.
type Conn interface {
	Handle
	Inbound() <-chan []byte
}

// Client is a middleman between the websocket connection and the hub.
// Only the write pump writes to the socket, so frames go out in Send order.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	inbound chan []byte
	done    chan struct{}
	log     zerolog.Logger

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func NewClient(conn *websocket.Conn, sendBuffer int, maxMessageSize int64, log zerolog.Logger) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	conn.SetReadLimit(maxMessageSize)
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		inbound: make(chan []byte),
		done:    make(chan struct{}),
		log:     log,
	}
}

// Start runs the pumps. It returns immediately.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) Inbound() <-chan []byte {
	return c.inbound
}

func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrHandleClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close asks the write pump to send a close frame and tear the socket down.
// Only the first call's code and reason are used.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// readPump pumps messages from the websocket connection to Inbound.
func (c *Client) readPump() {
	defer func() {
		close(c.inbound)
		c.Close(websocket.CloseNormalClosure, "")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case c.inbound <- message:
		case <-c.done:
			return
		}
	}
}

// writePump pumps queued frames to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if c.closeCode != websocket.CloseAbnormalClosure {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason))
			}
			return
		}
	}
}
