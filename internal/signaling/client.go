package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/lib/logger/sl"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is the websocket implementation of Link. One Client serves one room
// membership; Join may be called once.
type Client struct {
	serverURL string
	log       *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	joined   bool
	closed   bool
	incoming chan domain.Envelope
	outgoing chan domain.Envelope
	done     chan struct{}
}

func NewClient(serverURL string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		log:       log,
		incoming:  make(chan domain.Envelope, 32),
		outgoing:  make(chan domain.Envelope, 32),
		done:      make(chan struct{}),
	}
}

// Join dials the relay's room websocket endpoint and announces the local
// peer. It fails with ErrLinkUnavailable when the relay cannot be reached.
func (c *Client) Join(ctx context.Context, roomID, peerID string, role domain.Role) error {
	const op = "signaling.client.join"
	log := c.log.With(slog.String("op", op), slog.String("room_id", roomID))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrLinkClosed
	}
	if c.joined {
		return fmt.Errorf("%s: already joined", op)
	}

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("%s: invalid server url: %w", op, err)
	}
	u.Path = fmt.Sprintf("/api/rooms/%s/ws", roomID)
	q := u.Query()
	q.Set("peer_id", peerID)
	q.Set("role", string(role))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Error("dial failed", sl.Err(err))
		return fmt.Errorf("%w: %w", ErrLinkUnavailable, err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.conn = conn
	c.joined = true

	go c.readPump()
	go c.writePump()

	return c.enqueue(domain.Envelope{
		Kind:   domain.KindJoinRoom,
		Room:   roomID,
		Sender: peerID,
		Role:   role,
	})
}

// Send queues an envelope for delivery. It never blocks on the network; a
// closed link returns ErrLinkClosed.
func (c *Client) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrLinkClosed
	}
	if !c.joined {
		return ErrLinkUnavailable
	}
	return c.enqueue(env)
}

func (c *Client) enqueue(env domain.Envelope) error {
	select {
	case c.outgoing <- env:
		return nil
	case <-c.done:
		return ErrLinkClosed
	}
}

func (c *Client) Receive() <-chan domain.Envelope {
	return c.incoming
}

// Close shuts the link down. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if !c.joined {
		close(c.incoming)
	}
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("signaling read failed", sl.Err(err))
			}
			return
		}

		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Warn("signaling write failed", sl.Err(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush whatever was queued before the close; the leave-room
			// notice is typically enqueued right before Close.
			for {
				select {
				case env := <-c.outgoing:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(env); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
