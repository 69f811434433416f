package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/vedran77/lattice/internal/protocol"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	// Post ranges can carry megabyte posts; leave headroom over the
	// single-post ceiling.
	maxFrameSize = 16 << 20
	sendBufSize  = 256
)

var ErrClosed = errors.New("connection closed")

// Role distinguishes end-user devices from federated servers on the same
// listener.
type Role string

const (
	RoleDevice Role = "device"
	RoleServer Role = "server"
)

// Router handles parsed inbound requests from one connection.
type Router interface {
	HandleRequest(ctx context.Context, c *Client, req *protocol.Request)
}

// ResponseSink receives inbound responses for request correlation.
type ResponseSink interface {
	HandleResponse(resp *protocol.Response)
}

// Client is one WebSocket connection, device or server. It carries the
// per-connection auth state: the pending challenge before authentication
// and the bound user id after.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *zap.Logger
	addr string
	role Role

	mu        sync.RWMutex
	userID    string
	challenge string

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, addr string, role Role, log *zap.Logger) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		log:  log,
		addr: addr,
		role: role,
		send: make(chan []byte, sendBufSize),
		done: make(chan struct{}),
	}
}

func (c *Client) Addr() string { return c.addr }
func (c *Client) Role() Role   { return c.role }

// Done closes when the connection is gone, whichever side ended it.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// BindUser marks the connection authenticated and makes it reachable
// through the hub.
func (c *Client) BindUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	if c.hub != nil {
		c.hub.bind(c, userID)
	}
}

func (c *Client) Challenge() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.challenge
}

func (c *Client) SetChallenge(challenge string) {
	c.mu.Lock()
	c.challenge = challenge
	c.mu.Unlock()
}

// Send queues a frame for the write pump.
func (c *Client) Send(ctx context.Context, data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Close tears the connection down from our side.
func (c *Client) Close() {
	c.close()
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// ReadPump reads frames until the connection dies, routing requests to
// router and responses to responses.
func (c *Client) ReadPump(router Router, responses ResponseSink) {
	defer func() {
		if c.hub != nil {
			c.hub.unregister(c)
		}
		c.close()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.Debug("connection closed", zap.String("addr", c.addr))
			} else {
				c.log.Debug("read error", zap.String("addr", c.addr), zap.Error(err))
			}
			return
		}

		req, resp, err := protocol.Parse(data)
		if err != nil {
			c.log.Debug("unparseable frame", zap.String("addr", c.addr), zap.Error(err))
			continue
		}
		if resp != nil {
			responses.HandleResponse(resp)
			continue
		}
		// Handlers may fan out to other remotes and wait on their
		// answers; never block the read loop on them.
		go router.HandleRequest(context.Background(), c, req)
	}
}

// WritePump drains the send queue to the socket and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debug("write error", zap.String("addr", c.addr), zap.Error(err))
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Debug("ping error", zap.String("addr", c.addr), zap.Error(err))
				return
			}

		case <-c.done:
			return
		}
	}
}
