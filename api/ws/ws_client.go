package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zlnvch/codeverse/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Sized for a full document
	// content snapshot.
	maxMessageSize = 1024 * 1024 * 2

	// Rate limiting: 50 messages per second with a burst of 100. Cursor
	// traffic is chatty.
	messagesPerSecond = 50
	burstLimit        = 100
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

// Client is a middleman between the websocket connection and the hub.
// A client starts unjoined; it must authenticate with its first message
// before the hub admits it. subscribedPatterns is owned by the hub's Run
// goroutine; joined and canAccessDocs are owned by the ReadPump goroutine.
// canAccessDocs caches only positive access checks, so a granted share is
// picked up on the next check while a revoked one sticks for the session.
type Client struct {
	hub                *Hub
	conn               *websocket.Conn
	logger             *zap.Logger
	user               models.User
	joined             bool
	handler            MessageHandler
	subscribedPatterns map[string]struct{}
	canAccessDocs      map[string]struct{}
	Send               chan []byte // Buffered channel of outbound messages.
	ctx                context.Context
	cancel             context.CancelFunc
	limiter            *rate.Limiter
}

func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger, handler MessageHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:                hub,
		conn:               conn,
		logger:             logger,
		handler:            handler,
		subscribedPatterns: make(map[string]struct{}),
		canAccessDocs:      make(map[string]struct{}),
		Send:               make(chan []byte, 128),
		ctx:                ctx,
		cancel:             cancel,
		limiter:            rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// trySend queues a message for delivery, dropping it when the outbound
// buffer is full so a stalled peer cannot block the caller.
func (c *Client) trySend(message []byte) bool {
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// CloseConn asks the write pump to close the connection. Safe to call from
// any goroutine and more than once.
func (c *Client) CloseConn() {
	c.cancel()
}

func (c *Client) ReadPump() {
	defer func() {
		if c.joined {
			c.hub.Close(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("ws close error", zap.Error(err))
			}
			break
		}

		if !c.limiter.Allow() {
			c.logger.Info("closing connection: message rate limit exceeded",
				zap.String("userId", c.user.Id))
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.cancel()
	}()
	for {
		select {
		case message := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("ws send error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Session closed"),
			)
			return

		case <-shutdownCtx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Websocket service shutting down"),
			)
			return
		}
	}
}
