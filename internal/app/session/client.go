package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"pxplace/internal/app/placement"
	"pxplace/internal/app/user"
	"pxplace/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 4096

	sendBuffer = 256

	// captchaTimeout bounds one verification call to the provider.
	captchaTimeout = 10 * time.Second
)

// Permission nodes checked before dispatching inbound messages.
const (
	PermPlace     = "board.place"
	PermUndo      = "board.undo"
	PermOverrides = "user.admin"
	PermAlert     = "user.alert"
)

var (
	errClientClosed  = errors.New("client closed")
	errSendQueueFull = errors.New("client send queue full")
)

// Handler is the engine surface a client drives.
type Handler interface {
	Connect(conn placement.Conn, u *user.User)
	Place(ctx context.Context, conn placement.Conn, u *user.User, req placement.PlaceRequest, ip string)
	Undo(ctx context.Context, conn placement.Conn, u *user.User, ip string)
	VerifyCaptcha(ctx context.Context, conn placement.Conn, u *user.User, token, ip string)
	ApplyPlacementOverrides(u *user.User, patch user.OverridesPatch)
	SendAlert(ctx context.Context, from *user.User, req placement.AdminMessageRequest) bool
	ShadowBanSelf(ctx context.Context, u *user.User, reason string)
	BanSelf(ctx context.Context, u *user.User, reason string)
}

// Client is one websocket connection acting for a user.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	user    *user.User
	handler Handler
	ip      string

	// send queues outbound frames for WritePump. It is never closed; done signals shutdown.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, u *user.User, handler Handler, ip string) *Client {
	id := uuid.NewString()

	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		user:    u,
		handler: handler,
		ip:      ip,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		logger: logx.Logger().With().
			Str("conn_id", id).
			Str("user_id", u.ID).
			Logger(),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues data without blocking. A full queue drops the frame.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendQueueFull
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump reads inbound frames until the connection fails, then unregisters the client.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Unexpected websocket close")
			}
			return
		}

		c.processInboundMessage(data)
	}
}

func (c *Client) cleanupOnDisconnect() {
	select {
	case c.hub.unregister <- c:
	default:
		c.logger.Warn().Msg("Hub unregister channel blocked; closing client directly.")
		c.close()
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection close error")
	}
}

// WritePump drains the send queue to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.done:
			c.write(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Write failed")
		return false
	}
	return true
}

// processInboundMessage decodes one frame and hands it to the engine.
func (c *Client) processInboundMessage(data []byte) {
	var inbound struct {
		Type    placement.MessageType `json:"type"`
		Payload json.RawMessage       `json:"payload,omitempty"`
	}

	if err := json.Unmarshal(data, &inbound); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		return
	}

	ctx := context.Background()

	switch inbound.Type {
	case placement.TypePlace:
		var req placement.PlaceRequest
		if !c.decode(inbound.Type, inbound.Payload, &req) || !c.user.HasPermission(PermPlace) {
			return
		}
		c.handler.Place(ctx, c, c.user, req, c.ip)

	case placement.TypeUndo:
		if !c.user.HasPermission(PermUndo) {
			return
		}
		c.handler.Undo(ctx, c, c.user, c.ip)

	case placement.TypeCaptcha:
		var req placement.CaptchaRequest
		if !c.decode(inbound.Type, inbound.Payload, &req) {
			return
		}
		// One token per user is with the provider at a time; extras are dropped.
		if !c.user.TryLockCaptcha() {
			c.logger.Debug().Msg("Captcha verification already in flight")
			return
		}
		// The provider call leaves the read loop free; it never holds the user's locks.
		go func() {
			defer c.user.UnlockCaptcha()
			ctx, cancel := context.WithTimeout(context.Background(), captchaTimeout)
			defer cancel()
			c.handler.VerifyCaptcha(ctx, c, c.user, req.Token, c.ip)
		}()

	case placement.TypeAdminPlacementOverrides:
		var patch user.OverridesPatch
		if !c.decode(inbound.Type, inbound.Payload, &patch) || !c.user.HasPermission(PermOverrides) {
			return
		}
		c.handler.ApplyPlacementOverrides(c.user, patch)

	case placement.TypeAdminMessage:
		var req placement.AdminMessageRequest
		if !c.decode(inbound.Type, inbound.Payload, &req) || !c.user.HasPermission(PermAlert) {
			return
		}
		if !c.handler.SendAlert(ctx, c.user, req) {
			c.logger.Info().Str("target", req.Username).Msg("Alert target not connected")
		}

	case placement.TypeShadowBanMe:
		var req placement.SelfBanRequest
		if c.decode(inbound.Type, inbound.Payload, &req) {
			c.handler.ShadowBanSelf(ctx, c.user, req.Reason)
		}

	case placement.TypeBanMe:
		var req placement.SelfBanRequest
		if c.decode(inbound.Type, inbound.Payload, &req) {
			c.handler.BanSelf(ctx, c.user, req.Reason)
		}

	default:
		c.logger.Warn().Str("msg_type", string(inbound.Type)).Msg("Client sent unsupported message type")
	}
}

func (c *Client) decode(typ placement.MessageType, payload json.RawMessage, v any) bool {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		c.logger.Warn().Err(err).Str("msg_type", string(typ)).Msg("Client sent invalid payload")
		return false
	}
	return true
}
