package placement

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"pxplace/internal/app/user"
	"pxplace/internal/pkg/logx"
)

// Notifier fans messages out to sessions. Delivery is best-effort per connection:
// a failing connection is logged and skipped.
type Notifier struct {
	sessions Sessions
	logger   zerolog.Logger
}

// NewNotifier returns a Notifier over sessions.
func NewNotifier(sessions Sessions) *Notifier {
	return &Notifier{
		sessions: sessions,
		logger:   logx.Component("notifier"),
	}
}

func (n *Notifier) encode(typ MessageType, payload any) ([]byte, bool) {
	data, err := json.Marshal(Message{Type: typ, Payload: payload})
	if err != nil {
		n.logger.Error().Err(err).Str("msg_type", string(typ)).Msg("Failed to marshal outbound message")
		return nil, false
	}
	return data, true
}

func (n *Notifier) deliver(conns []Conn, typ MessageType, data []byte) {
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			n.logger.Warn().
				Err(err).
				Str("conn_id", c.ID()).
				Str("msg_type", string(typ)).
				Msg("Dropped message for connection")
		}
	}
}

// ToConn sends one message to a single connection.
func (n *Notifier) ToConn(conn Conn, typ MessageType, payload any) {
	if data, ok := n.encode(typ, payload); ok {
		n.deliver([]Conn{conn}, typ, data)
	}
}

// ToUser sends one message to every connection of u.
func (n *Notifier) ToUser(u *user.User, typ MessageType, payload any) {
	conns := n.sessions.ConnectionsOf(u.ID)
	if len(conns) == 0 {
		return
	}
	if data, ok := n.encode(typ, payload); ok {
		n.deliver(conns, typ, data)
	}
}

// Broadcast sends one message to every connection.
func (n *Notifier) Broadcast(typ MessageType, payload any) {
	if data, ok := n.encode(typ, payload); ok {
		n.deliver(n.sessions.Connections(), typ, data)
	}
}
