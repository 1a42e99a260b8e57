package placement

import "pxplace/internal/app/user"

// MessageType names a websocket message kind.
type MessageType string

// Inbound message kinds.
const (
	TypePlace                   MessageType = "place"
	TypeUndo                    MessageType = "undo"
	TypeCaptcha                 MessageType = "captcha"
	TypeAdminPlacementOverrides MessageType = "admin_placement_overrides"
	TypeAdminMessage            MessageType = "admin_message"
	TypeShadowBanMe             MessageType = "shadowban_me"
	TypeBanMe                   MessageType = "ban_me"
)

// Outbound message kinds.
const (
	TypeUserInfo           MessageType = "userinfo"
	TypeCooldown           MessageType = "cooldown"
	TypeAvailablePixels    MessageType = "pixels"
	TypeCanUndo            MessageType = "can_undo"
	TypeAck                MessageType = "ack"
	TypeCanvasDelta        MessageType = "pixel"
	TypeCaptchaRequired    MessageType = "captcha_required"
	TypeCaptchaStatus      MessageType = "captcha_status"
	TypeActiveUsers        MessageType = "users"
	TypePixelCounts        MessageType = "pixel_counts"
	TypeAlert              MessageType = "alert"
	TypePlacementOverrides MessageType = "placement_overrides"
)

// KindPixel is the default placement kind.
const KindPixel = "pixel"

// Causes reported with AvailablePixels.
const (
	CauseConnect  = "connect"
	CauseConsume  = "consume"
	CauseUndo     = "undo"
	CauseBonus    = "bonus"
	CauseOverride = "override"
)

// Ack targets.
const (
	AckPlace = "PLACE"
	AckUndo  = "UNDO"
)

// Message is the envelope of every outbound frame.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// PlaceRequest asks to color one cell.
type PlaceRequest struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color int    `json:"color"`
	Kind  string `json:"kind,omitempty"`
}

// CaptchaRequest carries the provider token solved by the client.
type CaptchaRequest struct {
	Token string `json:"token"`
}

// AdminMessageRequest sends an alert to the user named Username.
type AdminMessageRequest struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// SelfBanRequest is sent by client-side automation detectors.
type SelfBanRequest struct {
	Reason string `json:"reason"`
}

// CooldownPayload tells the client how long to wait.
type CooldownPayload struct {
	SecondsRemaining float64 `json:"secondsRemaining"`
}

// AvailablePixelsPayload reports usable placements and why the number changed.
type AvailablePixelsPayload struct {
	Count int    `json:"count"`
	Cause string `json:"cause"`
}

// CanUndoPayload announces the undo window of the placement just made.
type CanUndoPayload struct {
	WindowSeconds int `json:"windowSeconds"`
}

// AckPayload confirms a place or undo to its author.
type AckPayload struct {
	For string `json:"ackFor"`
	X   int    `json:"x"`
	Y   int    `json:"y"`
}

// Pixel is one changed cell.
type Pixel struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Color int `json:"color"`
}

// CanvasDeltaPayload lists changed cells.
type CanvasDeltaPayload struct {
	Pixels []Pixel `json:"pixels"`
}

// CaptchaStatusPayload reports a verification result.
type CaptchaStatusPayload struct {
	Success bool `json:"success"`
}

// ActiveUsersPayload reports the number of non-idle users.
type ActiveUsersPayload struct {
	Count int `json:"count"`
}

// PixelCountsPayload reports the user's placement counters.
type PixelCountsPayload struct {
	PixelCount        int `json:"pixelCount"`
	PixelCountAllTime int `json:"pixelCountAllTime"`
}

// AlertPayload is an administrator message.
type AlertPayload struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// PlacementOverridesPayload reports the user's current overrides.
type PlacementOverridesPayload struct {
	Overrides user.Overrides `json:"placementOverrides"`
}
