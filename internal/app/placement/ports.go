/*
Package placement is the placement coordination engine.

It turns "user wants to place or undo a pixel" into "canvas mutated and every
session notified", enforcing cooldowns, stacked charges, the undo window, the
subscriber bonus, captcha gating, shadow bans and administrative overrides.
Canvas storage, history, transport and captcha checks are collaborators behind
the interfaces in this file.
*/
package placement

import (
	"context"
	"time"

	"pxplace/internal/app/user"
)

const (
	// EraserColor is the transparent palette slot; placing it is a moderation action.
	EraserColor = 0xFF

	// NoColor is reported for cells that hold no color at all.
	NoColor = -1
)

// Placement is one row of the placement history.
type Placement struct {
	ID       int64
	X        int
	Y        int
	Color    int
	PlacerID string
	At       time.Time

	// SecondaryID points at the record this one superseded; 0 when the cell was untouched.
	SecondaryID int64

	ModAction  bool
	UndoAction bool
	Undone     bool
}

// Board is the canvas grid.
type Board interface {
	Pixel(x, y int) int
	SetPixel(x, y, color int)
	Editable(x, y int) bool
	DefaultColor(x, y int) int
}

// Store is the placement history. Lookups return (nil, nil) when nothing matches.
type Store interface {
	InsertPlacement(ctx context.Context, p Placement) (int64, error)
	PlacementByID(ctx context.Context, id int64) (*Placement, error)
	LatestPlacementAt(ctx context.Context, x, y int) (*Placement, error)

	// UserUndoRecord returns the user's most recent placement that is neither undone nor a restoration.
	UserUndoRecord(ctx context.Context, userID string) (*Placement, error)

	// RecordUndo marks undone as reverted and appends restore; it returns the id of restore.
	RecordUndo(ctx context.Context, undone Placement, restore Placement) (int64, error)

	UpdateUserCooldown(ctx context.Context, userID string, seconds int) error
	DwellTimeIncreased(ctx context.Context, userID string, x, y int) (bool, error)
	InsertAdminLog(ctx context.Context, actorID, text string) error
}

// Conn is one live session. Send must not block.
type Conn interface {
	ID() string
	Send(data []byte) error
}

// Sessions is the transport's view of who is connected.
type Sessions interface {
	ConnectionsOf(userID string) []Conn
	Connections() []Conn
	LiveConnectionCount() int
	NonIdleUserCount() int
	UserByName(name string) *user.User
}

// CaptchaVerifier checks a client-submitted captcha token with the provider.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// AltPlacementHook receives place requests whose kind is not a plain pixel.
// It is an extension point; the request is still processed as a pixel afterwards.
type AltPlacementHook func(ctx context.Context, u *user.User, req PlaceRequest, ip string)
