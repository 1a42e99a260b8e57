package placement

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pxplace/internal/app/user"
	"pxplace/internal/pkg/logx"
	"pxplace/internal/pkg/metrics"
)

// CaptchaPolicy decides when a placement must be preceded by a captcha.
type CaptchaPolicy struct {
	// Enabled demands captchas from everyone; a per-user override demands them regardless.
	Enabled bool

	// Configured is false when no verifier secret is set; captchas are then never demanded.
	Configured bool

	// MaxPixels exempts users with at least this many placements; 0 disables the exemption.
	MaxPixels int

	// AllTime counts all-time placements for the exemption instead of this session's.
	AllTime bool

	// Threshold is the chance that an unflagged user is flagged again before a placement.
	Threshold float64
}

// Config holds the engine tunables.
type Config struct {
	Width       int
	Height      int
	PaletteSize int

	CanvasClosed   bool
	SubscriberOnly bool

	Cooldown        CooldownPolicy
	BackgroundPixel BackgroundPixelPolicy

	UndoWindow time.Duration

	MaxStacked      int
	SubscriberBonus int

	Captcha CaptchaPolicy
}

// Deps are the engine collaborators. Captcha and AltPlacement may be nil.
type Deps struct {
	Board        Board
	Store        Store
	Sessions     Sessions
	Captcha      CaptchaVerifier
	AltPlacement AltPlacementHook
}

// Engine coordinates placements and undos for all users.
type Engine struct {
	cfg Config

	board    Board
	store    Store
	sessions Sessions
	captcha  CaptchaVerifier
	altPlace AltPlacementHook

	notifier *Notifier
	bonus    *BonusSet

	// commitMu makes a board write and the broadcast of its delta one step,
	// so sessions see deltas in commit order.
	commitMu sync.Mutex

	now  func() time.Time
	roll func() float64

	lastActiveCount atomic.Int64

	logger    zerolog.Logger
	deception zerolog.Logger
}

// NewEngine wires an engine from cfg and deps.
func NewEngine(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:       cfg,
		board:     deps.Board,
		store:     deps.Store,
		sessions:  deps.Sessions,
		captcha:   deps.Captcha,
		altPlace:  deps.AltPlacement,
		notifier:  NewNotifier(deps.Sessions),
		bonus:     NewBonusSet(),
		now:       time.Now,
		roll:      rand.Float64,
		logger:    logx.Component("placement"),
		deception: logx.Component("shadowban"),
	}
	e.lastActiveCount.Store(-1)
	return e
}

// WithClock replaces the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithRandom replaces the source used for captcha re-flag rolls.
func (e *Engine) WithRandom(roll func() float64) *Engine {
	e.roll = roll
	return e
}

// Config returns the engine tunables.
func (e *Engine) Config() Config {
	return e.cfg
}

// Bonus exposes the bonus-pending set.
func (e *Engine) Bonus() *BonusSet {
	return e.bonus
}

// Notifier exposes the fan-out used by the engine.
func (e *Engine) Notifier() *Notifier {
	return e.notifier
}

// NewBonusScheduler returns the scheduler that grants this engine's pending bonuses.
func (e *Engine) NewBonusScheduler(tick time.Duration) *BonusScheduler {
	return NewBonusScheduler(e.bonus, tick, e.now, e.grantBonus, func(u *user.User) {
		e.sendAvailablePixels(u, CauseBonus)
	})
}

// grantBonus runs under the bonus set's lock, so closing the undo window here
// orders it against an undo that withdraws the bonus first.
func (e *Engine) grantBonus(u *user.User) error {
	u.ClearUndo()
	u.AddStacked(e.cfg.SubscriberBonus-1, e.cfg.MaxStacked)
	return nil
}

// tickStack banks the charges u has accrued while its cooldown sat expired.
func (e *Engine) tickStack(u *user.User, now time.Time) {
	cooldown := time.Duration(e.cfg.Cooldown.Seconds(e.sessions.NonIdleUserCount())) * time.Second
	u.TickStack(now, cooldown, e.cfg.MaxStacked)
}

// Connect greets a freshly registered connection with the user's state.
func (e *Engine) Connect(conn Conn, u *user.User) {
	now := e.now()
	u.Touch(now)

	e.notifier.ToConn(conn, TypeUserInfo, u.Info(now))
	e.notifier.ToConn(conn, TypeCooldown, e.cooldownPayload(u, now))
	u.FlagForCaptcha()
	e.tickStack(u, now)
	e.notifier.ToConn(conn, TypeAvailablePixels, AvailablePixelsPayload{Count: u.AvailablePixels(now), Cause: CauseConnect})
	e.notifier.ToConn(conn, TypePlacementOverrides, PlacementOverridesPayload{Overrides: u.Overrides()})
	e.notifier.ToConn(conn, TypeActiveUsers, ActiveUsersPayload{Count: e.sessions.NonIdleUserCount()})
}

// RunPresence broadcasts the active user count whenever it changes, checking every interval.
func (e *Engine) RunPresence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.UpdateActiveUsers()
		}
	}
}

// UpdateActiveUsers broadcasts the non-idle user count if it differs from the last broadcast.
func (e *Engine) UpdateActiveUsers() {
	count := e.sessions.NonIdleUserCount()
	metrics.ActiveUsers.Set(float64(count))
	metrics.Connections.Set(float64(e.sessions.LiveConnectionCount()))

	if e.lastActiveCount.Swap(int64(count)) == int64(count) {
		return
	}
	e.notifier.Broadcast(TypeActiveUsers, ActiveUsersPayload{Count: count})
}

// canvasOpenFor applies the end-of-canvas and subscriber-only gates.
func (e *Engine) canvasOpenFor(u *user.User) bool {
	if e.cfg.CanvasClosed && !u.Overrides().IgnoreEndOfCanvas {
		return false
	}
	if e.cfg.SubscriberOnly && !u.Subscribed() {
		return false
	}
	return true
}

func (e *Engine) inBounds(x, y int) bool {
	return x >= 0 && x < e.cfg.Width && y >= 0 && y < e.cfg.Height
}

func (e *Engine) canPlaceColor(u *user.User, color int) bool {
	if color >= 0 && color < e.cfg.PaletteSize {
		return true
	}
	return color == EraserColor && u.Overrides().CanPlaceAnyColor
}

// publishPixel writes the cell and broadcasts the delta as one step.
func (e *Engine) publishPixel(x, y, color int) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	e.board.SetPixel(x, y, color)
	e.notifier.Broadcast(TypeCanvasDelta, CanvasDeltaPayload{Pixels: []Pixel{{X: x, Y: y, Color: color}}})
}

func (e *Engine) cooldownPayload(u *user.User, now time.Time) CooldownPayload {
	return CooldownPayload{SecondsRemaining: u.CooldownRemaining(now).Seconds()}
}

func (e *Engine) sendCooldown(u *user.User) {
	e.notifier.ToUser(u, TypeCooldown, e.cooldownPayload(u, e.now()))
}

func (e *Engine) sendAvailablePixels(u *user.User, cause string) {
	now := e.now()
	e.tickStack(u, now)
	e.notifier.ToUser(u, TypeAvailablePixels, AvailablePixelsPayload{Count: u.AvailablePixels(now), Cause: cause})
}

func (e *Engine) sendPixelCounts(u *user.User) {
	session, allTime := u.PixelCounts()
	e.notifier.ToUser(u, TypePixelCounts, PixelCountsPayload{PixelCount: session, PixelCountAllTime: allTime})
}
