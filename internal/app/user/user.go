/*
Package user holds the identity and the placement state of a canvas participant.

A User outlives its websocket connections: the session hub keeps one instance
per account id and every connection of that account shares it. All mutable
state is guarded internally, so the placement engine, the bonus scheduler and
the connection pumps may touch the same User from different goroutines.
*/
package user

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Overrides are the per-user exemptions an administrator can toggle.
type Overrides struct {
	IgnoreCooldown    bool `json:"ignoreCooldown"`
	CanPlaceAnyColor  bool `json:"canPlaceAnyColor"`
	IgnorePlacemap    bool `json:"ignorePlacemap"`
	IgnoreEndOfCanvas bool `json:"ignoreEndOfCanvas"`
}

// OverridesPatch changes only the fields that are non-nil.
type OverridesPatch struct {
	IgnoreCooldown    *bool `json:"ignoreCooldown,omitempty"`
	CanPlaceAnyColor  *bool `json:"canPlaceAnyColor,omitempty"`
	IgnorePlacemap    *bool `json:"ignorePlacemap,omitempty"`
	IgnoreEndOfCanvas *bool `json:"ignoreEndOfCanvas,omitempty"`
}

// Profile is the identity a User is created from.
type Profile struct {
	ID            string
	Name          string
	Permissions   []string
	Subscribed    bool
	AllTimePixels int
}

// Info is the public snapshot sent to the user's own sessions.
type Info struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Permissions    []string  `json:"permissions"`
	PixelCount     int       `json:"pixelCount"`
	PixelCountAll  int       `json:"pixelCountAllTime"`
	Banned         bool      `json:"banned"`
	BanExpiry      time.Time `json:"banExpiry,omitzero"`
	BanReason      string    `json:"banReason,omitempty"`
	Overrides      Overrides `json:"placementOverrides"`
	Subscribed     bool      `json:"subscribed"`
	StackedCharges int       `json:"stacked"`
}

// User is one account's identity plus its placement state.
type User struct {
	ID   string
	Name string

	// placing and undoing are the per-user try-locks; contenders are dropped, never queued.
	// An undo holds both.
	placing atomic.Bool
	undoing atomic.Bool

	// verifying is held while a captcha token is with the provider.
	verifying atomic.Bool

	mu sync.Mutex

	permissions []string
	subscribed  bool

	stacked           int
	cooldownExpiry    time.Time
	lastPlaceWasStack bool

	// stackedAt is the point up to which elapsed cooldowns have been banked.
	stackedAt time.Time

	undoable    bool
	undoExpiry  time.Time
	undoLimiter *rate.Limiter

	captchaFlag     bool
	captchaOverride bool

	banned       bool
	banReason    string
	banExpiry    time.Time
	shadowBanned bool

	overrides Overrides

	pixelCount        int
	allTimePixelCount int

	lastActive time.Time
}

// New creates a User from p. undoRate and undoBurst size the bucket that limits
// how often the user may undo; a zero burst or an infinite rate disables the bucket.
func New(p Profile, undoRate rate.Limit, undoBurst int) *User {
	u := &User{
		ID:                p.ID,
		Name:              p.Name,
		permissions:       slices.Clone(p.Permissions),
		subscribed:        p.Subscribed,
		allTimePixelCount: p.AllTimePixels,
	}
	if undoBurst > 0 && undoRate != rate.Inf {
		u.undoLimiter = rate.NewLimiter(undoRate, undoBurst)
	}
	return u
}

// UpdateProfile refreshes permissions and subscription when the user reconnects with a newer token.
// ID and Name are fixed for the life of the User.
func (u *User) UpdateProfile(p Profile) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.permissions = slices.Clone(p.Permissions)
	u.subscribed = p.Subscribed
}

// HasPermission reports whether the user holds the permission node perm.
func (u *User) HasPermission(perm string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return slices.Contains(u.permissions, perm)
}

// Subscribed reports whether the user is a qualifying subscriber.
func (u *User) Subscribed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.subscribed
}

// TryLockPlacing acquires the placing lock if it is free.
func (u *User) TryLockPlacing() bool {
	return u.placing.CompareAndSwap(false, true)
}

// UnlockPlacing releases the placing lock. Only the holder may call it.
func (u *User) UnlockPlacing() {
	u.placing.Store(false)
}

// TryLockUndo acquires the undo lock if it is free.
func (u *User) TryLockUndo() bool {
	return u.undoing.CompareAndSwap(false, true)
}

// UnlockUndo releases the undo lock. Only the holder may call it.
func (u *User) UnlockUndo() {
	u.undoing.Store(false)
}

// TryLockCaptcha marks a captcha verification as in flight if none is.
func (u *User) TryLockCaptcha() bool {
	return u.verifying.CompareAndSwap(false, true)
}

// UnlockCaptcha ends the in-flight verification.
func (u *User) UnlockCaptcha() {
	u.verifying.Store(false)
}

// Stacked returns the number of banked charges.
func (u *User) Stacked() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.stacked
}

// SetStacked sets the banked charges, clamped to [0, max].
func (u *User) SetStacked(n, max int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stacked = clamp(n, max)
}

// AddStacked adds n charges without exceeding max and returns the new count.
func (u *User) AddStacked(n, max int) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stacked = clamp(u.stacked+n, max)
	return u.stacked
}

// ConsumeStack spends one charge if any is banked.
func (u *User) ConsumeStack() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.stacked <= 0 {
		return false
	}
	u.stacked--
	return true
}

// TickStack banks one charge for every full cooldown that has elapsed since the
// cooldown ran out, without exceeding max. The first elapsed cooldown is the
// free placement and is not banked. It reports whether charges were added.
func (u *User) TickStack(now time.Time, cooldown time.Duration, max int) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if cooldown <= 0 || u.cooldownExpiry.IsZero() || now.Before(u.cooldownExpiry) {
		return false
	}
	if u.stacked >= max {
		u.stackedAt = now
		return false
	}

	from := u.cooldownExpiry
	if u.stackedAt.After(from) {
		from = u.stackedAt
	}
	earned := int(now.Sub(from) / cooldown)
	if earned <= 0 {
		return false
	}

	u.stacked = clamp(u.stacked+earned, max)
	u.stackedAt = from.Add(time.Duration(earned) * cooldown)
	if u.stacked == max {
		u.stackedAt = now
	}
	return true
}

func clamp(n, max int) int {
	if n > max {
		n = max
	}
	if n < 0 {
		n = 0
	}
	return n
}

// CooldownRemaining returns how long until the next free placement.
func (u *User) CooldownRemaining(now time.Time) time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.overrides.IgnoreCooldown || !now.Before(u.cooldownExpiry) {
		return 0
	}
	return u.cooldownExpiry.Sub(now)
}

// SetCooldown starts a cooldown of d from now.
func (u *User) SetCooldown(now time.Time, d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.cooldownExpiry = now.Add(d)
	u.stackedAt = time.Time{}
}

// ResetCooldown makes the user immediately eligible again.
func (u *User) ResetCooldown() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.cooldownExpiry = time.Time{}
}

// CanPlace reports whether a placement is available now: a banked charge,
// an expired cooldown or the cooldown override.
func (u *User) CanPlace(now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.overrides.IgnoreCooldown || u.stacked > 0 || !now.Before(u.cooldownExpiry)
}

// AvailablePixels counts placements usable right now: banked charges plus one
// when the cooldown has run out.
func (u *User) AvailablePixels(now time.Time) int {
	u.mu.Lock()
	defer u.mu.Unlock()

	n := u.stacked
	if u.overrides.IgnoreCooldown || !now.Before(u.cooldownExpiry) {
		n++
	}
	return n
}

// RecordPlacement opens the undo window for the placement just made.
func (u *User) RecordPlacement(now time.Time, usedStack bool, undoWindow time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.lastPlaceWasStack = usedStack
	u.lastActive = now
	u.undoable = undoWindow > 0
	u.undoExpiry = now.Add(undoWindow)
}

// LastPlaceWasStack reports whether the most recent placement spent a banked charge.
func (u *User) LastPlaceWasStack() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.lastPlaceWasStack
}

// CanUndo reports whether the most recent placement is still revertible.
// With consume set, a token is taken from the undo bucket and an empty bucket refuses.
func (u *User) CanUndo(now time.Time, consume bool) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.undoable || !now.Before(u.undoExpiry) {
		return false
	}
	if u.undoLimiter == nil {
		return true
	}
	if consume {
		return u.undoLimiter.AllowN(now, 1)
	}
	return u.undoLimiter.TokensAt(now) >= 1
}

// Undoable reports whether the last placement is inside its undo window, ignoring the undo bucket.
func (u *User) Undoable(now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.undoable && now.Before(u.undoExpiry)
}

// UndoWindowPassed reports whether the undo window of the last placement has elapsed.
func (u *User) UndoWindowPassed(now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return !now.Before(u.undoExpiry)
}

// ClearUndo closes the undo window.
func (u *User) ClearUndo() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.undoable = false
}

// FlagForCaptcha demands a captcha before the next placement.
func (u *User) FlagForCaptcha() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.captchaFlag = true
}

// FlaggedForCaptcha reports whether a captcha is pending.
func (u *User) FlaggedForCaptcha() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.captchaFlag || u.captchaOverride
}

// SetCaptchaOverride forces a captcha on every placement until validated.
func (u *User) SetCaptchaOverride(v bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.captchaOverride = v
}

// CaptchaOverride reports whether an administrator forced captcha for this user.
func (u *User) CaptchaOverride() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.captchaOverride
}

// UpdateCaptchaFlagPrePlace returns whether the user must solve a captcha now.
// An unflagged user becomes flagged when reflag is set; a flag already cleared
// by a successful validation stays cleared otherwise.
func (u *User) UpdateCaptchaFlagPrePlace(reflag bool) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.captchaOverride {
		return true
	}
	if !u.captchaFlag && reflag {
		u.captchaFlag = true
	}
	return u.captchaFlag
}

// ValidateCaptcha clears the pending captcha and any forced override.
func (u *User) ValidateCaptcha() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.captchaFlag = false
	u.captchaOverride = false
}

// Ban hard-bans the user until the given time; a zero time means permanent.
func (u *User) Ban(reason string, until time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.banned = true
	u.banReason = reason
	u.banExpiry = until
}

// ShadowBan makes every further placement a local illusion.
func (u *User) ShadowBan(reason string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.shadowBanned = true
	u.banReason = reason
}

// IsBanned reports whether a hard ban is in force at now. Expired bans are lifted.
func (u *User) IsBanned(now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.banned && !u.banExpiry.IsZero() && !now.Before(u.banExpiry) {
		u.banned = false
		u.banReason = ""
		u.banExpiry = time.Time{}
	}
	return u.banned
}

// IsShadowBanned reports whether the user is shadow-banned.
func (u *User) IsShadowBanned() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.shadowBanned
}

// Overrides returns the current administrative overrides.
func (u *User) Overrides() Overrides {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.overrides
}

// ApplyOverrides merges patch into the overrides and returns the result.
func (u *User) ApplyOverrides(patch OverridesPatch) Overrides {
	u.mu.Lock()
	defer u.mu.Unlock()

	if patch.IgnoreCooldown != nil {
		u.overrides.IgnoreCooldown = *patch.IgnoreCooldown
	}
	if patch.CanPlaceAnyColor != nil {
		u.overrides.CanPlaceAnyColor = *patch.CanPlaceAnyColor
	}
	if patch.IgnorePlacemap != nil {
		u.overrides.IgnorePlacemap = *patch.IgnorePlacemap
	}
	if patch.IgnoreEndOfCanvas != nil {
		u.overrides.IgnoreEndOfCanvas = *patch.IgnoreEndOfCanvas
	}
	return u.overrides
}

// PixelCounts returns the session and all-time placement counters.
func (u *User) PixelCounts() (session, allTime int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.pixelCount, u.allTimePixelCount
}

// IncreasePixelCounts counts one committed placement.
func (u *User) IncreasePixelCounts() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.pixelCount++
	u.allTimePixelCount++
}

// DecreasePixelCounts uncounts one undone placement, never going negative.
func (u *User) DecreasePixelCounts() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.pixelCount = max(u.pixelCount-1, 0)
	u.allTimePixelCount = max(u.allTimePixelCount-1, 0)
}

// Touch marks the user active at now.
func (u *User) Touch(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.lastActive = now
}

// IsIdle reports whether the user has been inactive for at least timeout.
func (u *User) IsIdle(now time.Time, timeout time.Duration) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return now.Sub(u.lastActive) >= timeout
}

// Info returns the public snapshot of the user.
func (u *User) Info(now time.Time) Info {
	banned := u.IsBanned(now)

	u.mu.Lock()
	defer u.mu.Unlock()

	return Info{
		ID:             u.ID,
		Name:           u.Name,
		Permissions:    slices.Clone(u.permissions),
		PixelCount:     u.pixelCount,
		PixelCountAll:  u.allTimePixelCount,
		Banned:         banned,
		BanExpiry:      u.banExpiry,
		BanReason:      u.banReason,
		Overrides:      u.overrides,
		Subscribed:     u.subscribed,
		StackedCharges: u.stacked,
	}
}
