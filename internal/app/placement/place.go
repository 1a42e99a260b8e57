package placement

import (
	"context"
	"time"

	"pxplace/internal/app/user"
	"pxplace/internal/pkg/metrics"
)

// Place handles one place request from conn on behalf of u.
// Rejections are silent; a request arriving while u already has a placement
// in flight is dropped.
func (e *Engine) Place(ctx context.Context, conn Conn, u *user.User, req PlaceRequest, ip string) {
	now := e.now()

	if !e.canvasOpenFor(u) || !e.inBounds(req.X, req.Y) || !e.canPlaceColor(u, req.Color) {
		return
	}
	if u.IsBanned(now) {
		return
	}

	if req.Kind != "" && req.Kind != KindPixel && e.altPlace != nil {
		e.altPlace(ctx, u, req, ip)
	}

	if !u.CanPlace(now) {
		return
	}

	if !u.TryLockPlacing() {
		metrics.Placements.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}
	defer u.UnlockPlacing()

	e.place(ctx, conn, u, req, ip, now)
}

func (e *Engine) place(ctx context.Context, conn Conn, u *user.User, req PlaceRequest, ip string, now time.Time) {
	e.tickStack(u, now)

	// Another placement may have spent the charge between the unlocked check and the lock.
	if !u.CanPlace(now) {
		return
	}
	u.Touch(now)

	if e.captchaRequired(u) {
		metrics.Placements.WithLabelValues(metrics.OutcomeCaptcha).Inc()
		e.notifier.ToConn(conn, TypeCaptchaRequired, nil)
		return
	}

	overrides := u.Overrides()
	current := e.board.Pixel(req.X, req.Y)
	editable := e.board.Editable(req.X, req.Y)

	if !overrides.IgnorePlacemap && (!editable || current == req.Color) {
		metrics.Placements.WithLabelValues(metrics.OutcomeNoop).Inc()
		return
	}

	modAction := req.Color == EraserColor || overrides.IgnoreCooldown || (overrides.IgnorePlacemap && !editable)

	// Cooldown is computed before the board changes so the background check sees the covered color.
	seconds := e.placementCooldown(ctx, u, req, current)

	delta := CanvasDeltaPayload{Pixels: []Pixel{{X: req.X, Y: req.Y, Color: req.Color}}}

	if u.IsShadowBanned() {
		e.deception.Info().
			Str("user_id", u.ID).
			Str("user_name", u.Name).
			Int("x", req.X).
			Int("y", req.Y).
			Int("color", req.Color).
			Str("ip", ip).
			Msg("Shadow-banned placement")
		metrics.Placements.WithLabelValues(metrics.OutcomeShadow).Inc()

		e.notifier.ToUser(u, TypeCanvasDelta, delta)
		e.notifier.ToUser(u, TypeAck, AckPayload{For: AckPlace, X: req.X, Y: req.Y})
	} else {
		if !e.commitPlacement(ctx, u, req, modAction, now) {
			return
		}
		e.notifier.ToUser(u, TypeAck, AckPayload{For: AckPlace, X: req.X, Y: req.Y})
		e.sendPixelCounts(u)
	}

	if overrides.IgnoreCooldown {
		u.ClearUndo()
	} else {
		e.spendPlacement(ctx, u, seconds, now)
	}

	if u.CanUndo(now, false) {
		e.notifier.ToConn(conn, TypeCanUndo, CanUndoPayload{WindowSeconds: int(e.cfg.UndoWindow / time.Second)})
	}
	e.sendCooldown(u)
}

// commitPlacement persists the record and then writes and broadcasts the cell.
// Nothing reaches the board when persistence fails.
func (e *Engine) commitPlacement(ctx context.Context, u *user.User, req PlaceRequest, modAction bool, now time.Time) bool {
	rec := Placement{
		X:         req.X,
		Y:         req.Y,
		Color:     req.Color,
		PlacerID:  u.ID,
		At:        now,
		ModAction: modAction,
	}

	prev, err := e.store.LatestPlacementAt(ctx, req.X, req.Y)
	if err != nil {
		metrics.Placements.WithLabelValues(metrics.OutcomeFailed).Inc()
		e.logger.Error().Err(err).Str("user_id", u.ID).Int("x", req.X).Int("y", req.Y).Msg("Failed to read previous placement")
		return false
	}
	if prev != nil {
		rec.SecondaryID = prev.ID
	}

	if _, err := e.store.InsertPlacement(ctx, rec); err != nil {
		metrics.Placements.WithLabelValues(metrics.OutcomeFailed).Inc()
		e.logger.Error().Err(err).Str("user_id", u.ID).Int("x", req.X).Int("y", req.Y).Msg("Failed to persist placement")
		return false
	}

	e.publishPixel(req.X, req.Y, req.Color)
	metrics.Placements.WithLabelValues(metrics.OutcomeCommitted).Inc()

	if !modAction {
		u.IncreasePixelCounts()
	}
	return true
}

// spendPlacement charges u for the placement: a banked charge if there is one,
// a fresh cooldown otherwise.
func (e *Engine) spendPlacement(ctx context.Context, u *user.User, seconds int, now time.Time) {
	if u.ConsumeStack() {
		u.RecordPlacement(now, true, e.cfg.UndoWindow)
		e.sendAvailablePixels(u, CauseConsume)
		return
	}

	u.SetCooldown(now, time.Duration(seconds)*time.Second)
	u.RecordPlacement(now, false, e.cfg.UndoWindow)

	if err := e.store.UpdateUserCooldown(ctx, u.ID, seconds); err != nil {
		e.logger.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to persist cooldown bookkeeping")
	}

	if u.Subscribed() && e.cfg.SubscriberBonus > 1 {
		e.bonus.Add(u)
	}
	e.sendAvailablePixels(u, CauseConsume)
}

// placementCooldown returns the cooldown a non-stacked placement would start.
func (e *Engine) placementCooldown(ctx context.Context, u *user.User, req PlaceRequest, covered int) int {
	seconds := e.cfg.Cooldown.Seconds(e.sessions.NonIdleUserCount())

	if !e.cfg.BackgroundPixel.Enabled || covered == EraserColor || covered == NoColor {
		return seconds
	}

	increased, err := e.store.DwellTimeIncreased(ctx, u.ID, req.X, req.Y)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to read dwell-time signal")
		return seconds
	}
	if increased {
		return e.cfg.BackgroundPixel.Apply(seconds)
	}
	return seconds
}

// captchaRequired decides whether u must solve a captcha before this placement.
func (e *Engine) captchaRequired(u *user.User) bool {
	p := e.cfg.Captcha
	if !(u.CaptchaOverride() || p.Enabled) || !p.Configured {
		return false
	}

	// A forced captcha is never waived by experience.
	if p.MaxPixels > 0 && !u.CaptchaOverride() {
		session, allTime := u.PixelCounts()
		count := session
		if p.AllTime {
			count = allTime
		}
		if count >= p.MaxPixels {
			return false
		}
	}

	return u.UpdateCaptchaFlagPrePlace(e.roll() < p.Threshold)
}
