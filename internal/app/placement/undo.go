package placement

import (
	"context"
	"time"

	"pxplace/internal/app/user"
	"pxplace/internal/pkg/metrics"
)

// Undo reverts u's most recent placement if it is still inside the undo window
// and nobody has painted over it since.
func (e *Engine) Undo(ctx context.Context, conn Conn, u *user.User, ip string) {
	now := e.now()

	if !e.canvasOpenFor(u) || u.IsBanned(now) {
		return
	}
	if !u.CanUndo(now, true) {
		return
	}

	if u.IsShadowBanned() {
		e.deception.Info().Str("user_id", u.ID).Str("ip", ip).Msg("Shadow-banned undo")
		metrics.Undos.WithLabelValues(metrics.OutcomeShadow).Inc()
		u.ResetCooldown()
		u.ClearUndo()
		e.sendCooldown(u)
		return
	}

	if !u.TryLockUndo() {
		metrics.Undos.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}
	defer u.UnlockUndo()

	// Holding the placing lock too keeps a placement from landing mid-undo.
	if !u.TryLockPlacing() {
		metrics.Undos.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}
	defer u.UnlockPlacing()

	// The bonus is withdrawn before the window check: a sweep that already
	// granted it has closed the window, and no sweep can grant it after this.
	pending := e.bonus.Remove(u.ID)
	if !e.undo(ctx, u, now) && pending {
		e.bonus.Add(u)
	}
}

// undo reports whether the placement was reverted.
func (e *Engine) undo(ctx context.Context, u *user.User, now time.Time) bool {
	// A concurrent undo may have closed the window before this one took the lock.
	if !u.Undoable(now) {
		return false
	}
	u.Touch(now)

	target, err := e.store.UserUndoRecord(ctx, u.ID)
	if err != nil {
		e.undoFailed(err, u, "Failed to load undo record")
		return false
	}
	if target == nil {
		metrics.Undos.WithLabelValues(metrics.OutcomeStale).Inc()
		return false
	}

	latest, err := e.store.LatestPlacementAt(ctx, target.X, target.Y)
	if err != nil {
		e.undoFailed(err, u, "Failed to load latest placement")
		return false
	}
	if latest == nil || latest.ID != target.ID {
		metrics.Undos.WithLabelValues(metrics.OutcomeStale).Inc()
		e.logger.Debug().Str("user_id", u.ID).Int64("placement_id", target.ID).Msg("Undo target was painted over")
		return false
	}

	restoreColor := e.board.DefaultColor(target.X, target.Y)
	if target.SecondaryID != 0 {
		prev, err := e.store.PlacementByID(ctx, target.SecondaryID)
		if err != nil {
			e.undoFailed(err, u, "Failed to load superseded placement")
			return false
		}
		if prev != nil {
			restoreColor = prev.Color
		}
	}

	restore := Placement{
		X:           target.X,
		Y:           target.Y,
		Color:       restoreColor,
		PlacerID:    u.ID,
		At:          now,
		SecondaryID: target.ID,
		ModAction:   target.ModAction,
		UndoAction:  true,
	}
	if _, err := e.store.RecordUndo(ctx, *target, restore); err != nil {
		e.undoFailed(err, u, "Failed to persist undo")
		return false
	}

	if u.LastPlaceWasStack() {
		u.AddStacked(1, e.cfg.MaxStacked)
	}
	u.ResetCooldown()
	u.ClearUndo()

	e.publishPixel(target.X, target.Y, restoreColor)
	metrics.Undos.WithLabelValues(metrics.OutcomeCommitted).Inc()

	if !target.ModAction {
		u.DecreasePixelCounts()
	}

	e.notifier.ToUser(u, TypeAck, AckPayload{For: AckUndo, X: target.X, Y: target.Y})
	e.sendPixelCounts(u)
	e.sendAvailablePixels(u, CauseUndo)
	e.sendCooldown(u)
	return true
}

func (e *Engine) undoFailed(err error, u *user.User, msg string) {
	metrics.Undos.WithLabelValues(metrics.OutcomeFailed).Inc()
	e.logger.Error().Err(err).Str("user_id", u.ID).Msg(msg)
}
