package placement

import (
	"context"
	"fmt"
	"html"
	"time"

	"pxplace/internal/app/user"
	"pxplace/internal/pkg/metrics"
)

// VerifyCaptcha checks token with the provider and reports the result to conn.
// A provider error counts as a failed attempt and leaves the flag set.
// It must not be called while u holds its placing lock.
func (e *Engine) VerifyCaptcha(ctx context.Context, conn Conn, u *user.User, token, ip string) {
	if !u.FlaggedForCaptcha() || u.IsBanned(e.now()) || e.captcha == nil {
		return
	}

	ok, err := e.captcha.Verify(ctx, token, ip)
	if err != nil {
		e.logger.Warn().Err(err).Str("user_id", u.ID).Msg("Captcha verification failed")
		ok = false
	}

	if ok {
		u.ValidateCaptcha()
		metrics.CaptchaVerifications.WithLabelValues("success").Inc()
	} else {
		metrics.CaptchaVerifications.WithLabelValues("failure").Inc()
	}

	e.notifier.ToConn(conn, TypeCaptchaStatus, CaptchaStatusPayload{Success: ok})
}

// ApplyPlacementOverrides changes u's overrides and resends the affected state to every session of u.
func (e *Engine) ApplyPlacementOverrides(u *user.User, patch user.OverridesPatch) {
	overrides := u.ApplyOverrides(patch)

	e.notifier.ToUser(u, TypePlacementOverrides, PlacementOverridesPayload{Overrides: overrides})
	e.sendAvailablePixels(u, CauseOverride)
	e.sendCooldown(u)
}

// SendAlert delivers an administrator message to the connected user named in req.
// It returns false when no such user is connected.
func (e *Engine) SendAlert(ctx context.Context, from *user.User, req AdminMessageRequest) bool {
	target := e.sessions.UserByName(req.Username)
	if target == nil {
		return false
	}

	text := html.EscapeString(req.Message)

	logText := fmt.Sprintf("Sent an alert to %s (UID: %s) with the content: %s", target.Name, target.ID, text)
	if err := e.store.InsertAdminLog(ctx, from.ID, logText); err != nil {
		e.logger.Warn().Err(err).Str("user_id", from.ID).Msg("Failed to write admin log")
	}

	e.notifier.ToUser(target, TypeAlert, AlertPayload{From: from.Name, Message: text})
	return true
}

// ShadowBanSelf shadow-bans u at the request of a client-side detector.
func (e *Engine) ShadowBanSelf(ctx context.Context, u *user.User, reason string) {
	if u.IsBanned(e.now()) || u.IsShadowBanned() {
		return
	}

	u.ShadowBan("self-shadowban via script; " + reason)
	e.adminLog(ctx, u, fmt.Sprintf("shadowban %s with reason: self-shadowban via script; %s", u.Name, reason))
}

// BanSelf permanently bans u at the request of a client-side detector.
func (e *Engine) BanSelf(ctx context.Context, u *user.User, reason string) {
	now := e.now()
	if u.IsBanned(now) || u.IsShadowBanned() {
		return
	}

	u.Ban("auto-ban via script; "+reason, time.Time{})
	e.adminLog(ctx, u, fmt.Sprintf("permaban %s with reason: auto-ban via script; %s", u.Name, reason))
	e.notifier.ToUser(u, TypeUserInfo, u.Info(now))
}

func (e *Engine) adminLog(ctx context.Context, u *user.User, text string) {
	if err := e.store.InsertAdminLog(ctx, u.ID, text); err != nil {
		e.logger.Warn().Err(err).Str("user_id", u.ID).Msg("Failed to write admin log")
	}
	e.logger.Info().Str("user_id", u.ID).Msg(text)
}
