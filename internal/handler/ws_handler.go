/*
Package handler provides the HTTP surface of the canvas server.

HandleWebSocket authenticates the handshake, attaches the caller to their
in-memory user and starts the client pumps; the remaining handlers serve
read-only canvas data.
*/
package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pxplace/internal/app/session"
	"pxplace/internal/app/user"
	"pxplace/internal/pkg/auth/jwt"
	"pxplace/internal/pkg/errs"
	"pxplace/internal/pkg/limiter"
	"pxplace/internal/pkg/logx"
	"pxplace/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !deps.HandshakeLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		token := jwt.TokenFromRequest(r)
		if token == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		identity, err := jwt.ParseToken(token, deps.Config.JWTSecret)
		if err != nil {
			logx.Warn("WebSocket connection rejected: Invalid token.", "error", err.Error())
			resp.RespondError(w, r, errs.NewError(errs.ErrTokenInvalid))
			return
		}

		allTime := 0
		if deps.History != nil {
			if allTime, err = deps.History.CountUserPlacements(r.Context(), identity.ID); err != nil {
				logx.Error(err, "Failed to count placements; assuming none", "user_id", identity.ID)
				allTime = 0
			}
		}

		u := deps.Hub.Attach(user.Profile{
			ID:            identity.ID,
			Name:          identity.Name,
			Permissions:   identity.Permissions,
			Subscribed:    identity.Subscribed,
			AllTimePixels: allTime,
		})

		now := time.Now()
		if u.IsBanned(now) {
			logx.Info("WebSocket connection rejected: User is banned.", "user_id", u.ID)
			resp.RespondError(w, r, errs.NewError(errs.ErrUserBanned, u.Info(now).BanReason))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := session.NewClient(deps.Hub, conn, u, deps.Engine, ip)

		go client.WritePump()

		logx.Info("WebSocket connection established", "user_id", u.ID, "conn_id", client.ID())

		deps.Hub.Register(client)

		client.ReadPump()
	}
}
