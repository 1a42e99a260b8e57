package handler

import (
	"context"

	"pxplace/internal/app/canvas"
	"pxplace/internal/app/placement"
	"pxplace/internal/app/session"
	"pxplace/internal/app/storage"
	"pxplace/internal/configs"
	"pxplace/internal/pkg/limiter"
)

// PlacementCounter reports a user's lifetime placements for the captcha exemption.
type PlacementCounter interface {
	CountUserPlacements(ctx context.Context, userID string) (int, error)
}

type AppDeps struct {
	Config *configs.AppConfig
	Hub    *session.Hub
	Engine *placement.Engine
	Board  *canvas.Board

	History PlacementCounter

	// Snapshots is nil when S3 is not configured.
	Snapshots storage.ObjectStore

	HandshakeLimiter *limiter.IPRateLimiter
	APILimiter       *limiter.IPRateLimiter
}
