package handler

import (
	"net/http"
	"time"

	"pxplace/internal/app/storage"
	"pxplace/internal/pkg/auth/jwt"
	"pxplace/internal/pkg/errs"
	"pxplace/internal/pkg/logx"
	"pxplace/internal/pkg/resp"
)

// SnapshotURLDuration is how long a presigned snapshot link stays valid.
const SnapshotURLDuration = 15 * time.Minute

// HandleCanvasInfo returns the canvas dimensions and the placement tunables a client renders.
func HandleCanvasInfo(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := deps.Engine.Config()
		active := deps.Hub.NonIdleUserCount()

		resp.RespondSuccess(w, r, map[string]any{
			"width":           cfg.Width,
			"height":          cfg.Height,
			"paletteSize":     cfg.PaletteSize,
			"canvasClosed":    cfg.CanvasClosed,
			"subscriberOnly":  cfg.SubscriberOnly,
			"cooldownSeconds": cfg.Cooldown.Seconds(active),
			"undoSeconds":     int(cfg.UndoWindow / time.Second),
			"maxStacked":      cfg.MaxStacked,
			"activeUsers":     active,
		})
	}
}

// HandleCanvasBoard streams the current board, one palette index per cell in row-major order.
func HandleCanvasBoard(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondBinary(w, r, deps.Board.Snapshot())
	}
}

// HandleCanvasSnapshot redirects a signed-in caller to a time-limited link for
// the latest uploaded snapshot.
func HandleCanvasSnapshot(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Snapshots == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrSnapshotUnavailable))
			return
		}

		exists, err := deps.Snapshots.Exists(r.Context(), storage.LatestSnapshotKey)
		if err != nil {
			logx.Error(err, "Snapshot lookup failed")
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}
		if !exists {
			resp.RespondError(w, r, errs.NewError(errs.ErrSnapshotUnavailable))
			return
		}

		url, err := deps.Snapshots.PresignDownload(r.Context(), storage.LatestSnapshotKey, SnapshotURLDuration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrStorageFailed))
			return
		}

		if payload := jwt.GetPayloadFromContext(r); payload != nil {
			logx.Info("Issued snapshot link", "user_id", payload.ID)
		}
		http.Redirect(w, r, url, http.StatusFound)
	}
}
