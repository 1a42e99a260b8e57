/*
Package main is the entry point for the pxplace canvas server.

It loads configuration, initializes the global logger, opens the history
database and rebuilds the board from it, then runs the HTTP server, the
websocket hub and the background loops (stack bonus, presence, limiter sweep,
snapshots) until SIGINT or SIGTERM arrives.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pxplace/internal/app/canvas"
	"pxplace/internal/app/captcha"
	"pxplace/internal/app/db"
	"pxplace/internal/app/placement"
	"pxplace/internal/app/session"
	"pxplace/internal/app/storage"
	"pxplace/internal/configs"
	"pxplace/internal/handler"
	"pxplace/internal/pkg/limiter"
	"pxplace/internal/pkg/logx"
)

const presenceInterval = 5 * time.Second

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("canvas_width", cfg.CanvasWidth).
		Int("canvas_height", cfg.CanvasHeight).
		Str("cooldown_type", cfg.CooldownType).
		Bool("captcha", cfg.CaptchaEnabled && cfg.CaptchaConfigured()).
		Bool("snapshots", cfg.SnapshotsEnabled()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to connect to database")
	}
	defer pool.Close()

	store := db.NewStore(pool)

	board := canvas.NewBoard(cfg.CanvasWidth, cfg.CanvasHeight, byte(cfg.DefaultColor))
	restored, err := store.LoadCanvas(ctx, board.SetPixel)
	if err != nil {
		logx.Fatal(err, "Failed to restore canvas from history")
	}
	logx.Info("Canvas restored from history", "pixels", restored)

	hub := session.NewHub(session.HubConfig{
		IdleTimeout: cfg.IdleTimeout,
		UndoRate:    rate.Limit(cfg.UndoRate),
		UndoBurst:   cfg.UndoBurst,
	})

	deps := placement.Deps{Board: board, Store: store, Sessions: hub}
	if cfg.CaptchaConfigured() {
		deps.Captcha = captcha.NewVerifier(cfg.CaptchaSecret, cfg.CaptchaHost, cfg.CaptchaVerifyURL)
	}

	engine := placement.NewEngine(engineConfig(cfg), deps)

	var snapshots storage.ObjectStore
	if cfg.SnapshotsEnabled() {
		snapshots, err = storage.NewObjectStore(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize snapshot storage")
		}
	}

	handshakeLimiter := limiter.NewIPRateLimiter(rate.Limit(handler.HandshakeRate), handler.HandshakeBurst)
	apiLimiter := limiter.NewIPRateLimiter(rate.Limit(handler.APIRate), handler.APIBurst)

	router := handler.Router(&handler.AppDeps{
		Config:           cfg,
		Hub:              hub,
		Engine:           engine,
		Board:            board,
		History:          store,
		Snapshots:        snapshots,
		HandshakeLimiter: handshakeLimiter,
		APILimiter:       apiLimiter,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logx.Info(fmt.Sprintf("pxplace server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		engine.NewBonusScheduler(cfg.StackBonusTick).Run(gctx)
		return nil
	})

	g.Go(func() error {
		engine.RunPresence(gctx, presenceInterval)
		return nil
	})

	g.Go(func() error {
		handshakeLimiter.Run(gctx, limiter.DefaultSweepInterval)
		return nil
	})

	g.Go(func() error {
		apiLimiter.Run(gctx, limiter.DefaultSweepInterval)
		return nil
	})

	if snapshots != nil {
		g.Go(func() error {
			storage.NewSnapshotter(board, snapshots, cfg.SnapshotInterval).Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logx.Fatal(err, "Server stopped with error")
	}

	logx.Info("Server gracefully stopped.")
}

func engineConfig(cfg *configs.AppConfig) placement.Config {
	mode := placement.CooldownStatic
	if cfg.CooldownType == configs.CooldownTypeActivity {
		mode = placement.CooldownActivity
	}

	return placement.Config{
		Width:          cfg.CanvasWidth,
		Height:         cfg.CanvasHeight,
		PaletteSize:    cfg.PaletteSize,
		CanvasClosed:   cfg.EndOfCanvas,
		SubscriberOnly: cfg.SubOnlyPlacement,
		Cooldown: placement.CooldownPolicy{
			Mode:   mode,
			Static: cfg.StaticCooldown,
			Activity: placement.ActivityCurve{
				Steepness:    cfg.ActivitySteepness,
				UserOffset:   cfg.ActivityUserOffset,
				GlobalOffset: cfg.ActivityGlobalOffset,
				Multiplier:   cfg.ActivityMultiplier,
			},
		},
		BackgroundPixel: placement.BackgroundPixelPolicy{
			Enabled:    cfg.BackgroundPixelEnabled,
			Multiplier: cfg.BackgroundPixelMultiplier,
		},
		UndoWindow:      cfg.UndoWindow,
		MaxStacked:      cfg.StackMax,
		SubscriberBonus: cfg.StackSubBonus,
		Captcha: placement.CaptchaPolicy{
			Enabled:    cfg.CaptchaEnabled,
			Configured: cfg.CaptchaConfigured(),
			MaxPixels:  cfg.CaptchaMaxPixels,
			AllTime:    cfg.CaptchaAllTime,
			Threshold:  cfg.CaptchaThreshold,
		},
	}
}
