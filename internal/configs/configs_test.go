package configs

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.CooldownType != CooldownTypeActivity {
		t.Fatalf("expected activity cooldown by default, got %q", cfg.CooldownType)
	}
	if cfg.StackBonusTick != 500*time.Millisecond {
		t.Fatalf("expected 500ms bonus tick, got %s", cfg.StackBonusTick)
	}
	if cfg.SnapshotsEnabled() {
		t.Fatalf("expected snapshots to be disabled without S3 settings")
	}
	if cfg.CaptchaConfigured() {
		t.Fatalf("expected captcha to be unconfigured without a secret")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("COOLDOWN_TYPE", "STATIC")
	t.Setenv("STATIC_COOLDOWN", "45")
	t.Setenv("UNDO_WINDOW", "2500ms")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("SUB_ONLY_PLACEMENT", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.CooldownType != CooldownTypeStatic {
		t.Fatalf("expected static cooldown, got %q", cfg.CooldownType)
	}
	if cfg.StaticCooldown != 45*time.Second {
		t.Fatalf("expected 45s static cooldown, got %s", cfg.StaticCooldown)
	}
	if cfg.UndoWindow != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s undo window, got %s", cfg.UndoWindow)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.AllowedOrigins)
	}
	if !cfg.SubOnlyPlacement {
		t.Fatalf("expected subscriber-only placement")
	}
}

func TestLoadConfig_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is missing in production")
	}
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("COOLDOWN_TYPE", "random")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unknown cooldown type")
	}
}
