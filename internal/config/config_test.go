package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CLUBSYNC_API_URL", "https://api.club.example")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("expected 5m sync interval, got %s", cfg.SyncInterval)
	}
	if cfg.ThrottleWindow != time.Minute {
		t.Errorf("expected 60s throttle window, got %s", cfg.ThrottleWindow)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("expected 10s request timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.RetryCeiling != 2 {
		t.Errorf("expected retry ceiling 2, got %d", cfg.RetryCeiling)
	}
	if cfg.DebounceWindow != 500*time.Millisecond {
		t.Errorf("expected 500ms debounce, got %s", cfg.DebounceWindow)
	}
	if cfg.RefreshCooldown != 5*time.Second {
		t.Errorf("expected 5s cooldown, got %s", cfg.RefreshCooldown)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode by default")
	}
	if cfg.UseRedisCache() {
		t.Error("expected Redis disabled by default")
	}
}

func TestLoad_MissingAPIURL(t *testing.T) {
	t.Setenv("CLUBSYNC_API_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing API URL")
	}
}

func TestLoad_InvalidAPIURL(t *testing.T) {
	t.Setenv("CLUBSYNC_API_URL", "not-a-url")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for relative API URL")
	}
	if !strings.Contains(err.Error(), "CLUBSYNC_API_URL") {
		t.Errorf("error should name the variable, got %q", err)
	}
}

func TestLoad_DebounceMustBeShorterThanCooldown(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CLUBSYNC_DEBOUNCE_WINDOW", "6s")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when debounce exceeds cooldown")
	}
}

func TestLoad_InvalidTimezone(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CLUBSYNC_TIMEZONE", "Mars/Olympus_Mons")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestStatusAddr(t *testing.T) {
	cfg := Config{StatusHost: "127.0.0.1", StatusPort: 7380}
	if got := cfg.StatusAddr(); got != "127.0.0.1:7380" {
		t.Errorf("expected 127.0.0.1:7380, got %s", got)
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{"explicit push URL", Config{PushURL: "wss://push.club.example/ws"}, "wss://push.club.example/ws", false},
		{"derived from https", Config{APIBaseURL: "https://api.club.example"}, "wss://api.club.example/ws", false},
		{"derived from http", Config{APIBaseURL: "http://localhost:3000"}, "ws://localhost:3000/ws", false},
		{"bad scheme", Config{APIBaseURL: "ftp://club.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.WebSocketURL()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("WebSocketURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
