package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `arbflow:
  name: "TestApp"
  version: "1.0"
markets:
  - symbol: BTC/GBP
    depths: [0.1, 0.5]
  - symbol: ETH/EUR
    depths: [1]
exchanges:
  binance:
    enabled: true
    connection: websocket
  kucoin:
    enabled: true
    min_fetch_delay: 250ms
`

// writeTempConfig creates a configuration file for LoadConfig and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Arbflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Arbflow.Name)
	}
	if cfg.Alert.Threshold != 0.0018 || cfg.Alert.RetriggerThreshold != 0.0005 {
		t.Errorf("alert defaults not applied: %+v", cfg.Alert)
	}
	if cfg.Reader.Retry.MaxAttempts != 10 || cfg.Reader.Retry.BackoffMultiplier != 1.25 || cfg.Reader.Retry.BaseDelay != time.Second {
		t.Errorf("retry defaults not applied: %+v", cfg.Reader.Retry)
	}
	if cfg.Exchanges.Kucoin.MinFetchDelay != 250*time.Millisecond {
		t.Errorf("unexpected kucoin delay: %v", cfg.Exchanges.Kucoin.MinFetchDelay)
	}

	depths := cfg.MarketDepths()
	if len(depths["BTC/GBP"]) != 2 || depths["ETH/EUR"][0] != 1 {
		t.Errorf("unexpected market depths: %v", depths)
	}

	names := cfg.Exchanges.EnabledNames()
	if strings.Join(names, ",") != "binance,kucoin" {
		t.Errorf("unexpected enabled exchanges: %v", names)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_API_KEY", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("REDIS_HOST", "redis.local")

	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Notify.Telegram.BotToken != "token" || cfg.Notify.Telegram.ChatID != "42" {
		t.Errorf("telegram overrides not applied: %+v", cfg.Notify.Telegram)
	}
	if !cfg.Storage.Redis.Enabled || cfg.Storage.Redis.Addr != "redis.local:6379" {
		t.Errorf("redis override not applied: %+v", cfg.Storage.Redis)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no markets",
			content: "arbflow:\n  name: x\nexchanges:\n  binance:\n    enabled: true\n",
			want:    "markets must list",
		},
		{
			name:    "bad symbol",
			content: "arbflow:\n  name: x\nmarkets:\n  - symbol: BTCGBP\n    depths: [1]\nexchanges:\n  binance:\n    enabled: true\n",
			want:    "BASE/QUOTE",
		},
		{
			name:    "no exchanges",
			content: "arbflow:\n  name: x\nmarkets:\n  - symbol: BTC/GBP\n    depths: [1]\n",
			want:    "at least one venue",
		},
		{
			name:    "bad connection",
			content: "arbflow:\n  name: x\nmarkets:\n  - symbol: BTC/GBP\n    depths: [1]\nexchanges:\n  bybit:\n    enabled: true\n    connection: fix\n",
			want:    "rest or websocket",
		},
		{
			name:    "pool smaller than polling venues",
			content: "arbflow:\n  name: x\nmarkets:\n  - symbol: BTC/GBP\n    depths: [1]\nreader:\n  max_workers: 1\nexchanges:\n  bybit:\n    enabled: true\n  kucoin:\n    enabled: true\n",
			want:    "reader.max_workers",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, c.content))
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("expected error containing %q, got %v", c.want, err)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path replaced: %s", got)
	}
	// No production file exists relative to the test directory.
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("expected default path, got %s", got)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
