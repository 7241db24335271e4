package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
feed:
  endpoint: wss://feed.test/socket
  accessKey: foo
symbols: [gold, " silver ", GOLD]
display:
  addr: ":9090"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Feed.AccessKey != "foo" || cfg.Display.Addr != ":9090" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if strings.Join(cfg.Symbols, ",") != "gold,silver,GOLD" {
		t.Fatalf("unexpected symbols: %v", cfg.Symbols)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
feed:
  endpoint: https://feed.test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(cfg.Symbols, ",") != "GOLD,SILVER,PLATINUM" {
		t.Fatalf("unexpected default symbols: %v", cfg.Symbols)
	}
	if cfg.Display.Addr != ":8080" || cfg.Display.Title != "Live Market Data" {
		t.Fatalf("unexpected display defaults: %+v", cfg.Display)
	}
	if cfg.Feed.ResubscribeRate != 0.5 || cfg.Feed.ResubscribeBurst != 2 || cfg.Feed.AlertThrottleSec != 30 {
		t.Fatalf("unexpected feed defaults: %+v", cfg.Feed)
	}
	if cfg.Log.Level == "" {
		t.Fatalf("log defaults not applied")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing env":      "feed:\n  endpoint: wss://feed.test\n",
		"missing endpoint": "env: dev\n",
		"bad scheme":       "env: dev\nfeed:\n  endpoint: ftp://feed.test\n",
		"missing host":     "env: dev\nfeed:\n  endpoint: wss://\n",
		"negative timeout": "env: dev\nfeed:\n  endpoint: wss://feed.test\n  readTimeoutMs: -1\n",
		"empty symbols":    "env: dev\nfeed:\n  endpoint: wss://feed.test\nsymbols: []\n",
		"blank symbols":    "env: dev\nfeed:\n  endpoint: wss://feed.test\nsymbols: [\" \"]\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTempConfig(t, content)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
feed:
  endpoint: wss://placeholder.test
`)
	t.Setenv("BOARD_FEED_ENDPOINT", "wss://live.test/feed")
	t.Setenv("BOARD_FEED_ACCESS_KEY", "env-key")
	t.Setenv("BOARD_DISPLAY_ADDR", "127.0.0.1:7000")

	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Feed.Endpoint != "wss://live.test/feed" || cfg.Feed.AccessKey != "env-key" {
		t.Fatalf("env overrides not applied: %+v", cfg.Feed)
	}
	if cfg.Display.Addr != "127.0.0.1:7000" {
		t.Fatalf("display addr override not applied: %s", cfg.Display.Addr)
	}
}

func TestNormalizeSymbols(t *testing.T) {
	got := NormalizeSymbols([]string{" xau ", "", "XAU", "xag", "  ", "xau"})
	if strings.Join(got, ",") != "xau,XAU,xag" {
		t.Fatalf("unexpected normalized symbols: %v", got)
	}
	if out := NormalizeSymbols(nil); out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}

func TestNormalizeSymbolsKeepsCase(t *testing.T) {
	got := NormalizeSymbols([]string{"Gold", "xauUSD", "gold", " xauUSD "})
	if strings.Join(got, ",") != "Gold,xauUSD,gold" {
		t.Fatalf("symbols must pass through unchanged, got %v", got)
	}
}

func TestLoadKeepsPartialLogConfig(t *testing.T) {
	path := writeTempConfig(t, `
env: dev
feed:
  endpoint: wss://feed.test
log:
  outputs: [file]
  output_file: /tmp/board-test.log
  max_backups: 9
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.OutputFile != "/tmp/board-test.log" || cfg.Log.MaxBackups != 9 {
		t.Fatalf("user log settings lost: %+v", cfg.Log)
	}
	if len(cfg.Log.Outputs) != 1 || cfg.Log.Outputs[0] != "file" {
		t.Fatalf("outputs overwritten: %v", cfg.Log.Outputs)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" || cfg.Log.MaxSize != 100 || cfg.Log.MaxAge != 7 {
		t.Fatalf("missing log defaults: %+v", cfg.Log)
	}
}
