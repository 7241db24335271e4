package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Feed.Endpoint == "" {
		return errors.New("feed.endpoint is required (or BOARD_FEED_ENDPOINT)")
	}
	u, err := url.Parse(cfg.Feed.Endpoint)
	if err != nil {
		return fmt.Errorf("feed.endpoint invalid: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("feed.endpoint scheme %q must be ws, wss, http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("feed.endpoint host is required")
	}
	if cfg.Feed.ReadTimeoutMs < 0 {
		return errors.New("feed.readTimeoutMs must be >= 0")
	}
	if cfg.Feed.ResubscribeRate < 0 {
		return errors.New("feed.resubscribeRate must be >= 0")
	}
	if cfg.Feed.ResubscribeBurst < 0 {
		return errors.New("feed.resubscribeBurst must be >= 0")
	}
	if cfg.Feed.AlertThrottleSec < 0 {
		return errors.New("feed.alertThrottleSec must be >= 0")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols must contain at least one symbol")
	}
	for _, s := range cfg.Symbols {
		if strings.TrimSpace(s) == "" {
			return errors.New("symbols must not contain blank entries")
		}
	}
	if cfg.Display.Addr == "" {
		return errors.New("display.addr is required")
	}
	return nil
}
