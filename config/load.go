package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"market-board-go/infrastructure/logger"
)

// DefaultSymbols 未配置 symbols 时订阅的品种。
var DefaultSymbols = []string{"GOLD", "SILVER", "PLATINUM"}

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Feed    FeedConfig    `yaml:"feed"`
	Symbols []string      `yaml:"symbols"`
	Display DisplayConfig `yaml:"display"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     logger.Config `yaml:"log"`
}

type FeedConfig struct {
	Endpoint         string  `yaml:"endpoint"`
	AccessKey        string  `yaml:"accessKey"`
	ReadTimeoutMs    int     `yaml:"readTimeoutMs"`    // 0 表示不设读超时
	ResubscribeRate  float64 `yaml:"resubscribeRate"`  // 每秒允许的重新订阅次数
	ResubscribeBurst int     `yaml:"resubscribeBurst"` // 重新订阅突发上限
	AlertThrottleSec int     `yaml:"alertThrottleSec"` // 相同错误告警的最小间隔
}

type DisplayConfig struct {
	Addr  string `yaml:"addr"`
	Title string `yaml:"title"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Load reads YAML config from path, fills defaults and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, Validate(cfg)
}

// LoadWithEnvOverrides loads .env (if any) then lets env vars override the feed
// endpoint, access key and display address.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := parse(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("BOARD_FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v := os.Getenv("BOARD_FEED_ACCESS_KEY"); v != "" {
		cfg.Feed.AccessKey = v
	}
	if v := os.Getenv("BOARD_DISPLAY_ADDR"); v != "" {
		cfg.Display.Addr = v
	}
	applyDefaults(&cfg)
	return cfg, Validate(cfg)
}

func parse(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// NormalizeSymbols 去掉首尾空白和空项并去重，保持首次出现的顺序。
// symbol 对行情源是不透明的，大小写原样保留。
func NormalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Symbols == nil {
		cfg.Symbols = append([]string(nil), DefaultSymbols...)
	}
	cfg.Symbols = NormalizeSymbols(cfg.Symbols)
	if cfg.Display.Addr == "" {
		cfg.Display.Addr = ":8080"
	}
	if cfg.Display.Title == "" {
		cfg.Display.Title = "Live Market Data"
	}
	if cfg.Feed.ResubscribeRate == 0 {
		cfg.Feed.ResubscribeRate = 0.5
	}
	if cfg.Feed.ResubscribeBurst == 0 {
		cfg.Feed.ResubscribeBurst = 2
	}
	if cfg.Feed.AlertThrottleSec == 0 {
		cfg.Feed.AlertThrottleSec = 30
	}
	applyLogDefaults(&cfg.Log)
}

// applyLogDefaults 只补齐未设置的日志字段。
func applyLogDefaults(l *logger.Config) {
	def := logger.DefaultConfig()
	if l.Level == "" {
		l.Level = def.Level
	}
	if len(l.Outputs) == 0 {
		l.Outputs = def.Outputs
	}
	if l.Format == "" {
		l.Format = def.Format
	}
	if l.MaxSize == 0 {
		l.MaxSize = def.MaxSize
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = def.MaxBackups
	}
	if l.MaxAge == 0 {
		l.MaxAge = def.MaxAge
	}
}
