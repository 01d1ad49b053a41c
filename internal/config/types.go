package config

import (
	"strings"
	"time"

	"aurum/internal/analysis/feature"
	"aurum/internal/gateway/binance"
	"aurum/internal/risk"
	"aurum/internal/strategy"
)

// Config 是 Aurum 的主配置载体。
type Config struct {
	App      AppConfig         `toml:"app"`
	Data     DataConfig        `toml:"data"`
	Binance  BinanceConfig     `toml:"binance"`
	Notify   NotifyConfig      `toml:"notify"`
	Feature  feature.Settings  `toml:"feature"`
	Strategy strategy.Settings `toml:"strategy"`
	Risk     risk.Settings     `toml:"risk"`
	Backtest BacktestConfig    `toml:"backtest"`
	Live     LiveConfig        `toml:"live"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 指定各类本地存储的路径。
// CandleRoot 与 ResultsRoot 为目录，库文件由存储层自行命名。
type DataConfig struct {
	CandleRoot  string `toml:"candle_root"`
	ResultsRoot string `toml:"results_root"`
	JournalPath string `toml:"journal_path"`
}

type BinanceConfig struct {
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ProxyEnabled   bool   `toml:"proxy_enabled"`
	RESTProxyURL   string `toml:"rest_proxy_url"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// BacktestConfig 描述回测模拟与数据补齐的默认参数。
type BacktestConfig struct {
	ExecutionTimeframe string  `toml:"execution_timeframe"`
	HigherTimeframe    string  `toml:"higher_timeframe"`
	InitialEquity      float64 `toml:"initial_equity"`
	Spread             float64 `toml:"spread"`
	Commission         float64 `toml:"commission"`
	SessionStartHour   int     `toml:"session_start_hour"`
	SessionEndHour     int     `toml:"session_end_hour"`

	MaxActiveRuns      int `toml:"max_active_runs"`
	FetchRatePerMinute int `toml:"fetch_rate_per_minute"`
	FetchMaxConcurrent int `toml:"fetch_max_concurrent"`
	FetchMaxBatch      int `toml:"fetch_max_batch"`
}

// LiveConfig 控制逐 K 线实时评估循环。
// OffsetSeconds 为收盘后延迟执行的秒数，等待交易所落盘。
type LiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Symbols       []string `toml:"symbols"`
	OffsetSeconds int      `toml:"offset_seconds"`
	DryRun        bool     `toml:"dry_run"`
	PresetsPath   string   `toml:"presets_path"`
	HistoryBars   int      `toml:"history_bars"`
}

// GatewayConfig 返回可直接用于构建行情客户端的配置。
func (b BinanceConfig) GatewayConfig() binance.Config {
	return binance.Config{
		APIKey:       b.APIKey,
		APISecret:    b.APISecret,
		RESTBaseURL:  b.RESTBaseURL,
		HTTPTimeout:  time.Duration(b.TimeoutSeconds) * time.Second,
		ProxyEnabled: b.ProxyEnabled,
		RESTProxyURL: b.RESTProxyURL,
	}
}

// NormalizedSymbols 返回去重且大写化的交易对列表。
func (l LiveConfig) NormalizedSymbols() []string {
	if len(l.Symbols) == 0 {
		return nil
	}
	out := make([]string, 0, len(l.Symbols))
	seen := make(map[string]bool, len(l.Symbols))
	for _, sym := range l.Symbols {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
