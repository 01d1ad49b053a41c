package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9982"
	defaultAppLogPath  = "/data/logs/aurum.log"

	defaultDataCandleRoot  = "/data/candles"
	defaultDataResultsRoot = "/data/db"
	defaultDataJournalPath = "/data/db/journal.db"

	defaultBinanceREST    = "https://fapi.binance.com"
	defaultBinanceTimeout = 15

	defaultBacktestExecTF        = "1h"
	defaultBacktestHigherTF      = "4h"
	defaultBacktestEquity        = 10000
	defaultBacktestMaxActive     = 2
	defaultBacktestFetchRate     = 1200
	defaultBacktestFetchParallel = 2
	defaultBacktestFetchBatch    = 1500

	defaultLiveOffsetSeconds = 10
	defaultLiveHistoryBars   = 400
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Live.applyDefaults(keys)
	c.Feature.Normalize()
	c.Strategy.Normalize()
	c.Risk.Normalize()
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.candle_root", &d.CandleRoot, defaultDataCandleRoot),
		stringFieldDefault("data.results_root", &d.ResultsRoot, defaultDataResultsRoot),
		stringFieldDefault("data.journal_path", &d.JournalPath, defaultDataJournalPath),
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		fieldDefault{
			key:   "binance.timeout_seconds",
			need:  func() bool { return b.TimeoutSeconds <= 0 },
			apply: func() { b.TimeoutSeconds = defaultBinanceTimeout },
		},
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backtest.execution_timeframe", &b.ExecutionTimeframe, defaultBacktestExecTF),
		stringFieldDefault("backtest.higher_timeframe", &b.HigherTimeframe, defaultBacktestHigherTF),
		fieldDefault{
			key:   "backtest.initial_equity",
			need:  func() bool { return b.InitialEquity <= 0 },
			apply: func() { b.InitialEquity = defaultBacktestEquity },
		},
		fieldDefault{
			key:   "backtest.max_active_runs",
			need:  func() bool { return b.MaxActiveRuns <= 0 },
			apply: func() { b.MaxActiveRuns = defaultBacktestMaxActive },
		},
		fieldDefault{
			key:   "backtest.fetch_rate_per_minute",
			need:  func() bool { return b.FetchRatePerMinute <= 0 },
			apply: func() { b.FetchRatePerMinute = defaultBacktestFetchRate },
		},
		fieldDefault{
			key:   "backtest.fetch_max_concurrent",
			need:  func() bool { return b.FetchMaxConcurrent <= 0 },
			apply: func() { b.FetchMaxConcurrent = defaultBacktestFetchParallel },
		},
		fieldDefault{
			key:   "backtest.fetch_max_batch",
			need:  func() bool { return b.FetchMaxBatch <= 0 },
			apply: func() { b.FetchMaxBatch = defaultBacktestFetchBatch },
		},
	)
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "live.offset_seconds",
			need:  func() bool { return l.OffsetSeconds <= 0 },
			apply: func() { l.OffsetSeconds = defaultLiveOffsetSeconds },
		},
		fieldDefault{
			key:   "live.history_bars",
			need:  func() bool { return l.HistoryBars <= 0 },
			apply: func() { l.HistoryBars = defaultLiveHistoryBars },
		},
	)
	l.Symbols = l.NormalizedSymbols()
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
