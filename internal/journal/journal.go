package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"aurum/internal/risk"
	"aurum/internal/strategy"
)

// Journal 用 Gorm + SQLite 记录实盘决策轨迹：每次评估、每次风控拒绝、
// 每笔成交都可回放，是排查「为什么没开仓」的第一手资料。
type Journal struct {
	db *gorm.DB
}

// EvaluationEntry 记录一次信号评估。
type EvaluationEntry struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	Symbol     string         `gorm:"index;size:32"`
	BarTime    int64          `gorm:"index"`
	Outcome    string         `gorm:"size:32"` // signal / no_signal / risk_rejected
	Reason     string         `gorm:"size:255"`
	SignalJSON datatypes.JSON `gorm:"column:signal_json"`
	CreatedAt  time.Time
}

func (EvaluationEntry) TableName() string { return "journal_evaluations" }

// TradeEntry 记录一笔实盘交易的开平仓。
type TradeEntry struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Symbol     string `gorm:"index;size:32"`
	Direction  string `gorm:"size:8"`
	EntryTime  int64  `gorm:"index"`
	ExitTime   int64
	EntryPrice float64
	ExitPrice  float64
	StopLoss   float64
	TakeProfit float64
	Units      float64
	PnL        float64 `gorm:"column:pnl"`
	Reason     string  `gorm:"size:64"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (TradeEntry) TableName() string { return "journal_trades" }

func New(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: 路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// 使用纯 Go 的 modernc.org/sqlite 驱动（DSN 的 _pragma 语法即该驱动格式），
	// 以便在 CGO_ENABLED=0 下运行。
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&EvaluationEntry{}, &TradeEntry{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordSignal 记录一次产出信号的评估。
func (j *Journal) RecordSignal(ctx context.Context, symbol string, sig *strategy.Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	entry := EvaluationEntry{
		Symbol:     symbol,
		BarTime:    sig.BarTime,
		Outcome:    "signal",
		SignalJSON: datatypes.JSON(payload),
	}
	return j.db.WithContext(ctx).Create(&entry).Error
}

// RecordNoSignal 记录一次空手评估。
func (j *Journal) RecordNoSignal(ctx context.Context, symbol string, barTime int64) error {
	entry := EvaluationEntry{Symbol: symbol, BarTime: barTime, Outcome: "no_signal"}
	return j.db.WithContext(ctx).Create(&entry).Error
}

// RecordRiskRejection 记录风控拒绝及原因。
func (j *Journal) RecordRiskRejection(ctx context.Context, symbol string, barTime int64, d risk.Decision) error {
	entry := EvaluationEntry{Symbol: symbol, BarTime: barTime, Outcome: "risk_rejected", Reason: d.Reason}
	return j.db.WithContext(ctx).Create(&entry).Error
}

// RecordTradeOpen 记录开仓，返回条目 ID 供平仓时更新。
func (j *Journal) RecordTradeOpen(ctx context.Context, symbol string, sig *strategy.Signal, units, fillPrice float64, entryTime int64) (int64, error) {
	entry := TradeEntry{
		Symbol:     symbol,
		Direction:  string(sig.Direction),
		EntryTime:  entryTime,
		EntryPrice: fillPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Units:      units,
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return 0, err
	}
	return entry.ID, nil
}

// RecordTradeClose 补全平仓信息。
func (j *Journal) RecordTradeClose(ctx context.Context, tradeID int64, exitTime int64, exitPrice, pnl float64, reason string) error {
	return j.db.WithContext(ctx).Model(&TradeEntry{}).Where("id = ?", tradeID).Updates(map[string]any{
		"exit_time":  exitTime,
		"exit_price": exitPrice,
		"pnl":        pnl,
		"reason":     reason,
	}).Error
}

// RecentEvaluations 返回某 symbol 最近的评估记录。
func (j *Journal) RecentEvaluations(ctx context.Context, symbol string, limit int) ([]EvaluationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []EvaluationEntry
	err := j.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("bar_time DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// OpenTrades 返回尚未平仓的交易。
func (j *Journal) OpenTrades(ctx context.Context, symbol string) ([]TradeEntry, error) {
	var out []TradeEntry
	err := j.db.WithContext(ctx).
		Where("symbol = ? AND exit_time = 0", symbol).
		Order("entry_time ASC").
		Find(&out).Error
	return out, err
}
