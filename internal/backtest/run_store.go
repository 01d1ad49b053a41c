package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"aurum/internal/strategy"
)

func parseDirection(s string) strategy.Direction {
	if s == string(strategy.DirectionShort) {
		return strategy.DirectionShort
	}
	return strategy.DirectionLong
}

// ResultStore 管理 backtest_runs / backtest_trades / backtest_equity 表。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			timeframe TEXT NOT NULL,
			trades INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			metrics_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			entry_time INTEGER NOT NULL,
			exit_time INTEGER NOT NULL,
			direction TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit REAL NOT NULL,
			units REAL NOT NULL,
			pnl REAL NOT NULL,
			r_multiple REAL NOT NULL,
			score INTEGER NOT NULL,
			close_reason TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_equity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_run ON backtest_equity(run_id, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := run.MarshalConfig()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, symbol, status, start_ts, end_ts, timeframe, trades, config_json, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.Status, run.StartTS, run.EndTS, run.Timeframe,
		run.Trades, string(cfgJSON), run.Message, now, now)
	return err
}

// UpdateRunStatus 更新 run 状态与提示信息。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, runID, status, message string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		status, message, now, runID)
	return err
}

// CompleteRun 写入汇总指标并将 run 标记为完成。
func (s *ResultStore) CompleteRun(ctx context.Context, runID string, result *Result) error {
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status = ?, trades = ?, metrics_json = ?, message = '', updated_at = ?, completed_at = ?
		WHERE id = ?`,
		RunStatusDone, len(result.Trades), string(metricsJSON), now, now, runID); err != nil {
		_ = tx.Rollback()
		return err
	}
	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(run_id, entry_time, exit_time, direction, entry_price, exit_price,
			stop_loss, take_profit, units, pnl, r_multiple, score, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer tradeStmt.Close()
	for _, t := range result.Trades {
		if _, err := tradeStmt.ExecContext(ctx, runID, t.EntryTime, t.ExitTime, string(t.Direction),
			t.EntryPrice, t.ExitPrice, t.StopLoss, t.TakeProfit, t.Units, t.PnL, t.RMultiple,
			t.Score, t.CloseReason); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	eqStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_equity (run_id, ts, equity) VALUES (?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer eqStmt.Close()
	for _, p := range result.EquityCurve {
		if _, err := eqStmt.ExecContext(ctx, runID, p.Time, p.Equity); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetRun 读取单条 run 记录。
func (s *ResultStore) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, status, start_ts, end_ts, timeframe, trades,
		       config_json, metrics_json, message, created_at, updated_at, completed_at
		FROM backtest_runs WHERE id = ?`, runID)
	return scanRun(row)
}

// ListRuns 按创建时间倒序列出 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, status, start_ts, end_ts, timeframe, trades,
		       config_json, metrics_json, message, created_at, updated_at, completed_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var cfgJSON string
	var metricsJSON, message sql.NullString
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(&run.ID, &run.Symbol, &run.Status, &run.StartTS, &run.EndTS,
		&run.Timeframe, &run.Trades, &cfgJSON, &metricsJSON, &message,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return Run{}, fmt.Errorf("解析 run config 失败: %w", err)
	}
	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &run.Metrics); err != nil {
			return Run{}, fmt.Errorf("解析 run metrics 失败: %w", err)
		}
	}
	run.Message = message.String
	run.CreatedAt = time.UnixMilli(createdAt)
	run.UpdatedAt = time.UnixMilli(updatedAt)
	if completedAt.Valid {
		run.CompletedAt = time.UnixMilli(completedAt.Int64)
	}
	return run, nil
}

// RunTrades 读取某次 run 的全部交易。
func (s *ResultStore) RunTrades(ctx context.Context, runID string) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_time, exit_time, direction, entry_price, exit_price,
		       stop_loss, take_profit, units, pnl, r_multiple, score, close_reason
		FROM backtest_trades WHERE run_id = ? ORDER BY entry_time ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var t Trade
		var dir string
		if err := rows.Scan(&t.EntryTime, &t.ExitTime, &dir, &t.EntryPrice, &t.ExitPrice,
			&t.StopLoss, &t.TakeProfit, &t.Units, &t.PnL, &t.RMultiple, &t.Score, &t.CloseReason); err != nil {
			return nil, err
		}
		t.Direction = parseDirection(dir)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RunEquity 读取某次 run 的资金曲线。
func (s *ResultStore) RunEquity(ctx context.Context, runID string) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, equity FROM backtest_equity WHERE run_id = ? ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.Time, &p.Equity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
