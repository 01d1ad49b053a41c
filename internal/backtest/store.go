package backtest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"aurum/internal/market"
)

// Gap 表示数据集中缺失的一段 open_time 闭区间。
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport 描述某区间内的数据完整度。
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool {
	return r.Expected > 0 && r.Present >= r.Expected && len(r.Gaps) == 0
}

// Manifest 记录某个 symbol@timeframe 数据集的统计信息。
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
}

// Store 以 sqlite 管理本地 K 线数据集，每个 symbol 一个库文件，
// 不同周期共用一张表。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol string) (*sql.DB, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	key := strings.ToUpper(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, nil
	}
	path := filepath.Join(s.root, key+".db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCandleSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.dbs[key] = db
	return db, nil
}

func ensureCandleSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			timeframe  TEXT NOT NULL,
			open_time  INTEGER NOT NULL,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			trades     INTEGER DEFAULT 0,
			PRIMARY KEY (timeframe, open_time)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			timeframe TEXT PRIMARY KEY,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertCandles 批量写入 K 线，重复 open_time 将被覆盖。
func (s *Store) InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	db, err := s.db(symbol)
	if err != nil {
		return 0, err
	}
	tf := strings.ToLower(timeframe)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (timeframe, open_time, close_time, open, high, low, close, volume, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(timeframe, open_time) DO UPDATE SET
		    close_time=excluded.close_time,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, tf, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, s.refreshManifest(ctx, db, tf)
}

func (s *Store) refreshManifest(ctx context.Context, db *sql.DB, tf string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO manifest (timeframe, min_time, max_time, rows, last_sync_at)
		SELECT ?, COALESCE(MIN(open_time), 0), COALESCE(MAX(open_time), 0), COUNT(1), ?
		FROM candles WHERE timeframe = ?
		ON CONFLICT(timeframe) DO UPDATE SET
		    min_time=excluded.min_time,
		    max_time=excluded.max_time,
		    rows=excluded.rows,
		    last_sync_at=excluded.last_sync_at`, tf, now, tf)
	return err
}

// Manifest 读取指定数据集的统计信息。
func (s *Store) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	db, err := s.db(symbol)
	if err != nil {
		return Manifest{}, err
	}
	tf := strings.ToLower(timeframe)
	row := db.QueryRowContext(ctx, `SELECT min_time, max_time, rows, last_sync_at FROM manifest WHERE timeframe = ?`, tf)
	m := Manifest{Symbol: strings.ToUpper(symbol), Timeframe: tf}
	if err := row.Scan(&m.MinTime, &m.MaxTime, &m.Rows, &m.LastSyncAt); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// RangeCandles 返回 [start, end] 闭区间内的 K 线（open_time 升序）。
func (s *Store) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	if start <= 0 || end <= 0 {
		return nil, fmt.Errorf("start/end 需 > 0")
	}
	if end < start {
		start, end = end, start
	}
	db, err := s.db(symbol)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades
		FROM candles WHERE timeframe = ? AND open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, strings.ToLower(timeframe), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// CheckIntegrity 比对区间内应有与实有的 open_time，输出缺口列表。
func (s *Store) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf market.Timeframe, start, end int64) (IntegrityReport, error) {
	db, err := s.db(symbol)
	if err != nil {
		return IntegrityReport{}, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time FROM candles
		WHERE timeframe = ? AND open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, strings.ToLower(timeframe), start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	defer rows.Close()
	present := make(map[int64]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return IntegrityReport{}, err
		}
		present[ts] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return IntegrityReport{}, err
	}

	step := tf.DurationMillis()
	report := IntegrityReport{
		Expected: tf.ExpectedCandles(start, end),
		Present:  int64(len(present)),
	}
	var gapStart int64 = -1
	for ts := start; ts <= end; ts += step {
		if _, ok := present[ts]; ok {
			if gapStart >= 0 {
				report.Gaps = append(report.Gaps, Gap{From: gapStart, To: ts - step})
				gapStart = -1
			}
			continue
		}
		if gapStart < 0 {
			gapStart = ts
		}
	}
	if gapStart >= 0 {
		report.Gaps = append(report.Gaps, Gap{From: gapStart, To: alignLast(start, end, step)})
	}
	return report, nil
}

// alignLast 返回区间内最后一个对齐的 open_time。
func alignLast(start, end, step int64) int64 {
	if step <= 0 || end < start {
		return end
	}
	return start + ((end-start)/step)*step
}
