package live

import (
	"context"
	"testing"
	"time"

	"aurum/internal/analysis/feature"
	"aurum/internal/gateway/binance"
	"aurum/internal/market"
	"aurum/internal/risk"
	"aurum/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMarketData struct {
	mock.Mock
}

func (m *MockMarketData) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]market.Candle), args.Error(1)
}

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Open(ctx context.Context, req OrderRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}
func (m *MockExecutor) Close(ctx context.Context, symbol string, units, price float64, reason string) error {
	args := m.Called(ctx, symbol, units, price, reason)
	return args.Error(0)
}
func (m *MockExecutor) UpdateStop(ctx context.Context, symbol string, stop float64) error {
	args := m.Called(ctx, symbol, stop)
	return args.Error(0)
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) RecordSignal(ctx context.Context, symbol string, sig *strategy.Signal) error {
	args := m.Called(ctx, symbol, sig)
	return args.Error(0)
}
func (m *MockJournal) RecordNoSignal(ctx context.Context, symbol string, barTime int64) error {
	args := m.Called(ctx, symbol, barTime)
	return args.Error(0)
}
func (m *MockJournal) RecordRiskRejection(ctx context.Context, symbol string, barTime int64, d risk.Decision) error {
	args := m.Called(ctx, symbol, barTime, d)
	return args.Error(0)
}
func (m *MockJournal) RecordTradeOpen(ctx context.Context, symbol string, sig *strategy.Signal, units, fillPrice float64, entryTime int64) (int64, error) {
	args := m.Called(ctx, symbol, sig, units, fillPrice, entryTime)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockJournal) RecordTradeClose(ctx context.Context, tradeID int64, exitTime int64, exitPrice, pnl float64, reason string) error {
	args := m.Called(ctx, tradeID, exitTime, exitPrice, pnl, reason)
	return args.Error(0)
}

type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) OpenPositions(ctx context.Context, symbol string) ([]binance.Position, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]binance.Position), args.Error(1)
}
func (m *MockExchange) PremiumIndex(ctx context.Context, symbol string) (binance.Funding, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(binance.Funding), args.Error(1)
}

// recordingNotifier 记录推送文本，便于断言通知内容。
type recordingNotifier struct {
	texts []string
}

func (r *recordingNotifier) SendText(text string) error {
	r.texts = append(r.texts, text)
	return nil
}

func smallFeatureSettings() feature.Settings {
	return feature.Settings{
		EMAFast: 3, EMASlow: 5, EMATrend: 8,
		RSIPeriod: 4, RSISlopeWindow: 2,
		MACDFast: 3, MACDSlow: 6, MACDSignal: 3,
		StochFastK: 4, StochSlowK: 2, StochSlowD: 2,
		ATRPeriod: 4, BBPeriod: 5, BBStdDev: 2.0,
		SwingWindow: 2, DivergenceLookback: 6,
	}
}

// flatCandles 生成价格恒定的历史序列，ATR 为 0，任何信号都会被波动率闸门拒绝。
func flatCandles(n int) []market.Candle {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hour := time.Hour.Milliseconds()
	out := make([]market.Candle, n)
	for i := range out {
		open := base + int64(i)*hour
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hour - 1,
			Open:      100, High: 100, Low: 100, Close: 100,
			Volume: 10,
		}
	}
	return out
}

func testSettings() Settings {
	return Settings{
		Symbols:            []string{"ETHUSDT"},
		ExecutionTimeframe: "1h",
		HigherTimeframe:    "4h",
		HistoryBars:        60,
		InitialEquity:      10000,
		Feature:            smallFeatureSettings(),
	}
}

func newTestEngine(t *testing.T, mkt *MockMarketData, exec *MockExecutor, jnl *MockJournal) *Engine {
	t.Helper()
	eng, err := NewEngine(EngineParams{
		Settings: testSettings(),
		Market:   mkt,
		Executor: exec,
		Journal:  jnl,
	})
	require.NoError(t, err)
	return eng
}

func TestNewEngineRequiresDependencies(t *testing.T) {
	_, err := NewEngine(EngineParams{Settings: testSettings()})
	require.Error(t, err)

	_, err = NewEngine(EngineParams{
		Settings: Settings{ExecutionTimeframe: "1h"},
		Market:   new(MockMarketData),
		Executor: new(MockExecutor),
		Journal:  new(MockJournal),
	})
	require.Error(t, err)
}

func TestTickRecordsNoSignalOnQuietMarket(t *testing.T) {
	mkt := new(MockMarketData)
	exec := new(MockExecutor)
	jnl := new(MockJournal)
	eng := newTestEngine(t, mkt, exec, jnl)

	ctx := context.Background()
	candles := flatCandles(60)
	lastOpen := candles[len(candles)-1].OpenTime
	mkt.On("FetchHistory", mock.Anything, "ETHUSDT", "1h", 60).Return(candles, nil)
	mkt.On("FetchHistory", mock.Anything, "ETHUSDT", "4h", 60).Return(flatCandles(60), nil)
	jnl.On("RecordNoSignal", mock.Anything, "ETHUSDT", lastOpen).Return(nil)

	require.NoError(t, eng.Tick(ctx, "ETHUSDT"))

	jnl.AssertExpectations(t)
	exec.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestTickSkipsAlreadySeenBar(t *testing.T) {
	mkt := new(MockMarketData)
	exec := new(MockExecutor)
	jnl := new(MockJournal)
	eng := newTestEngine(t, mkt, exec, jnl)

	ctx := context.Background()
	candles := flatCandles(60)
	mkt.On("FetchHistory", mock.Anything, "ETHUSDT", mock.Anything, 60).Return(candles, nil)
	jnl.On("RecordNoSignal", mock.Anything, "ETHUSDT", mock.Anything).Return(nil)

	require.NoError(t, eng.Tick(ctx, "ETHUSDT"))
	require.NoError(t, eng.Tick(ctx, "ETHUSDT"))

	// 第二次 tick 没有新收盘 K 线，不应产生新的评估记录
	jnl.AssertNumberOfCalls(t, "RecordNoSignal", 1)
}

func TestTickUnknownSymbol(t *testing.T) {
	eng := newTestEngine(t, new(MockMarketData), new(MockExecutor), new(MockJournal))
	require.Error(t, eng.Tick(context.Background(), "XRPUSDT"))
}

func TestManageOpenTradeStopLoss(t *testing.T) {
	mkt := new(MockMarketData)
	exec := new(MockExecutor)
	jnl := new(MockJournal)
	eng := newTestEngine(t, mkt, exec, jnl)

	ctx := context.Background()
	st := eng.states["ETHUSDT"]
	st.open = &openTrade{
		journalID: 7,
		dir:       strategy.DirectionLong,
		entry:     2340,
		stop:      2338,
		target:    2344,
		units:     10,
	}

	bar := feature.Bar{Candle: market.Candle{
		OpenTime: 1000, CloseTime: 1999,
		Open: 2339, High: 2341, Low: 2337.5, Close: 2338.5,
	}}
	exec.On("Close", ctx, "ETHUSDT", 10.0, 2338.0, "stop_loss").Return(nil)
	jnl.On("RecordTradeClose", ctx, int64(7), int64(1999), 2338.0, -20.0, "stop_loss").Return(nil)

	require.NoError(t, eng.manageOpenTrade(ctx, "ETHUSDT", st, bar))

	assert.Nil(t, st.open)
	assert.Equal(t, 9980.0, st.riskMgr.Equity())
	exec.AssertExpectations(t)
	jnl.AssertExpectations(t)
}

func TestManageOpenTradeTrailsStop(t *testing.T) {
	mkt := new(MockMarketData)
	exec := new(MockExecutor)
	jnl := new(MockJournal)
	eng := newTestEngine(t, mkt, exec, jnl)

	ctx := context.Background()
	st := eng.states["ETHUSDT"]
	st.open = &openTrade{
		journalID: 3,
		dir:       strategy.DirectionLong,
		entry:     2340,
		stop:      2338,
		target:    2350,
		units:     5,
	}

	// 浮盈 2 ATR，超过默认 1.5 ATR 激活阈值，跟踪距离 1 ATR
	bar := feature.Bar{
		Candle: market.Candle{Open: 2341, High: 2342.5, Low: 2340.5, Close: 2342.4},
		ATR:    1.2,
	}
	exec.On("UpdateStop", ctx, "ETHUSDT", 2341.2).Return(nil)

	require.NoError(t, eng.manageOpenTrade(ctx, "ETHUSDT", st, bar))

	assert.Equal(t, 2341.2, st.open.stop)
	exec.AssertExpectations(t)
}

// 启动对账发现不由引擎管理的交易所持仓时，该交易对暂停开仓并推送告警；
// 交易所侧清空后恢复。
func TestReconcileExternalPosition(t *testing.T) {
	mkt := new(MockMarketData)
	exec := new(MockExecutor)
	jnl := new(MockJournal)
	exch := new(MockExchange)
	notif := &recordingNotifier{}

	eng, err := NewEngine(EngineParams{
		Settings: testSettings(),
		Market:   mkt,
		Executor: exec,
		Journal:  jnl,
		Exchange: exch,
		Notifier: notif,
	})
	require.NoError(t, err)

	ctx := context.Background()
	exch.On("OpenPositions", mock.Anything, "ETHUSDT").Return([]binance.Position{{
		Symbol: "ETHUSDT", Side: "long", Units: 0.5, EntryPrice: 2310,
	}}, nil).Once()

	eng.reconcilePositions(ctx)

	st := eng.states["ETHUSDT"]
	assert.True(t, st.external)
	require.Len(t, notif.texts, 1)
	assert.Contains(t, notif.texts[0], "暂停开仓")

	exch.On("OpenPositions", mock.Anything, "ETHUSDT").Return([]binance.Position(nil), nil).Once()
	eng.refreshExternal(ctx, "ETHUSDT", st)
	assert.False(t, st.external)
	exch.AssertExpectations(t)
}

func TestReconcileWithoutExchangeIsNoop(t *testing.T) {
	eng := newTestEngine(t, new(MockMarketData), new(MockExecutor), new(MockJournal))
	eng.reconcilePositions(context.Background())
	assert.False(t, eng.states["ETHUSDT"].external)
}

func TestExitLevelStopBeatsTarget(t *testing.T) {
	long := &openTrade{dir: strategy.DirectionLong, stop: 98, target: 102}
	bar := feature.Bar{Candle: market.Candle{High: 103, Low: 97}}
	price, reason := exitLevel(long, bar)
	assert.Equal(t, 98.0, price)
	assert.Equal(t, "stop_loss", reason)

	short := &openTrade{dir: strategy.DirectionShort, stop: 102, target: 98}
	price, reason = exitLevel(short, bar)
	assert.Equal(t, 102.0, price)
	assert.Equal(t, "stop_loss", reason)

	calm := feature.Bar{Candle: market.Candle{High: 101, Low: 99}}
	_, reason = exitLevel(long, calm)
	assert.Empty(t, reason)
}

func TestRealizedPnL(t *testing.T) {
	long := &openTrade{dir: strategy.DirectionLong, entry: 100, units: 3}
	assert.Equal(t, 6.0, realizedPnL(long, 102))

	short := &openTrade{dir: strategy.DirectionShort, entry: 100, units: 3}
	assert.Equal(t, 6.0, realizedPnL(short, 98))
	assert.Equal(t, -6.0, realizedPnL(short, 102))
}

func TestDryRunExecutorLifecycle(t *testing.T) {
	exec := NewDryRunExecutor()
	ctx := context.Background()

	req := OrderRequest{Symbol: "ETHUSDT", Direction: strategy.DirectionLong, Units: 2, Entry: 2340, StopLoss: 2338, Target: 2344}
	require.NoError(t, exec.Open(ctx, req))
	pos, ok := exec.Position("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 2338.0, pos.StopLoss)

	require.NoError(t, exec.UpdateStop(ctx, "ETHUSDT", 2339.0))
	pos, _ = exec.Position("ETHUSDT")
	assert.Equal(t, 2339.0, pos.StopLoss)

	require.NoError(t, exec.Close(ctx, "ETHUSDT", 2, 2344, "take_profit"))
	_, ok = exec.Position("ETHUSDT")
	assert.False(t, ok)
}
