package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/futures"

	"aurum/internal/backtest"
	"aurum/internal/market"
)

const maxHistoryLimit = 1500

// Client 基于 go-binance SDK 封装 USDT 合约的行情与账户接口，
// 同时实现 backtest.CandleSource，供历史数据补齐任务复用。
type Client struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Client, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Client{cfg: final, client: client}, nil
}

func (c *Client) Name() string { return "binance" }

// Fetch 实现 backtest.CandleSource，按区间拉取 K 线。
func (c *Client) Fetch(ctx context.Context, req backtest.FetchRequest) ([]market.Candle, error) {
	symbol := cleanSymbol(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	svc := c.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

// FetchHistory 拉取最近 limit 根 K 线，供决策循环滚动窗口使用。
func (c *Client) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	return c.Fetch(ctx, backtest.FetchRequest{Symbol: symbol, Interval: interval, Limit: limit})
}

// AccountEquity 返回账户保证金余额与未实现盈亏合计。
func (c *Client) AccountEquity(ctx context.Context) (float64, error) {
	acct, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, err
	}
	balance := parseFloat(acct.TotalMarginBalance)
	if balance <= 0 {
		balance = parseFloat(acct.TotalWalletBalance) + parseFloat(acct.TotalUnrealizedProfit)
	}
	return balance, nil
}

// OpenPositions 返回当前非零仓位。
func (c *Client) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	risks, err := c.client.NewGetPositionRiskService().Symbol(cleanSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []Position
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}
		out = append(out, Position{
			Symbol:        r.Symbol,
			Side:          side,
			Units:         amt,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		})
	}
	return out, nil
}

// Position 是交易所仓位的最小抽象。
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Units         float64 `json:"units"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// cleanSymbol 去掉分隔符并转大写（ETH/USDT -> ETHUSDT）。
func cleanSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
