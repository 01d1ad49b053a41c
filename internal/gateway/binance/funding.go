package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// Funding 汇总标记价格与资金费率，供通知与报表展示。
type Funding struct {
	Symbol      string  `json:"symbol"`
	MarkPrice   float64 `json:"mark_price"`
	IndexPrice  float64 `json:"index_price"`
	FundingRate float64 `json:"funding_rate"`
	NextFunding int64   `json:"next_funding"`
}

// PremiumIndex 直接访问 /fapi/v1/premiumIndex 并用 gjson 解析，
// SDK 对该端点的类型包装在不同版本间不稳定。
func (c *Client) PremiumIndex(ctx context.Context, symbol string) (Funding, error) {
	sym := cleanSymbol(symbol)
	if sym == "" {
		return Funding{}, fmt.Errorf("symbol is required")
	}
	u, err := url.Parse(c.cfg.RESTBaseURL)
	if err != nil {
		return Funding{}, err
	}
	u.Path = "/fapi/v1/premiumIndex"
	q := u.Query()
	q.Set("symbol", sym)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Funding{}, err
	}
	resp, err := c.client.HTTPClient.Do(req)
	if err != nil {
		return Funding{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Funding{}, err
	}
	if resp.StatusCode >= 300 {
		return Funding{}, fmt.Errorf("binance premiumIndex status=%d body=%s", resp.StatusCode, gjson.GetBytes(body, "msg").String())
	}
	return Funding{
		Symbol:      sym,
		MarkPrice:   gjson.GetBytes(body, "markPrice").Float(),
		IndexPrice:  gjson.GetBytes(body, "indexPrice").Float(),
		FundingRate: gjson.GetBytes(body, "lastFundingRate").Float(),
		NextFunding: gjson.GetBytes(body, "nextFundingTime").Int(),
	}, nil
}
