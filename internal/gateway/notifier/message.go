package notifier

import (
	"fmt"
	"strings"
	"time"

	"aurum/internal/strategy"
)

// FormatSignal 将交易提案渲染为推送文本。
func FormatSignal(symbol string, sig *strategy.Signal) string {
	if sig == nil {
		return ""
	}
	var b strings.Builder
	emoji := "🟢"
	if sig.Direction == strategy.DirectionShort {
		emoji = "🔴"
	}
	fmt.Fprintf(&b, "%s *%s %s*\n", emoji, symbol, strings.ToUpper(string(sig.Direction)))
	fmt.Fprintf(&b, "入场 `%.4f`  止损 `%.4f`  止盈 `%.4f`\n", sig.EntryPrice, sig.StopLoss, sig.TakeProfit)
	fmt.Fprintf(&b, "R:R `%.2f`  共振 `%d/%d`", sig.RiskReward, sig.Score, sig.RequiredScore)
	if sig.CounterTrend {
		b.WriteString("  ⚠️逆势")
	}
	if len(sig.Reasons) > 0 {
		b.WriteString("\n- ")
		b.WriteString(strings.Join(sig.Reasons, "\n- "))
	}
	fmt.Fprintf(&b, "\n_%s_", time.UnixMilli(sig.BarTime).UTC().Format("2006-01-02 15:04 UTC"))
	return b.String()
}

// FormatHalt 渲染风控拒绝 / 熔断提示。
func FormatHalt(symbol, reason string) string {
	return fmt.Sprintf("⛔ *%s* 已暂停开仓: %s", symbol, reason)
}

// FormatFunding 渲染附在开仓推送后的标记价与资金费率行。
func FormatFunding(markPrice, fundingRate float64) string {
	return fmt.Sprintf("标记价 `%.4f`  资金费率 `%.4f%%`", markPrice, fundingRate*100)
}
