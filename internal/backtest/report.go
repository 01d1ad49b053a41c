package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderReport 将资金曲线与回撤渲染为单页 HTML 报表。
func RenderReport(w io.Writer, run Run, trades []Trade, curve []EquityPoint) error {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityChart(run, curve), drawdownChart(curve), rMultipleChart(trades))
	return page.Render(w)
}

func equityChart(run Run, curve []EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s %s 资金曲线", run.Symbol, run.Timeframe),
			Subtitle: fmt.Sprintf("收益 %.2f%%  最大回撤 %.2f%%  胜率 %.1f%%  交易 %d 笔",
				run.Metrics.ReturnPct, run.Metrics.MaxDrawdownPct, run.Metrics.WinRate, run.Metrics.TotalTrades),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	xs := make([]string, 0, len(curve))
	ys := make([]opts.LineData, 0, len(curve))
	for _, p := range curve {
		xs = append(xs, formatTS(p.Time))
		ys = append(ys, opts.LineData{Value: p.Equity})
	}
	line.SetXAxis(xs).AddSeries("equity", ys,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func drawdownChart(curve []EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "回撤 (%)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	xs := make([]string, 0, len(curve))
	ys := make([]opts.LineData, 0, len(curve))
	peak := 0.0
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Equity) / peak * 100
		}
		xs = append(xs, formatTS(p.Time))
		ys = append(ys, opts.LineData{Value: -dd})
	}
	line.SetXAxis(xs).AddSeries("drawdown", ys,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line
}

func rMultipleChart(trades []Trade) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "逐笔 R 倍数"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	xs := make([]string, 0, len(trades))
	ys := make([]opts.BarData, 0, len(trades))
	for i, t := range trades {
		xs = append(xs, fmt.Sprintf("#%d %s", i+1, t.Direction))
		ys = append(ys, opts.BarData{Value: t.RMultiple})
	}
	bar.SetXAxis(xs).AddSeries("r", ys)
	return bar
}

func formatTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("01-02 15:04")
}
