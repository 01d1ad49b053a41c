package risk

import (
	"github.com/shopspring/decimal"

	"aurum/internal/strategy"
)

// breakevenOffsetATR 为保本位越过入场价的固定偏移（ATR 倍数），
// 避免止损恰好停在入场价上被手续费磨损。
const breakevenOffsetATR = 0.1

// TrailStop 是单向棘轮：返回值永不劣于传入的 currentStop。
// 只有浮盈（按方向取号）达到激活倍数后才开始移动；激活后新止损取
// 当前止损、保本价加偏移、现价回撤 trail 倍数三者中对持仓最有利者。
// 全程走 decimal：止损位会原样下发到交易所，不能带浮点尾数。
func (m *Manager) TrailStop(dir strategy.Direction, entry, current, atr, currentStop float64) float64 {
	if atr <= 0 || entry <= 0 || current <= 0 {
		return currentStop
	}
	entryD := decFromFloat(entry)
	currentD := decFromFloat(current)
	atrD := decFromFloat(atr)
	stopD := decFromFloat(currentStop)
	activation := decFromFloat(m.cfg.TrailActivationATRMultiple).Mul(atrD)
	trailDist := decFromFloat(m.cfg.TrailDistanceATRMultiple).Mul(atrD)
	breakeven := decFromFloat(breakevenOffsetATR).Mul(atrD)

	if dir == strategy.DirectionLong {
		if currentD.Sub(entryD).Cmp(activation) < 0 {
			return currentStop
		}
		candidate := decimal.Max(entryD.Add(breakeven), currentD.Sub(trailDist))
		return decToFloat(decimal.Max(stopD, candidate))
	}

	if entryD.Sub(currentD).Cmp(activation) < 0 {
		return currentStop
	}
	candidate := decimal.Min(entryD.Sub(breakeven), currentD.Add(trailDist))
	return decToFloat(decimal.Min(stopD, candidate))
}
