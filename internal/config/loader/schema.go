package loader

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 预设覆盖只允许白名单内的调节项，未知键与越界值在加载时即被拒绝。
const strategySchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "min_atr": {"type": "number", "exclusiveMinimum": 0},
    "max_atr": {"type": "number", "exclusiveMinimum": 0},
    "min_confluence_score": {"type": "integer", "minimum": 1, "maximum": 5},
    "min_risk_reward": {"type": "number", "exclusiveMinimum": 0},
    "sl_atr_multiple": {"type": "number", "exclusiveMinimum": 0},
    "tp_reward_multiple": {"type": "number", "exclusiveMinimum": 0},
    "min_stop_atr_multiple": {"type": "number", "exclusiveMinimum": 0},
    "stoch_overbought": {"type": "number", "minimum": 50, "maximum": 100},
    "stoch_oversold": {"type": "number", "minimum": 0, "maximum": 50},
    "rsi_overbought": {"type": "number", "minimum": 50, "maximum": 100},
    "rsi_oversold": {"type": "number", "minimum": 0, "maximum": 50},
    "bb_proximity_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "divergence_lookback": {"type": "integer", "minimum": 4}
  }
}`

const riskSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "max_risk_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
    "max_risk_usd": {"type": "number", "exclusiveMinimum": 0},
    "max_open_positions": {"type": "integer", "minimum": 1},
    "max_daily_drawdown_pct": {"type": "number", "exclusiveMinimum": 0, "maximum": 100},
    "max_daily_loss_usd": {"type": "number", "exclusiveMinimum": 0},
    "max_trades_per_day": {"type": "integer", "minimum": 1},
    "cooldown_minutes": {"type": "integer", "minimum": 0},
    "trail_activation_atr_multiple": {"type": "number", "exclusiveMinimum": 0},
    "trail_distance_atr_multiple": {"type": "number", "exclusiveMinimum": 0},
    "min_units": {"type": "number", "exclusiveMinimum": 0}
  }
}`

var (
	strategySchema = mustCompileSchema("strategy_overrides.json", strategySchemaJSON)
	riskSchema     = mustCompileSchema("risk_overrides.json", riskSchemaJSON)
)

func mustCompileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile(name)
}
