package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"aurum/internal/logger"
	"aurum/internal/risk"
	"aurum/internal/strategy"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// PresetDefinition 描述一组按交易对生效的策略/风控参数覆盖。
// 覆盖以键值形式保存，加载时经 JSON Schema 校验，应用时合并到基线参数上。
type PresetDefinition struct {
	Name     string         `yaml:"-"`
	Symbols  []string       `yaml:"symbols"`
	Strategy map[string]any `yaml:"strategy"`
	Risk     map[string]any `yaml:"risk"`
	Default  bool           `yaml:"default"`

	symbolsUpper []string
}

// FileConfig 是完整的 preset 配置文件结构。
type FileConfig struct {
	Presets map[string]PresetDefinition `yaml:"presets"`
}

// Snapshot 对外暴露的只读快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]PresetDefinition
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(Snapshot)

// PresetLoader 从 YAML 文件加载策略预设并监听热更新。
type PresetLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewPresetLoader 读取配置文件并开始监听 FS 事件。
func NewPresetLoader(path string) (*PresetLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preset loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read preset config failed: %w", err)
	}
	l := &PresetLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("preset reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *PresetLoader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *PresetLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer safeRecover("preset listener")
		fn(snap)
	}()
}

// PresetFor 返回对指定交易对生效的预设。
// 优先匹配 symbols 中显式列出的预设，否则回落到 default 预设。
func (l *PresetLoader) PresetFor(symbol string) (PresetDefinition, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	l.mu.RLock()
	defer l.mu.RUnlock()
	var fallback PresetDefinition
	var hasFallback bool
	for _, def := range l.snapshot.Presets {
		for _, sym := range def.symbolsUpper {
			if sym == symbol {
				return def, true
			}
		}
		if def.Default && !hasFallback {
			fallback = def
			hasFallback = true
		}
	}
	return fallback, hasFallback
}

func (l *PresetLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("preset listener")
			cb(snap)
		}(fn)
	}
}

func (l *PresetLoader) reload() error {
	fileCfg, err := readPresetFile(l.path)
	if err != nil {
		return err
	}
	normalized := make(map[string]PresetDefinition, len(fileCfg.Presets))
	for name, def := range fileCfg.Presets {
		norm, err := normalizePresetDefinition(name, def)
		if err != nil {
			return fmt.Errorf("preset %s invalid: %w", name, err)
		}
		normalized[name] = norm
	}
	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  normalized,
	}
	l.mu.Unlock()
	logger.Infof("Preset loader reloaded %d presets from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func readPresetFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read preset config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse preset config failed: %w", err)
	}
	return cfg, nil
}

func normalizePresetDefinition(name string, def PresetDefinition) (PresetDefinition, error) {
	def.Name = name
	def.symbolsUpper = normalizeSymbols(def.Symbols)
	if err := validateOverrides(strategySchema, def.Strategy); err != nil {
		return def, fmt.Errorf("strategy overrides: %w", err)
	}
	if err := validateOverrides(riskSchema, def.Risk); err != nil {
		return def, fmt.Errorf("risk overrides: %w", err)
	}
	return def, nil
}

func normalizeSymbols(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ApplyStrategy 把预设覆盖合并到基线策略参数上。
func (d PresetDefinition) ApplyStrategy(base strategy.Settings) (strategy.Settings, error) {
	if len(d.Strategy) == 0 {
		return base, nil
	}
	if err := decodeOverrides(d.Strategy, &base); err != nil {
		return base, fmt.Errorf("apply strategy overrides failed: %w", err)
	}
	base.Normalize()
	if err := base.Validate(); err != nil {
		return base, err
	}
	return base, nil
}

// ApplyRisk 把预设覆盖合并到基线风控参数上。
func (d PresetDefinition) ApplyRisk(base risk.Settings) (risk.Settings, error) {
	if len(d.Risk) == 0 {
		return base, nil
	}
	if err := decodeOverrides(d.Risk, &base); err != nil {
		return base, fmt.Errorf("apply risk overrides failed: %w", err)
	}
	base.Normalize()
	if err := base.Validate(); err != nil {
		return base, err
	}
	return base, nil
}

func decodeOverrides(src map[string]any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "toml",
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	return dec.Decode(src)
}

func validateOverrides(schema *jsonschema.Schema, params map[string]any) error {
	if schema == nil || len(params) == 0 {
		return nil
	}
	// yaml 解码产出的 int 经 JSON 往返统一为 float64，符合 schema 校验器的预期。
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[string]PresetDefinition, len(src.Presets)),
	}
	for name, def := range src.Presets {
		dst.Presets[name] = def
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
