package pairparams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"statarb/internal/analysis/stats"
	"statarb/internal/logger"
	"statarb/internal/strategy/pairs"
)

// Params 单个配对的参数覆盖，零值字段表示沿用全局配置。
type Params struct {
	SpreadMethod        string  `yaml:"spread_method" json:"spread_method,omitempty"`
	Lookback            int     `yaml:"lookback" json:"lookback,omitempty"`
	EntryThreshold      float64 `yaml:"entry_threshold" json:"entry_threshold,omitempty"`
	ExitThreshold       float64 `yaml:"exit_threshold" json:"exit_threshold,omitempty"`
	StopLossThreshold   float64 `yaml:"stop_loss_threshold" json:"stop_loss_threshold,omitempty"`
	TradeAmount         float64 `yaml:"trade_amount" json:"trade_amount,omitempty"`
	UseContractForShort *bool   `yaml:"use_contract_for_short" json:"use_contract_for_short,omitempty"`
}

// FileConfig 映射 pair_params.yaml。
type FileConfig struct {
	Defaults Params            `yaml:"defaults"`
	Pairs    map[string]Params `yaml:"pairs"`
}

// Snapshot 公开的参数快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Defaults Params
	Pairs    map[string]Params
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// paramsSchema 挡下手滑写出的负阈值或错误类型。
const paramsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "defaults": {"$ref": "#/$defs/params"},
    "pairs": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/params"}
    }
  },
  "additionalProperties": false,
  "$defs": {
    "params": {
      "type": "object",
      "properties": {
        "spread_method": {"type": "string", "enum": ["normalized_ratio", "ratio", "difference", "log_ratio"]},
        "lookback": {"type": "integer", "minimum": 3},
        "entry_threshold": {"type": "number", "exclusiveMinimum": 0},
        "exit_threshold": {"type": "number", "minimum": 0},
        "stop_loss_threshold": {"type": "number", "exclusiveMinimum": 0},
        "trade_amount": {"type": "number", "exclusiveMinimum": 0},
        "use_contract_for_short": {"type": "boolean"}
      },
      "additionalProperties": false
    }
  }
}`

// Registry 管理每配对参数覆盖，文件变更时热重载。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取参数文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("pair params registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read pair params failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("pair params reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前参数集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Subscribe 注册重载回调。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Params 返回合并默认值后的配对参数。
func (r *Registry) Params(pair pairs.PairKey) Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	merged := r.snapshot.Defaults
	if p, ok := r.snapshot.Pairs[pair.String()]; ok {
		merged = mergeParams(merged, p)
	}
	return merged
}

// Apply 将配对参数覆盖到基础策略配置上。
func (r *Registry) Apply(pair pairs.PairKey, base pairs.Config) pairs.Config {
	p := r.Params(pair)
	if p.SpreadMethod != "" {
		base.SpreadMethod = stats.SpreadMethod(p.SpreadMethod)
	}
	if p.Lookback > 0 {
		base.Lookback = p.Lookback
	}
	if p.EntryThreshold > 0 {
		base.EntryThreshold = p.EntryThreshold
	}
	if p.ExitThreshold > 0 {
		base.ExitThreshold = p.ExitThreshold
	}
	if p.StopLossThreshold > 0 {
		base.StopLossThreshold = p.StopLossThreshold
	}
	if p.UseContractForShort != nil {
		base.UseContractForShort = *p.UseContractForShort
	}
	return base
}

// TradeAmount 返回配对的开仓资金，未覆盖时回落 fallback。
func (r *Registry) TradeAmount(pair pairs.PairKey, fallback float64) float64 {
	if p := r.Params(pair); p.TradeAmount > 0 {
		return p.TradeAmount
	}
	return fallback
}

func mergeParams(base, override Params) Params {
	if override.SpreadMethod != "" {
		base.SpreadMethod = override.SpreadMethod
	}
	if override.Lookback > 0 {
		base.Lookback = override.Lookback
	}
	if override.EntryThreshold > 0 {
		base.EntryThreshold = override.EntryThreshold
	}
	if override.ExitThreshold > 0 {
		base.ExitThreshold = override.ExitThreshold
	}
	if override.StopLossThreshold > 0 {
		base.StopLossThreshold = override.StopLossThreshold
	}
	if override.TradeAmount > 0 {
		base.TradeAmount = override.TradeAmount
	}
	if override.UseContractForShort != nil {
		base.UseContractForShort = override.UseContractForShort
	}
	return base
}

func (r *Registry) reload() error {
	cfg, err := readParamsFile(r.path)
	if err != nil {
		return err
	}
	normalized := make(map[string]Params, len(cfg.Pairs))
	for name, p := range cfg.Pairs {
		key := strings.ToUpper(strings.TrimSpace(name))
		merged := mergeParams(cfg.Defaults, p)
		if err := checkThresholds(key, merged); err != nil {
			return err
		}
		normalized[key] = p
	}
	if err := checkThresholds("defaults", cfg.Defaults); err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Defaults: cfg.Defaults,
		Pairs:    normalized,
	}
	r.mu.Unlock()
	logger.Infof("pair params loaded: %d 个配对覆盖，来自 %s", len(normalized), filepath.Base(r.path))
	return nil
}

// checkThresholds 三个阈值都给出时必须严格递增。
func checkThresholds(name string, p Params) error {
	if p.EntryThreshold > 0 && p.ExitThreshold > 0 && p.ExitThreshold >= p.EntryThreshold {
		return fmt.Errorf("%s: exit_threshold 必须小于 entry_threshold", name)
	}
	if p.EntryThreshold > 0 && p.StopLossThreshold > 0 && p.StopLossThreshold <= p.EntryThreshold {
		return fmt.Errorf("%s: stop_loss_threshold 必须大于 entry_threshold", name)
	}
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("pair params listener")
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Defaults: src.Defaults,
		Pairs:    make(map[string]Params, len(src.Pairs)),
	}
	for id, p := range src.Pairs {
		dst.Pairs[id] = p
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compiledSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("pair_params.schema.json", strings.NewReader(paramsSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("pair_params.schema.json")
}

func readParamsFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read pair params failed: %w", err)
	}

	// 先以宽松结构校验 schema，再严格映射到 FileConfig。
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return FileConfig{}, fmt.Errorf("parse pair params failed: %w", err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return FileConfig{}, err
	}
	if doc != nil {
		// schema 校验要求 JSON 原生类型，yaml 解出的 int 需要过一次 JSON。
		jsonRaw, err := json.Marshal(doc)
		if err != nil {
			return FileConfig{}, err
		}
		var jsonDoc any
		if err := json.Unmarshal(jsonRaw, &jsonDoc); err != nil {
			return FileConfig{}, err
		}
		if err := sch.Validate(jsonDoc); err != nil {
			return FileConfig{}, fmt.Errorf("pair params 未通过校验: %w", err)
		}
	}

	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return FileConfig{}, fmt.Errorf("parse pair params failed: %w", err)
	}
	return cfg, nil
}
