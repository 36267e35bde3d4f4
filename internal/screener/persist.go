package screener

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"statarb/internal/logger"
)

// correlationSchema 约束落盘文件的结构，避免手工编辑出坏数据后
// 被回测批处理静默吞掉。
const correlationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["timestamp", "analysisMonths", "timeframe", "minCorrelation", "symbols", "pairs"],
  "properties": {
    "timestamp": {"type": "integer", "minimum": 0},
    "date": {"type": "string"},
    "analysisMonths": {"type": "integer", "minimum": 1},
    "timeframe": {"type": "string", "minLength": 1},
    "minCorrelation": {"type": "number", "minimum": 0, "maximum": 1},
    "symbols": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    },
    "pairs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["pair", "symbol1", "symbol2", "correlation", "stability", "monthly_correlations"],
        "properties": {
          "pair": {"type": "string", "minLength": 3},
          "symbol1": {"type": "string", "minLength": 1},
          "symbol2": {"type": "string", "minLength": 1},
          "correlation": {"type": "number", "minimum": -1, "maximum": 1},
          "stability": {"type": "number", "minimum": 0},
          "monthly_correlations": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "number", "minimum": -1, "maximum": 1}
          }
        }
      }
    }
  }
}`

func compiledSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("correlation.schema.json", strings.NewReader(correlationSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("correlation.schema.json")
}

func validateResult(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("编译 schema 失败: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("解析 correlation data 失败: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("correlation data 未通过校验: %w", err)
	}
	return nil
}

// Save 将结果写到 path，同时在同目录保留一份带时间戳的快照。
func Save(result *Result, path string) error {
	if result == nil {
		return fmt.Errorf("result 不能为空")
	}
	if path == "" {
		return fmt.Errorf("输出路径不能为空")
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if err := validateResult(data); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	snapshot := filepath.Join(dir, fmt.Sprintf("correlation_data_%d.json", result.Timestamp))
	if err := os.WriteFile(snapshot, data, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	logger.Infof("[screener] 结果已写入 %s（快照 %s）", path, snapshot)
	return nil
}

// Load 读取并校验 correlation data 文件。
func Load(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateResult(data); err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
