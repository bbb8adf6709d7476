// Package dispatch 根据最佳匹配得分决定处理路径。
package dispatch

import (
	"fmt"
	"math"
)

// Action 处理路径
type Action string

const (
	DirectParse        Action = "direct_parse"         // 直接套用模板
	VerifyWithTemplate Action = "verify_with_template" // 套用模板 + 语义校验
	FullAnalysis       Action = "full_analysis"        // 全量语义分析
	BuiltinFormat      Action = "builtin_format"       // 内置固定格式解析，先于模板匹配
)

// Policy 分级阈值；边界值归入更高一级
type Policy struct {
	DirectParse float64 `toml:"direct_parse"`
	Verify      float64 `toml:"verify"`
}

// DefaultPolicy 默认阈值 0.90 / 0.70
func DefaultPolicy() Policy {
	return Policy{DirectParse: 0.90, Verify: 0.70}
}

// Validate 阈值需满足 0 < verify <= direct_parse <= 1
func (p Policy) Validate() error {
	if p.Verify <= 0 || p.DirectParse > 1 || p.Verify > p.DirectParse {
		return fmt.Errorf("invalid dispatch thresholds: verify=%v direct_parse=%v", p.Verify, p.DirectParse)
	}
	return nil
}

// Decide 将得分映射到处理路径（对任意 float64 都有定义，NaN 视为 0）
func (p Policy) Decide(score float64) Action {
	if math.IsNaN(score) {
		return FullAnalysis
	}
	switch {
	case score >= p.DirectParse:
		return DirectParse
	case score >= p.Verify:
		return VerifyWithTemplate
	default:
		return FullAnalysis
	}
}
