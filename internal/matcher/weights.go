package matcher

import (
	"errors"
	"fmt"
)

// Weights 加权相似度各分量权重（配置数据，按总和归一化）
type Weights struct {
	Header    float64 `toml:"header"`    // 表头 token 序列相似度
	DataType  float64 `toml:"data_type"` // 类型模式逐位置一致率
	Dimension float64 `toml:"dimension"` // 行/列规模区间
	Merge     float64 `toml:"merge"`     // 合并单元格数量接近度
	Keyword   float64 `toml:"keyword"`   // 关键词 Jaccard
}

// MinDiscriminativeShare 表头与关键词合计权重下限
const MinDiscriminativeShare = 0.60

// DefaultWeights 默认权重：表头 + 关键词 = 65%
func DefaultWeights() Weights {
	return Weights{
		Header:    0.35,
		DataType:  0.15,
		Dimension: 0.10,
		Merge:     0.10,
		Keyword:   0.30,
	}
}

// Sum 权重总和
func (w Weights) Sum() float64 {
	return w.Header + w.DataType + w.Dimension + w.Merge + w.Keyword
}

// Validate 校验权重配置
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"header": w.Header, "data_type": w.DataType, "dimension": w.Dimension,
		"merge": w.Merge, "keyword": w.Keyword,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must not be negative: %v", name, v)
		}
	}
	sum := w.Sum()
	if sum <= 0 {
		return errors.New("weights must sum to a positive value")
	}
	if share := (w.Header + w.Keyword) / sum; share < MinDiscriminativeShare-1e-9 {
		return fmt.Errorf("header+keyword weights must be at least %.0f%% of the total, got %.1f%%",
			MinDiscriminativeShare*100, share*100)
	}
	return nil
}

// Normalized 返回总和为 1 的权重
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	if sum <= 0 {
		return w
	}
	return Weights{
		Header:    w.Header / sum,
		DataType:  w.DataType / sum,
		Dimension: w.Dimension / sum,
		Merge:     w.Merge / sum,
		Keyword:   w.Keyword / sum,
	}
}
