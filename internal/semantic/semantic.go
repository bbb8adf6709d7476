// Package semantic 定义外部语义抽取协作方（大模型）的接口及 Gemini 实现。
package semantic

import (
	"context"

	"forecaster/internal/model"
	"forecaster/internal/sheet"
)

// Result 全量语义分析结果
type Result struct {
	Records    []model.Record `json:"data"`
	Confidence float64        `json:"confidence"`
	Notes      string         `json:"notes"`
}

// Verification 模板抽取结果的语义核验
type Verification struct {
	Valid       bool           `json:"is_valid"`
	Confidence  float64        `json:"confidence"`
	Errors      []string       `json:"errors"`
	Corrections []model.Record `json:"corrections"`
}

// Extractor 语义抽取协作方
type Extractor interface {
	// Extract 从工作表中完整抽取预测记录
	Extract(ctx context.Context, sh *sheet.Sheet) (*Result, error)
	// Verify 核验模板抽取出的记录
	Verify(ctx context.Context, sh *sheet.Sheet, records []model.Record) (*Verification, error)
}
