package model

import (
	"encoding/json"
	"fmt"
)

// CurrentMappingVersion 当前映射文档版本
const CurrentMappingVersion = 1

// Mapping 模板映射：描述型号/日期/数量单元格位置
type Mapping struct {
	Version         int    `json:"version" yaml:"version"`
	ModelColumn     string `json:"modelColumn" yaml:"model_column"`          // 型号所在列，如 "A"
	ModelStartRow   int    `json:"modelStartRow" yaml:"model_start_row"`     // 第一条数据行
	DateRow         int    `json:"dateRow" yaml:"date_row"`                  // 期间表头所在行
	DateStartColumn string `json:"dateStartColumn" yaml:"date_start_column"` // 第一个期间列

	// QuantityStartCell 第一个数量单元格，设置时覆盖 ModelStartRow / DateStartColumn
	QuantityStartCell string   `json:"quantityStartCell,omitempty" yaml:"quantity_start_cell,omitempty"`
	HeaderKeywords    []string `json:"headerKeywords,omitempty" yaml:"header_keywords,omitempty"`
	DateFormat        string   `json:"dateFormat,omitempty" yaml:"date_format,omitempty"`
	SkipRows          []int    `json:"skipRows,omitempty" yaml:"skip_rows,omitempty"`
	SkipColumns       []string `json:"skipColumns,omitempty" yaml:"skip_columns,omitempty"` // 列字母
	SkipHeaders       []string `json:"skipHeaders,omitempty" yaml:"skip_headers,omitempty"` // 期间表头文本
}

// legacyMapping 无版本号的旧映射文档（snake_case 键，skip_columns 为表头文本）
type legacyMapping struct {
	ModelColumn       string   `json:"model_column"`
	ModelStartRow     int      `json:"model_start_row"`
	DateRow           int      `json:"date_row"`
	DateStartColumn   string   `json:"date_start_column"`
	QuantityStartCell string   `json:"quantity_start_cell"`
	HeaderKeywords    []string `json:"header_keywords"`
	DateFormat        string   `json:"date_format"`
	SkipRows          []int    `json:"skip_rows"`
	SkipColumns       []string `json:"skip_columns"`
}

// EncodeMapping 序列化映射（总是写入当前版本号）
func EncodeMapping(m Mapping) ([]byte, error) {
	m.Version = CurrentMappingVersion
	return json.Marshal(m)
}

// DecodeMapping 反序列化映射，并升级旧版本文档
func DecodeMapping(data []byte) (Mapping, error) {
	var head struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Mapping{}, fmt.Errorf("failed to decode mapping: %w", err)
	}

	if head.Version == nil || *head.Version == 0 {
		var legacy legacyMapping
		if err := json.Unmarshal(data, &legacy); err != nil {
			return Mapping{}, fmt.Errorf("failed to decode legacy mapping: %w", err)
		}
		return legacy.upgrade(), nil
	}

	if *head.Version > CurrentMappingVersion {
		return Mapping{}, fmt.Errorf("unsupported mapping version %d", *head.Version)
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("failed to decode mapping: %w", err)
	}
	return m, nil
}

func (l legacyMapping) upgrade() Mapping {
	m := Mapping{
		Version:           CurrentMappingVersion,
		ModelColumn:       l.ModelColumn,
		ModelStartRow:     l.ModelStartRow,
		DateRow:           l.DateRow,
		DateStartColumn:   l.DateStartColumn,
		QuantityStartCell: l.QuantityStartCell,
		HeaderKeywords:    l.HeaderKeywords,
		DateFormat:        l.DateFormat,
		SkipRows:          l.SkipRows,
		SkipHeaders:       l.SkipColumns,
	}
	// 旧版默认值
	if m.ModelColumn == "" {
		m.ModelColumn = "A"
	}
	if m.ModelStartRow == 0 {
		m.ModelStartRow = 3
	}
	if m.DateRow == 0 {
		m.DateRow = 1
	}
	if m.DateStartColumn == "" {
		m.DateStartColumn = "B"
	}
	return m
}
