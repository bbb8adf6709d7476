package model

// Fingerprint 工作表结构指纹（与单元格取值无关）
type Fingerprint struct {
	RowBucket       string   `json:"rowBucket" yaml:"row_bucket"`
	ColBucket       string   `json:"colBucket" yaml:"col_bucket"`
	HeaderPattern   []string `json:"headerPattern" yaml:"header_pattern"`         // 表头区域逐单元格规范化 token（行优先，保留位置；数据行只取类型标记）
	DataTypePattern []string `json:"dataTypePattern" yaml:"data_type_pattern"`    // 采样区域每行一个类型串：E/N/T/D
	MergedCellCount int      `json:"mergedCellCount" yaml:"merged_cell_count"`
	HeaderMerges    []string `json:"headerMerges" yaml:"header_merges,omitempty"` // 与表头区域相交的合并区域（已排序）
	Keywords        []string `json:"keywords" yaml:"keywords,omitempty"`          // 已排序、去重
	Digest          string   `json:"digest" yaml:"digest"`
}

// IsZero 是否为空指纹
func (f Fingerprint) IsZero() bool {
	return f.Digest == ""
}
