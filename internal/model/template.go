package model

import "time"

// Template 已学习的抽取模板
type Template struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Fingerprint  Fingerprint `json:"fingerprint"`
	Mapping      Mapping     `json:"mapping"`
	AccuracyRate float64     `json:"accuracyRate"` // 由使用记录重算，创建时为 1.0
	UseCount     int         `json:"useCount"`
	IsActive     bool        `json:"isActive"`
	LastUsedAt   *time.Time  `json:"lastUsedAt,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// InitialAccuracy 新模板的乐观先验
const InitialAccuracy = 1.0

// TemplatePatch 模板可更新字段（nil 表示不修改）
type TemplatePatch struct {
	Name     *string
	Mapping  *Mapping
	IsActive *bool
}

// UsageRecord 模板使用记录（只追加）
type UsageRecord struct {
	ID             int64         `json:"id"`
	TemplateID     string        `json:"templateId"`
	MatchScore     float64       `json:"matchScore"`
	WasSuccessful  bool          `json:"wasSuccessful"`
	ProcessingTime time.Duration `json:"processingTime"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// UsageStats 重算准确率所需的统计输入
type UsageStats struct {
	UseCount int    // 含本次在内的累计使用次数
	Recent   []bool // 最近的使用结果（新 → 旧），窗口由调用方决定
	IsActive bool
}

// UsageDecision 重算结果
type UsageDecision struct {
	AccuracyRate float64
	IsActive     bool
}

// LearningMetrics 每日学习指标
type LearningMetrics struct {
	Date          string  `json:"date"` // 2006-01-02
	TotalUploads  int     `json:"totalUploads"`
	TemplateHits  int     `json:"templateHits"`
	SemanticCalls int     `json:"semanticCalls"`
	CostSaved     float64 `json:"costSaved"`
}

// TemplateStats 模板学习统计
type TemplateStats struct {
	TotalTemplates  int     `json:"totalTemplates"`
	ActiveTemplates int     `json:"activeTemplates"`
	TotalUploads    int     `json:"totalUploads"`
	TemplateHitRate float64 `json:"templateHitRate"` // 百分比，保留一位小数
	CostSaved       float64 `json:"costSaved"`
}
