package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStructure 工作表结构无效（0 行或 0 列），不可重试
	ErrInvalidStructure = errors.New("invalid sheet structure")
	// ErrDuplicateFingerprint 已存在相同指纹的启用模板，应改用更新
	ErrDuplicateFingerprint = errors.New("duplicate template fingerprint")
	// ErrMappingFailure 模板映射与当前工作表不匹配，调用方需回退到全量分析
	ErrMappingFailure = errors.New("template mapping failure")
	// ErrTemplateNotFound 模板不存在
	ErrTemplateNotFound = errors.New("template not found")
	// ErrInvalidTemplate 模板名称或导入文档无效
	ErrInvalidTemplate = errors.New("invalid template")
	// ErrSemanticUnavailable 未配置语义抽取服务
	ErrSemanticUnavailable = errors.New("semantic extraction unavailable")
)

// MappingError 映射失败详情
type MappingError struct {
	Anchor string // 出错的锚点（列/行/单元格/关键词）
	Reason string
}

func (e *MappingError) Error() string {
	if e.Anchor != "" {
		return fmt.Sprintf("%s: %s (%s)", ErrMappingFailure, e.Reason, e.Anchor)
	}
	return fmt.Sprintf("%s: %s", ErrMappingFailure, e.Reason)
}

// Unwrap 使 errors.Is(err, ErrMappingFailure) 成立
func (e *MappingError) Unwrap() error {
	return ErrMappingFailure
}

// NewMappingError 创建映射失败错误
func NewMappingError(anchor, reason string) *MappingError {
	return &MappingError{Anchor: anchor, Reason: reason}
}
