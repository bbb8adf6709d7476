package service

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"forecaster/internal/applier"
	"forecaster/internal/fingerprint"
	"forecaster/internal/model"
)

// exportFormatVersion 模板导出文档版本
const exportFormatVersion = 1

// templateDocument 可移植的模板文档
type templateDocument struct {
	FormatVersion int               `yaml:"format_version"`
	Name          string            `yaml:"name"`
	Fingerprint   model.Fingerprint `yaml:"fingerprint"`
	Mapping       model.Mapping     `yaml:"mapping"`
}

// ExportTemplate 将模板导出为 YAML 文档（不含使用统计）
func (s *Service) ExportTemplate(ctx context.Context, id string) ([]byte, error) {
	t, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := templateDocument{
		FormatVersion: exportFormatVersion,
		Name:          t.Name,
		Fingerprint:   t.Fingerprint,
		Mapping:       t.Mapping,
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template %s: %w", id, err)
	}
	return data, nil
}

// ImportTemplate 从 YAML 文档创建模板，仍受重复指纹规则约束；
// 文档中的摘要必须与指纹各分量重新计算的摘要一致
func (s *Service) ImportTemplate(ctx context.Context, data []byte) (*model.Template, error) {
	var doc templateDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode document: %v", model.ErrInvalidTemplate, err)
	}
	if doc.FormatVersion != exportFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", model.ErrInvalidTemplate, doc.FormatVersion)
	}
	if doc.Mapping.Version > model.CurrentMappingVersion {
		return nil, fmt.Errorf("%w: unsupported mapping version %d", model.ErrInvalidTemplate, doc.Mapping.Version)
	}
	if want := fingerprint.Digest(doc.Fingerprint, s.extractor.DigestLength()); doc.Fingerprint.Digest != want {
		return nil, fmt.Errorf("%w: fingerprint digest mismatch (document %q, computed %q)", model.ErrInvalidTemplate, doc.Fingerprint.Digest, want)
	}
	if err := applier.Validate(doc.Mapping); err != nil {
		return nil, err
	}
	return s.SaveTemplate(ctx, doc.Name, doc.Fingerprint, doc.Mapping)
}
