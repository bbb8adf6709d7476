// Package service 模板学习门面：指纹匹配、分派、模板套用、语义回退与准确率反馈。
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"forecaster/internal/applier"
	"forecaster/internal/dispatch"
	"forecaster/internal/feedback"
	"forecaster/internal/fingerprint"
	"forecaster/internal/matcher"
	"forecaster/internal/model"
	"forecaster/internal/recognizer"
	"forecaster/internal/semantic"
	"forecaster/internal/sheet"
	"forecaster/internal/store"
)

// Options 服务参数
type Options struct {
	Fingerprint fingerprint.Options
	Weights     matcher.Weights
	Dispatch    dispatch.Policy
	Feedback    feedback.Options
	CostPerHit  float64 // 每次直接套用模板节省的估算调用成本
	StatsDays   int     // Stats 统计的天数
}

// DefaultOptions 默认服务参数
func DefaultOptions() Options {
	return Options{
		Fingerprint: fingerprint.DefaultOptions(),
		Weights:     matcher.DefaultWeights(),
		Dispatch:    dispatch.DefaultPolicy(),
		Feedback:    feedback.DefaultOptions(),
		CostPerHit:  0.02,
		StatsDays:   30,
	}
}

// Service 模板学习服务
type Service struct {
	store      *store.Store
	recognizer *recognizer.Recognizer
	extractor  *fingerprint.Extractor
	matcher    *matcher.Matcher
	policy     dispatch.Policy
	applier    *applier.Applier
	feedback   *feedback.Recorder
	semantic   semantic.Extractor
	log        zerolog.Logger
	opts       Options
}

// New 创建服务；sem 为 nil 时全量分析返回 model.ErrSemanticUnavailable
func New(st *store.Store, sem semantic.Extractor, opts Options, log zerolog.Logger) (*Service, error) {
	m, err := matcher.NewWithWeights(opts.Weights)
	if err != nil {
		return nil, fmt.Errorf("invalid matching weights: %w", err)
	}
	if err := opts.Dispatch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatch policy: %w", err)
	}
	if err := opts.Feedback.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feedback options: %w", err)
	}
	if opts.StatsDays <= 0 {
		opts.StatsDays = 30
	}
	return &Service{
		store:      st,
		recognizer: recognizer.New(nil),
		extractor:  fingerprint.NewExtractor(opts.Fingerprint),
		matcher:    m,
		policy:     opts.Dispatch,
		applier:    applier.New(),
		feedback:   feedback.NewRecorder(st, opts.Feedback),
		semantic:   sem,
		log:        log,
		opts:       opts,
	}, nil
}

// Fingerprint 计算工作表指纹
func (s *Service) Fingerprint(sh *sheet.Sheet) (model.Fingerprint, error) {
	return s.extractor.Generate(sh)
}

// RecognizeFormat 判断工作表是否为内置固定格式
func (s *Service) RecognizeFormat(sh *sheet.Sheet) recognizer.Recognition {
	return s.recognizer.Recognize(sh)
}

// MatchTemplate 在启用模板中寻找最佳匹配并给出分派动作
func (s *Service) MatchTemplate(ctx context.Context, fp model.Fingerprint) (matcher.Match, dispatch.Action, error) {
	templates, err := s.store.ListActiveTemplates(ctx)
	if err != nil {
		return matcher.Match{}, dispatch.FullAnalysis, err
	}
	match := s.matcher.FindBestMatch(fp, templates)
	if match.Template == nil {
		return match, dispatch.FullAnalysis, nil
	}
	return match, s.policy.Decide(match.Score), nil
}

// MatchSheet 生成工作表指纹并匹配模板
func (s *Service) MatchSheet(ctx context.Context, sh *sheet.Sheet) (model.Fingerprint, matcher.Match, dispatch.Action, error) {
	fp, err := s.extractor.Generate(sh)
	if err != nil {
		return model.Fingerprint{}, matcher.Match{}, dispatch.FullAnalysis, err
	}
	match, action, err := s.MatchTemplate(ctx, fp)
	return fp, match, action, err
}

// ApplyTemplate 用指定模板的映射抽取记录
func (s *Service) ApplyTemplate(ctx context.Context, templateID string, sh *sheet.Sheet) ([]model.Record, error) {
	t, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return s.applier.Apply(t.Mapping, sh)
}

// SaveTemplate 用户确认“记住此格式”后保存模板
func (s *Service) SaveTemplate(ctx context.Context, name string, fp model.Fingerprint, mapping model.Mapping) (*model.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidTemplate)
	}
	if fp.IsZero() {
		return nil, fmt.Errorf("%w: missing fingerprint digest", model.ErrInvalidStructure)
	}
	if err := applier.Validate(mapping); err != nil {
		return nil, err
	}

	t := &model.Template{Name: name, Fingerprint: fp, Mapping: mapping}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.log.Info().Str("template", t.ID).Str("name", t.Name).Str("digest", fp.Digest).Msg("template saved")
	return t, nil
}

// RecordOutcome 记录模板使用结果
func (s *Service) RecordOutcome(ctx context.Context, templateID string, score float64, ok bool, elapsed time.Duration) (*model.Template, error) {
	t, err := s.feedback.RecordOutcome(ctx, templateID, score, ok, elapsed)
	if err != nil {
		return nil, err
	}
	evt := s.log.Info()
	if !t.IsActive {
		evt = s.log.Warn()
	}
	evt.Str("template", t.ID).
		Bool("success", ok).
		Float64("accuracy", t.AccuracyRate).
		Int("use_count", t.UseCount).
		Bool("active", t.IsActive).
		Msg("template outcome recorded")
	return t, nil
}

// ListTemplates 列出全部模板
func (s *Service) ListTemplates(ctx context.Context) ([]model.Template, error) {
	return s.store.ListTemplates(ctx)
}

// GetTemplate 获取模板
func (s *Service) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	return s.store.GetTemplate(ctx, id)
}

// UpdateTemplate 更新模板名称或映射
func (s *Service) UpdateTemplate(ctx context.Context, id string, patch model.TemplatePatch) (*model.Template, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidTemplate)
	}
	if patch.Mapping != nil {
		if err := applier.Validate(*patch.Mapping); err != nil {
			return nil, err
		}
	}
	return s.store.UpdateTemplate(ctx, id, patch)
}

// SetActive 手动启用或停用模板
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*model.Template, error) {
	t, err := s.store.UpdateTemplate(ctx, id, model.TemplatePatch{IsActive: &active})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("template", id).Bool("active", active).Msg("template activation changed")
	return t, nil
}

// DeleteTemplate 删除模板
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("template", id).Msg("template deleted")
	return nil
}

// Stats 模板学习统计
func (s *Service) Stats(ctx context.Context) (model.TemplateStats, error) {
	return s.store.Stats(ctx, s.opts.StatsDays)
}
