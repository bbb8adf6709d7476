package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forecaster/internal/dispatch"
	"forecaster/internal/model"
	"forecaster/internal/sheet"
)

// PendingOutcome 模板路径成功后待调用方确认的使用结果
type PendingOutcome struct {
	TemplateID string        `json:"templateId"`
	Score      float64       `json:"score"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Analysis 一次上传的处理结果
type Analysis struct {
	Action      dispatch.Action   `json:"action"`
	Score       float64           `json:"score"`
	Format      string            `json:"format,omitempty"` // 命中的内置格式
	Template    *model.Template   `json:"template,omitempty"`
	Fingerprint model.Fingerprint `json:"fingerprint"`
	Records     []model.Record    `json:"records"`
	Confidence  float64           `json:"confidence"`
	Notes       string            `json:"notes,omitempty"`
	Fallback    string            `json:"fallback,omitempty"` // 模板路径被放弃的原因
	Pending     *PendingOutcome   `json:"pending,omitempty"`
}

// Analyze 处理一次上传：内置格式 → 匹配 → 分派 → 直接套用 / 套用并核验 / 全量语义分析。
// 内置格式解析失败时继续模板匹配；模板映射失败或核验被否决时记录一次失败使用并回退到全量分析。
func (s *Service) Analyze(ctx context.Context, sh *sheet.Sheet) (*Analysis, error) {
	start := time.Now()

	fp, err := s.extractor.Generate(sh)
	if err != nil {
		return nil, err
	}

	metrics := model.LearningMetrics{TotalUploads: 1}
	defer func() {
		if err := s.store.AddMetrics(context.WithoutCancel(ctx), metrics); err != nil {
			s.log.Error().Err(err).Msg("failed to record learning metrics")
		}
	}()

	if res, ok := s.parseBuiltinFormat(sh, fp); ok {
		metrics.TemplateHits = 1
		metrics.CostSaved = s.opts.CostPerHit
		return res, nil
	}

	match, action, err := s.MatchTemplate(ctx, fp)
	if err != nil {
		return nil, err
	}
	res := &Analysis{Action: action, Score: match.Score, Template: match.Template, Fingerprint: fp}

	log := s.log.With().Str("digest", fp.Digest).Str("action", string(action)).Float64("score", match.Score).Logger()
	if match.Template != nil {
		log = log.With().Str("template", match.Template.ID).Logger()
	}

	switch action {
	case dispatch.DirectParse:
		records, err := s.applier.Apply(match.Template.Mapping, sh)
		if err == nil {
			res.Records = records
			res.Confidence = match.Score
			res.Notes = fmt.Sprintf("parsed with template %q", match.Template.Name)
			res.Pending = &PendingOutcome{TemplateID: match.Template.ID, Score: match.Score, Elapsed: time.Since(start)}
			metrics.TemplateHits = 1
			metrics.CostSaved = s.opts.CostPerHit
			log.Info().Int("records", len(records)).Msg("template applied")
			return res, nil
		}
		if err := s.rejectTemplate(ctx, res, match.Template, match.Score, start, err); err != nil {
			return nil, err
		}

	case dispatch.VerifyWithTemplate:
		records, err := s.applier.Apply(match.Template.Mapping, sh)
		if err != nil {
			if err := s.rejectTemplate(ctx, res, match.Template, match.Score, start, err); err != nil {
				return nil, err
			}
			break
		}
		if s.semantic == nil {
			res.Records = records
			res.Confidence = match.Score
			res.Notes = "semantic verification unavailable, template result unverified"
			res.Pending = &PendingOutcome{TemplateID: match.Template.ID, Score: match.Score, Elapsed: time.Since(start)}
			metrics.TemplateHits = 1
			log.Warn().Msg("verification skipped, no semantic extractor configured")
			return res, nil
		}

		metrics.SemanticCalls = 1
		v, err := s.semantic.Verify(ctx, sh, records)
		if err != nil {
			return nil, err
		}
		if v.Valid {
			res.Records = records
			res.Confidence = v.Confidence
			res.Notes = "template result verified"
			res.Pending = &PendingOutcome{TemplateID: match.Template.ID, Score: match.Score, Elapsed: time.Since(start)}
			metrics.TemplateHits = 1
			log.Info().Int("records", len(records)).Float64("confidence", v.Confidence).Msg("template verified")
			return res, nil
		}
		if err := s.rejectTemplate(ctx, res, match.Template, match.Score, start, errors.New("semantic verification rejected template result")); err != nil {
			return nil, err
		}
	}

	return s.fullAnalysis(ctx, sh, res, &metrics)
}

// parseBuiltinFormat 识别并解析内置固定格式；未识别或解析失败时返回 false
func (s *Service) parseBuiltinFormat(sh *sheet.Sheet, fp model.Fingerprint) (*Analysis, bool) {
	rec := s.recognizer.Recognize(sh)
	if rec.Format == "" {
		return nil, false
	}
	log := s.log.With().Str("digest", fp.Digest).Str("format", rec.Format).Logger()

	records, err := s.recognizer.Parse(sh, rec.Format)
	if err != nil {
		log.Warn().Err(err).Msg("built-in format parse failed, falling back to template matching")
		return nil, false
	}
	log.Info().Int("records", len(records)).Msg("built-in format parsed")
	return &Analysis{
		Action:      dispatch.BuiltinFormat,
		Score:       rec.Score,
		Format:      rec.Format,
		Fingerprint: fp,
		Records:     records,
		Confidence:  1.0,
		Notes:       fmt.Sprintf("parsed with built-in format %s (%d records)", rec.Format, len(records)),
	}, true
}

// rejectTemplate 记录失败使用并将结果切换为全量分析
func (s *Service) rejectTemplate(ctx context.Context, res *Analysis, t *model.Template, score float64, start time.Time, cause error) error {
	if _, err := s.RecordOutcome(ctx, t.ID, score, false, time.Since(start)); err != nil {
		return err
	}
	s.log.Warn().Str("template", t.ID).Err(cause).Msg("template rejected, falling back to full analysis")
	res.Action = dispatch.FullAnalysis
	res.Fallback = cause.Error()
	return nil
}

func (s *Service) fullAnalysis(ctx context.Context, sh *sheet.Sheet, res *Analysis, metrics *model.LearningMetrics) (*Analysis, error) {
	if s.semantic == nil {
		return nil, model.ErrSemanticUnavailable
	}
	metrics.SemanticCalls++

	out, err := s.semantic.Extract(ctx, sh)
	if err != nil {
		return nil, err
	}
	res.Records = out.Records
	res.Confidence = out.Confidence
	res.Notes = out.Notes
	res.Pending = nil
	s.log.Info().Str("digest", res.Fingerprint.Digest).Int("records", len(out.Records)).Msg("full semantic analysis finished")
	return res, nil
}
