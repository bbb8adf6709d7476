package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"forecaster/internal/model"
)

// DecideFunc 根据使用统计计算新的准确率与启用状态
type DecideFunc func(model.UsageStats) model.UsageDecision

// RecordUsage 追加使用记录并在同一事务内重算模板准确率。
// window 为参与重算的最近记录条数，<=0 表示全部记录。
func (s *Store) RecordUsage(ctx context.Context, rec model.UsageRecord, window int, decide DecideFunc) (*model.Template, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		useCount int
		isActive int
	)
	err = tx.QueryRowContext(ctx, `SELECT use_count, is_active FROM templates WHERE id = ?`, rec.TemplateID).
		Scan(&useCount, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", rec.TemplateID, err)
	}

	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO template_usage (template_id, match_score, was_successful, processing_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.TemplateID, rec.MatchScore, boolToInt(rec.WasSuccessful), rec.ProcessingTime.Milliseconds(),
		formatTime(rec.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert usage record: %w", err)
	}

	limit := window
	if limit <= 0 {
		limit = -1 // SQLite: 无上限
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT was_successful FROM template_usage
		WHERE template_id = ? ORDER BY id DESC LIMIT ?
	`, rec.TemplateID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage window: %w", err)
	}
	var recent []bool
	for rows.Next() {
		var ok int
		if err := rows.Scan(&ok); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		recent = append(recent, ok == 1)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage window: %w", err)
	}

	decision := decide(model.UsageStats{
		UseCount: useCount + 1,
		Recent:   recent,
		IsActive: isActive == 1,
	})

	_, err = tx.ExecContext(ctx, `
		UPDATE templates SET accuracy_rate = ?, use_count = use_count + 1, is_active = ?,
			last_used_at = ?, updated_at = ?
		WHERE id = ?
	`, decision.AccuracyRate, boolToInt(decision.IsActive), formatTime(rec.CreatedAt), formatTime(now), rec.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to update template accuracy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit usage record: %w", err)
	}
	return s.GetTemplate(ctx, rec.TemplateID)
}

// ListUsage 列出模板的使用记录（新 → 旧），limit<=0 表示全部
func (s *Store) ListUsage(ctx context.Context, templateID string, limit int) ([]model.UsageRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, match_score, was_successful, processing_time_ms, created_at
		FROM template_usage WHERE template_id = ? ORDER BY id DESC LIMIT ?
	`, templateID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var list []model.UsageRecord
	for rows.Next() {
		var (
			r       model.UsageRecord
			ok      int
			ms      int64
			created string
		)
		if err := rows.Scan(&r.ID, &r.TemplateID, &r.MatchScore, &ok, &ms, &created); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		r.WasSuccessful = ok == 1
		r.ProcessingTime = time.Duration(ms) * time.Millisecond
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}
