package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"forecaster/internal/model"
)

const dateLayout = "2006-01-02"

// AddMetrics 累加某日的学习指标
func (s *Store) AddMetrics(ctx context.Context, delta model.LearningMetrics) error {
	if delta.Date == "" {
		delta.Date = s.now().Format(dateLayout)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_metrics (date, total_uploads, template_hits, semantic_calls, cost_saved)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_uploads = total_uploads + excluded.total_uploads,
			template_hits = template_hits + excluded.template_hits,
			semantic_calls = semantic_calls + excluded.semantic_calls,
			cost_saved = cost_saved + excluded.cost_saved
	`, delta.Date, delta.TotalUploads, delta.TemplateHits, delta.SemanticCalls, delta.CostSaved)
	if err != nil {
		return fmt.Errorf("failed to add learning metrics: %w", err)
	}
	return nil
}

// ListMetrics 列出 since（含）之后的每日指标，按日期升序
func (s *Store) ListMetrics(ctx context.Context, since time.Time) ([]model.LearningMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_uploads, template_hits, semantic_calls, cost_saved
		FROM learning_metrics WHERE date >= ? ORDER BY date
	`, since.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query learning metrics: %w", err)
	}
	defer rows.Close()

	var list []model.LearningMetrics
	for rows.Next() {
		var m model.LearningMetrics
		if err := rows.Scan(&m.Date, &m.TotalUploads, &m.TemplateHits, &m.SemanticCalls, &m.CostSaved); err != nil {
			return nil, fmt.Errorf("failed to scan learning metrics: %w", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// Stats 汇总模板数量与最近 days 天的学习指标
func (s *Store) Stats(ctx context.Context, days int) (model.TemplateStats, error) {
	var st model.TemplateStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM templates`).
		Scan(&st.TotalTemplates, &st.ActiveTemplates)
	if err != nil {
		return st, fmt.Errorf("failed to count templates: %w", err)
	}

	since := s.now().AddDate(0, 0, -days)
	metrics, err := s.ListMetrics(ctx, since)
	if err != nil {
		return st, err
	}
	hits := 0
	for _, m := range metrics {
		st.TotalUploads += m.TotalUploads
		hits += m.TemplateHits
		st.CostSaved += m.CostSaved
	}
	if st.TotalUploads > 0 {
		st.TemplateHitRate = math.Round(float64(hits)/float64(st.TotalUploads)*1000) / 10
	}
	st.CostSaved = math.Round(st.CostSaved*100) / 100
	return st, nil
}
