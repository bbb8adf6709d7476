package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"forecaster/internal/model"
)

const templateColumns = `id, name, fingerprint_json, mapping_json, accuracy_rate, use_count,
	is_active, last_used_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateTemplate 保存新模板。已存在相同摘要的启用模板时返回 model.ErrDuplicateFingerprint。
// 空 ID 自动分配；准确率、使用次数、启用状态与时间戳由存储层初始化。
func (s *Store) CreateTemplate(ctx context.Context, t *model.Template) error {
	if t.Fingerprint.Digest == "" {
		return fmt.Errorf("failed to create template: empty fingerprint digest")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := s.now()
	t.AccuracyRate = model.InitialAccuracy
	t.UseCount = 0
	t.IsActive = true
	t.LastUsedAt = nil
	t.CreatedAt, t.UpdatedAt = now, now

	fpJSON, err := json.Marshal(t.Fingerprint)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprint: %w", err)
	}
	mappingJSON, err := model.EncodeMapping(t.Mapping)
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}
	t.Mapping.Version = model.CurrentMappingVersion

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkActiveDigest(ctx, tx, t.Fingerprint.Digest, ""); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates (id, name, digest, fingerprint_json, mapping_json, accuracy_rate,
			use_count, is_active, last_used_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 1, NULL, ?, ?)
	`, t.ID, t.Name, t.Fingerprint.Digest, string(fpJSON), string(mappingJSON), t.AccuracyRate,
		formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateFingerprint
		}
		return fmt.Errorf("failed to insert template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit template: %w", err)
	}
	return nil
}

// checkActiveDigest 检查是否有其他启用模板持有该摘要
func checkActiveDigest(ctx context.Context, tx *sql.Tx, digest, excludeID string) error {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM templates WHERE digest = ? AND is_active = 1 AND id <> ?`,
		digest, excludeID).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to check duplicate fingerprint: %w", err)
	}
	if n > 0 {
		return model.ErrDuplicateFingerprint
	}
	return nil
}

// GetTemplate 按 ID 获取模板
func (s *Store) GetTemplate(ctx context.Context, id string) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template %s: %w", id, err)
	}
	return t, nil
}

// ListTemplates 列出全部模板（按创建时间倒序）
func (s *Store) ListTemplates(ctx context.Context) ([]model.Template, error) {
	return s.listTemplates(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY created_at DESC, id`)
}

// ListActiveTemplates 列出启用中的模板
func (s *Store) ListActiveTemplates(ctx context.Context) ([]model.Template, error) {
	return s.listTemplates(ctx, `SELECT `+templateColumns+` FROM templates WHERE is_active = 1 ORDER BY created_at DESC, id`)
}

func (s *Store) listTemplates(ctx context.Context, query string) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var list []model.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// UpdateTemplate 更新名称、映射或启用状态。重新启用时若摘要已被其他启用模板占用，返回 model.ErrDuplicateFingerprint。
func (s *Store) UpdateTemplate(ctx context.Context, id string, patch model.TemplatePatch) (*model.Template, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTemplate(tx.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", id, err)
	}

	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Mapping != nil {
		t.Mapping = *patch.Mapping
	}
	if patch.IsActive != nil {
		if *patch.IsActive && !t.IsActive {
			if err := checkActiveDigest(ctx, tx, t.Fingerprint.Digest, t.ID); err != nil {
				return nil, err
			}
		}
		t.IsActive = *patch.IsActive
	}
	t.UpdatedAt = s.now()

	mappingJSON, err := model.EncodeMapping(t.Mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mapping: %w", err)
	}
	t.Mapping.Version = model.CurrentMappingVersion

	_, err = tx.ExecContext(ctx, `
		UPDATE templates SET name = ?, mapping_json = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, t.Name, string(mappingJSON), boolToInt(t.IsActive), formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrDuplicateFingerprint
		}
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit template update: %w", err)
	}
	return t, nil
}

// DeleteTemplate 删除模板及其使用记录
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if n == 0 {
		return model.ErrTemplateNotFound
	}
	return nil
}

func scanTemplate(sc rowScanner) (*model.Template, error) {
	var (
		t           model.Template
		fpJSON      string
		mappingJSON string
		isActive    int
		lastUsed    sql.NullString
		created     string
		updated     string
	)
	if err := sc.Scan(&t.ID, &t.Name, &fpJSON, &mappingJSON, &t.AccuracyRate, &t.UseCount,
		&isActive, &lastUsed, &created, &updated); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fpJSON), &t.Fingerprint); err != nil {
		return nil, fmt.Errorf("failed to decode fingerprint: %w", err)
	}
	m, err := model.DecodeMapping([]byte(mappingJSON))
	if err != nil {
		return nil, err
	}
	t.Mapping = m
	t.IsActive = isActive == 1

	if lastUsed.Valid {
		ts, err := parseTime(lastUsed.String)
		if err != nil {
			return nil, err
		}
		t.LastUsedAt = &ts
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}
