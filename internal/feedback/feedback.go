// Package feedback 根据模板使用结果维护准确率，并自动停用表现不佳的模板。
package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forecaster/internal/model"
	"forecaster/internal/store"
)

// Options 反馈参数
type Options struct {
	Window          int     `toml:"window"`           // 参与准确率计算的最近记录数，0 表示全部
	DeactivateBelow float64 `toml:"deactivate_below"` // 低于该准确率时停用
	MinSamples      int     `toml:"min_samples"`      // 使用次数超过该值后才允许停用
}

// DefaultOptions 默认反馈参数
func DefaultOptions() Options {
	return Options{Window: 50, DeactivateBelow: 0.70, MinSamples: 10}
}

// Validate 校验参数
func (o Options) Validate() error {
	if o.Window < 0 {
		return fmt.Errorf("feedback window must be >= 0, got %d", o.Window)
	}
	if o.DeactivateBelow < 0 || o.DeactivateBelow > 1 {
		return fmt.Errorf("feedback deactivate_below must be within [0,1], got %v", o.DeactivateBelow)
	}
	if o.MinSamples < 1 {
		return fmt.Errorf("feedback min_samples must be >= 1, got %d", o.MinSamples)
	}
	return nil
}

// UsageRecorder 使用记录存储
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec model.UsageRecord, window int, decide store.DecideFunc) (*model.Template, error)
}

// Recorder 准确率反馈记录器
type Recorder struct {
	store UsageRecorder
	opts  Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRecorder 创建反馈记录器
func NewRecorder(s UsageRecorder, opts Options) *Recorder {
	return &Recorder{store: s, opts: opts, locks: make(map[string]*sync.Mutex)}
}

// RecordOutcome 记录一次模板使用结果，返回更新后的模板
func (r *Recorder) RecordOutcome(ctx context.Context, templateID string, score float64, ok bool, elapsed time.Duration) (*model.Template, error) {
	lock := r.lockFor(templateID)
	lock.Lock()
	defer lock.Unlock()

	t, err := r.store.RecordUsage(ctx, model.UsageRecord{
		TemplateID:     templateID,
		MatchScore:     score,
		WasSuccessful:  ok,
		ProcessingTime: elapsed,
	}, r.opts.Window, r.Decide)
	if err != nil {
		return nil, fmt.Errorf("failed to record outcome for template %s: %w", templateID, err)
	}
	return t, nil
}

// Decide 由使用统计计算准确率；已停用的模板不会被重新启用
func (r *Recorder) Decide(stats model.UsageStats) model.UsageDecision {
	acc := Accuracy(stats.Recent)
	active := stats.IsActive
	if active && acc < r.opts.DeactivateBelow && stats.UseCount > r.opts.MinSamples {
		active = false
	}
	return model.UsageDecision{AccuracyRate: acc, IsActive: active}
}

// Accuracy 成功比例；无记录时为初始准确率
func Accuracy(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return model.InitialAccuracy
	}
	ok := 0
	for _, o := range outcomes {
		if o {
			ok++
		}
	}
	return float64(ok) / float64(len(outcomes))
}

func (r *Recorder) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, found := r.locks[id]
	if !found {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}
