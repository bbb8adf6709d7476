// Package matcher 将候选指纹与已存模板比对并排序。
package matcher

import (
	"math"

	"forecaster/internal/model"
)

const scoreEpsilon = 1e-9

// Match 最佳匹配结果；Template 为 nil 时 Score 为 0
type Match struct {
	Template *model.Template
	Score    float64
	Exact    bool // 摘要完全一致
}

// Matcher 相似度匹配器（无状态）
type Matcher struct {
	scorer Scorer
}

// New 创建匹配器
func New(scorer Scorer) *Matcher {
	return &Matcher{scorer: scorer}
}

// NewWithWeights 使用加权评分器创建匹配器
func NewWithWeights(w Weights) (*Matcher, error) {
	scorer, err := NewWeightedScorer(w)
	if err != nil {
		return nil, err
	}
	return New(scorer), nil
}

// FindBestMatch 返回得分最高的启用模板。
// 摘要完全一致时直接返回 1.0，不进入加权评分；未启用模板一律忽略。
func (m *Matcher) FindBestMatch(candidate model.Fingerprint, templates []model.Template) Match {
	var exact *model.Template
	for i := range templates {
		t := &templates[i]
		if !t.IsActive || candidate.Digest == "" || t.Fingerprint.Digest != candidate.Digest {
			continue
		}
		if exact == nil || preferred(t, exact) {
			exact = t
		}
	}
	if exact != nil {
		return Match{Template: exact, Score: 1, Exact: true}
	}

	best := Match{}
	for i := range templates {
		t := &templates[i]
		if !t.IsActive {
			continue
		}
		score := m.scorer.Score(candidate, t.Fingerprint)
		if best.Template == nil || score > best.Score+scoreEpsilon ||
			(math.Abs(score-best.Score) <= scoreEpsilon && preferred(t, best.Template)) {
			best = Match{Template: t, Score: score}
		}
	}
	return best
}

// preferred 同分时的优先规则：准确率高者优先，其次最近使用者，最后按 ID
func preferred(a, b *model.Template) bool {
	if math.Abs(a.AccuracyRate-b.AccuracyRate) > scoreEpsilon {
		return a.AccuracyRate > b.AccuracyRate
	}
	la, lb := lastUsedUnix(a), lastUsedUnix(b)
	if la != lb {
		return la > lb
	}
	return a.ID < b.ID
}

func lastUsedUnix(t *model.Template) int64 {
	if t.LastUsedAt == nil {
		return math.MinInt64
	}
	return t.LastUsedAt.UnixNano()
}
