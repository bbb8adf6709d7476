package matcher

import (
	"math"

	"forecaster/internal/model"
)

// Scorer 计算两枚指纹的相似度 [0,1]
type Scorer interface {
	Score(candidate, stored model.Fingerprint) float64
}

// WeightedScorer 按权重线性组合各分量相似度
type WeightedScorer struct {
	weights Weights
}

// NewWeightedScorer 创建加权评分器
func NewWeightedScorer(w Weights) (*WeightedScorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &WeightedScorer{weights: w.Normalized()}, nil
}

// Score 实现 Scorer
func (s *WeightedScorer) Score(a, b model.Fingerprint) float64 {
	w := s.weights
	score := w.Header*HeaderSimilarity(a.HeaderPattern, b.HeaderPattern) +
		w.DataType*PositionalMatch(a.DataTypePattern, b.DataTypePattern) +
		w.Dimension*DimensionSimilarity(a, b) +
		w.Merge*MergeCloseness(a.MergedCellCount, b.MergedCellCount) +
		w.Keyword*Jaccard(a.Keywords, b.Keywords)
	return clamp01(score)
}

// HeaderSimilarity token 序列编辑距离相似度：1 - dist/max(len)
func HeaderSimilarity(a, b []string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// PositionalMatch 逐行逐位置比较类型标记，返回一致位置占比
func PositionalMatch(a, b []string) float64 {
	total, same := 0, 0
	for i := 0; i < max(len(a), len(b)); i++ {
		var ra, rb string
		if i < len(a) {
			ra = a[i]
		}
		if i < len(b) {
			rb = b[i]
		}
		for j := 0; j < max(len(ra), len(rb)); j++ {
			total++
			if j < len(ra) && j < len(rb) && ra[j] == rb[j] {
				same++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(same) / float64(total)
}

var bucketOrder = map[string]int{"small": 0, "medium": 1, "large": 2, "xlarge": 3}

// DimensionSimilarity 行、列区间各占一半；相邻区间记 0.5
func DimensionSimilarity(a, b model.Fingerprint) float64 {
	return (bucketSimilarity(a.RowBucket, b.RowBucket) + bucketSimilarity(a.ColBucket, b.ColBucket)) / 2
}

func bucketSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ia, okA := bucketOrder[a]
	ib, okB := bucketOrder[b]
	if okA && okB && (ia-ib == 1 || ib-ia == 1) {
		return 0.5
	}
	return 0
}

// MergeCloseness 1 - |a-b| / max(a,b)
func MergeCloseness(a, b int) float64 {
	hi := max(a, b)
	if hi == 0 {
		return 1
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(hi)
}

// Jaccard 集合交并比；两者皆空视为 1
func Jaccard(a, b []string) float64 {
	set := make(map[string]uint8, len(a)+len(b))
	for _, v := range a {
		set[v] |= 1
	}
	for _, v := range b {
		set[v] |= 2
	}
	if len(set) == 0 {
		return 1
	}
	inter := 0
	for _, mask := range set {
		if mask == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
