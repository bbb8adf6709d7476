// Package recognizer 识别内置的固定格式预测表；命中后直接解析，无需模板或语义分析。
package recognizer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"forecaster/internal/model"
	"forecaster/internal/sheet"
)

const (
	scanRows = 5  // 识别时扫描的表头行数
	scanCols = 19 // 识别与定位时扫描的列数

	// minScore 内置格式要求全部表头条件命中
	minScore = 1.0
)

type headerRequirement struct {
	Key   string
	Match func(text string) bool
}

type formatRule struct {
	Format       string
	Requirements []headerRequirement
	Parse        func(sh *sheet.Sheet, now time.Time) ([]model.Record, error)
}

// Recognition 识别结果；Format 为空表示不是内置格式
type Recognition struct {
	Format  string   `json:"format,omitempty"`
	Score   float64  `json:"score"`
	Missing []string `json:"missing,omitempty"`
}

// Recognizer 内置格式识别器
type Recognizer struct {
	rules []*formatRule
	now   func() time.Time

	whitespaceRe *regexp.Regexp
}

// New 创建识别器；now 为 nil 时使用 time.Now（用于补全 MM/DD 日期的年份）
func New(now func() time.Time) *Recognizer {
	if now == nil {
		now = time.Now
	}
	return &Recognizer{
		rules:        defaultFormatRules(),
		now:          now,
		whitespaceRe: regexp.MustCompile(`\s+`),
	}
}

// Recognize 按表头条件给每种内置格式打分，取最高分
func (r *Recognizer) Recognize(sh *sheet.Sheet) Recognition {
	texts := r.headerTexts(sh)

	best := Recognition{}
	for _, rule := range r.rules {
		score, missing := scoreRule(rule, texts)
		if score > best.Score {
			best = Recognition{Format: rule.Format, Score: score, Missing: missing}
		}
	}
	if best.Score < minScore {
		best.Format = ""
	}
	return best
}

// Parse 按指定内置格式解析工作表；布局与格式不符时返回 *model.MappingError
func (r *Recognizer) Parse(sh *sheet.Sheet, format string) ([]model.Record, error) {
	for _, rule := range r.rules {
		if rule.Format == format {
			return rule.Parse(sh, r.now())
		}
	}
	return nil, fmt.Errorf("unknown built-in format %q", format)
}

func (r *Recognizer) headerTexts(sh *sheet.Sheet) []string {
	rows, cols := sh.Dimensions()
	out := make([]string, 0)
	for row := 1; row <= min(rows, scanRows); row++ {
		for col := 1; col <= min(cols, scanCols); col++ {
			if v := r.normalize(sh.Cell(row, col).Text); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func (r *Recognizer) normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return r.whitespaceRe.ReplaceAllString(s, " ")
}

func scoreRule(rule *formatRule, texts []string) (float64, []string) {
	if len(rule.Requirements) == 0 {
		return 0, nil
	}

	hit := 0
	missing := make([]string, 0, len(rule.Requirements))
	for _, req := range rule.Requirements {
		ok := false
		for _, t := range texts {
			if req.Match(t) {
				ok = true
				break
			}
		}
		if ok {
			hit++
		} else {
			missing = append(missing, req.Key)
		}
	}
	return float64(hit) / float64(len(rule.Requirements)), missing
}

func defaultFormatRules() []*formatRule {
	reqContains := func(key string, subs ...string) headerRequirement {
		return headerRequirement{
			Key: key,
			Match: func(t string) bool {
				for _, s := range subs {
					if !strings.Contains(t, s) {
						return false
					}
				}
				return true
			},
		}
	}

	return []*formatRule{
		{
			Format: FormatCNCForecast,
			Requirements: []headerRequirement{
				reqContains("forecast cnc", "forecast", "cnc"),
				reqContains("week", "week"),
			},
			Parse: parseCNCForecast,
		},
	}
}
