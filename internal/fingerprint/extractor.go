// Package fingerprint 从工作表布局生成结构指纹。
//
// 指纹只依赖结构：表头文本（数字归一化）、采样区域的类型分布、行列规模区间、
// 合并区域与关键词。相同布局、不同数值的两张表得到相同摘要。
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"forecaster/internal/model"
	"forecaster/internal/sheet"
)

// Options 指纹采样参数
type Options struct {
	HeaderRows   int      `toml:"header_rows"`   // 表头区域行数
	SampleStart  int      `toml:"sample_start"`  // 类型采样起始行
	SampleEnd    int      `toml:"sample_end"`    // 类型采样结束行（含）
	MaxColumns   int      `toml:"max_columns"`   // 采样列上限
	KeywordRows  int      `toml:"keyword_rows"`  // 关键词搜索行数，不超过 HeaderRows
	Keywords     []string `toml:"keywords"`      // 关键词词典（小写）
	DigestLength int      `toml:"digest_length"` // 摘要十六进制长度
}

// DefaultKeywords 默认关键词词典
var DefaultKeywords = []string{
	"model", "item", "product", "part",
	"week", "day", "date", "month",
	"qty", "quantity", "production", "plan",
	"total", "sum",
	"모델", "품목", "제품", "주차", "일자", "날짜", "수량", "생산", "합계",
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		HeaderRows:   3,
		SampleStart:  4,
		SampleEnd:    10,
		MaxColumns:   10,
		KeywordRows:  3,
		Keywords:     append([]string(nil), DefaultKeywords...),
		DigestLength: 16,
	}
}

// Validate 校验采样参数（0 表示取默认值）
func (o Options) Validate() error {
	if o.HeaderRows < 0 || o.MaxColumns < 0 || o.KeywordRows < 0 {
		return errors.New("fingerprint rows/columns must be non-negative")
	}
	headerRows := o.HeaderRows
	if headerRows == 0 {
		headerRows = DefaultOptions().HeaderRows
	}
	if o.KeywordRows > headerRows {
		return fmt.Errorf("fingerprint keyword_rows (%d) must not exceed header_rows (%d)", o.KeywordRows, headerRows)
	}
	if o.SampleStart > 0 && o.SampleEnd > 0 && o.SampleStart > o.SampleEnd {
		return fmt.Errorf("fingerprint sample_start (%d) must not exceed sample_end (%d)", o.SampleStart, o.SampleEnd)
	}
	if o.DigestLength < 0 || o.DigestLength > sha256.Size*2 {
		return fmt.Errorf("fingerprint digest_length must be within [0,%d], got %d", sha256.Size*2, o.DigestLength)
	}
	return nil
}

// Extractor 指纹生成器（无状态，可并发使用）
type Extractor struct {
	opts     Options
	keywords []string
}

// NewExtractor 创建指纹生成器，未设置的参数取默认值
func NewExtractor(opts Options) *Extractor {
	def := DefaultOptions()
	if opts.HeaderRows <= 0 {
		opts.HeaderRows = def.HeaderRows
	}
	if opts.SampleStart <= 0 {
		opts.SampleStart = opts.HeaderRows + 1
	}
	if opts.SampleEnd < opts.SampleStart {
		opts.SampleEnd = opts.SampleStart + (def.SampleEnd - def.SampleStart)
	}
	if opts.MaxColumns <= 0 {
		opts.MaxColumns = def.MaxColumns
	}
	if opts.KeywordRows <= 0 || opts.KeywordRows > opts.HeaderRows {
		opts.KeywordRows = min(def.KeywordRows, opts.HeaderRows)
	}
	if len(opts.Keywords) == 0 {
		opts.Keywords = def.Keywords
	}
	if opts.DigestLength <= 0 || opts.DigestLength > sha256.Size*2 {
		opts.DigestLength = def.DigestLength
	}

	keywords := make([]string, 0, len(opts.Keywords))
	for _, kw := range opts.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Extractor{opts: opts, keywords: keywords}
}

// DigestLength 摘要的十六进制长度
func (e *Extractor) DigestLength() int {
	return e.opts.DigestLength
}

// Generate 生成工作表指纹
func (e *Extractor) Generate(sh *sheet.Sheet) (model.Fingerprint, error) {
	rows, cols := sh.Dimensions()
	if rows == 0 || cols == 0 {
		return model.Fingerprint{}, fmt.Errorf("%w: sheet has %d rows and %d columns", model.ErrInvalidStructure, rows, cols)
	}

	maxCols := min(cols, e.opts.MaxColumns)
	headerEnd := e.headerEnd(sh, rows, maxCols)
	fp := model.Fingerprint{
		RowBucket:       Bucket(rows),
		ColBucket:       Bucket(cols),
		HeaderPattern:   e.headerPattern(sh, rows, maxCols, headerEnd),
		DataTypePattern: e.dataTypePattern(sh, rows, maxCols),
		MergedCellCount: len(sh.Merges),
		HeaderMerges:    e.headerMerges(sh, headerEnd),
		Keywords:        e.keywordSet(sh, min(headerEnd, e.opts.KeywordRows), maxCols),
	}
	fp.Digest = Digest(fp, e.opts.DigestLength)
	return fp, nil
}

// Bucket 将行/列数转换为规模区间
func Bucket(n int) string {
	switch {
	case n <= 10:
		return "small"
	case n <= 50:
		return "medium"
	case n <= 200:
		return "large"
	default:
		return "xlarge"
	}
}

// headerEnd 表头区域的最后一行：最多 HeaderRows 行，遇到第一条数据行即止（第 1 行总视为表头）
func (e *Extractor) headerEnd(sh *sheet.Sheet, rows, maxCols int) int {
	end := min(rows, e.opts.HeaderRows)
	for r := 2; r <= end; r++ {
		if isDataRow(sh, r, maxCols) {
			return r - 1
		}
	}
	return end
}

// isDataRow 首个非空单元格为文本标签，且其后至少有一个数值单元格
func isDataRow(sh *sheet.Sheet, row, maxCols int) bool {
	first := 0
	for c := 1; c <= maxCols; c++ {
		if sh.Cell(row, c).Kind != sheet.Empty {
			first = c
			break
		}
	}
	if first == 0 || sh.Cell(row, first).Kind != sheet.Text {
		return false
	}
	for c := first + 1; c <= maxCols; c++ {
		if sh.Cell(row, c).Kind == sheet.Number {
			return true
		}
	}
	return false
}

// headerPattern 表头区域内取规范化文本，之后的行只取类型标记，保证取值无关
func (e *Extractor) headerPattern(sh *sheet.Sheet, rows, maxCols, headerEnd int) []string {
	headerRows := min(rows, e.opts.HeaderRows)
	out := make([]string, 0, headerRows*maxCols)
	for r := 1; r <= headerRows; r++ {
		for c := 1; c <= maxCols; c++ {
			cell := sh.Cell(r, c)
			if r > headerEnd {
				out = append(out, string(cell.Kind.Tag()))
				continue
			}
			out = append(out, HeaderToken(cell))
		}
	}
	return out
}

func (e *Extractor) dataTypePattern(sh *sheet.Sheet, rows, maxCols int) []string {
	end := min(rows, e.opts.SampleEnd)
	out := make([]string, 0, max(0, end-e.opts.SampleStart+1))
	for r := e.opts.SampleStart; r <= end; r++ {
		b := make([]byte, maxCols)
		for c := 1; c <= maxCols; c++ {
			b[c-1] = sh.Cell(r, c).Kind.Tag()
		}
		out = append(out, string(b))
	}
	return out
}

func (e *Extractor) headerMerges(sh *sheet.Sheet, headerEnd int) []string {
	out := make([]string, 0)
	for _, m := range sh.Merges {
		if m.Intersects(headerEnd, e.opts.MaxColumns) {
			out = append(out, m.Ref())
		}
	}
	sort.Strings(out)
	return out
}

var (
	digitsRe   = regexp.MustCompile(`\d+`)
	spaceRe    = regexp.MustCompile(`\s+`)
	weekMarkRe = regexp.MustCompile(`(?i)^(w|wk|week)\s*\d{1,2}$|^\d{1,2}\s*주차$|^cw\s*\d{1,2}$`)
	ymdMarkRe  = regexp.MustCompile(`^\d{4}[-/.]\d{1,2}[-/.]\d{1,2}$`)
	monthDayRe = regexp.MustCompile(`^\d{1,2}[/.-]\d{1,2}$|^\d{1,2}월\s*\d{1,2}일$`)
)

// HeaderToken 表头单元格的规范化 token
func HeaderToken(c sheet.Cell) string {
	switch c.Kind {
	case sheet.Empty:
		return ""
	case sheet.Number:
		return "#"
	case sheet.Date:
		return "@date"
	}
	return NormalizeText(c.Text)
}

// NormalizeText 小写、去空白、数字串折叠为 #
func NormalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = spaceRe.ReplaceAllString(s, "")
	return digitsRe.ReplaceAllString(s, "#")
}

// keywordSet 只在表头区域内搜索，数据行中的型号名不参与
func (e *Extractor) keywordSet(sh *sheet.Sheet, rows, maxCols int) []string {
	found := make(map[string]struct{})
	for r := 1; r <= rows; r++ {
		for c := 1; c <= maxCols; c++ {
			cell := sh.Cell(r, c)
			if cell.Kind == sheet.Date {
				found["fmt:date"] = struct{}{}
				continue
			}
			if cell.Kind != sheet.Text {
				continue
			}

			text := strings.ToLower(strings.TrimSpace(cell.Text))
			for _, kw := range e.keywords {
				if strings.Contains(text, kw) {
					found[kw] = struct{}{}
				}
			}
			if marker := formatMarker(text); marker != "" {
				found[marker] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found))
	for kw := range found {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

func formatMarker(text string) string {
	switch {
	case weekMarkRe.MatchString(text):
		return "fmt:week"
	case ymdMarkRe.MatchString(text):
		return "fmt:ymd"
	case monthDayRe.MatchString(text):
		return "fmt:md"
	}
	return ""
}

// Digest 指纹摘要：各组成部分按固定顺序写入，分隔符隔开后取 SHA-256
func Digest(fp model.Fingerprint, length int) string {
	hasher := sha256.New()
	write := func(parts ...string) {
		for _, part := range parts {
			_, _ = hasher.Write([]byte(part))
			_, _ = hasher.Write([]byte{0})
		}
	}
	writeSlice := func(tag string, values []string) {
		write(tag, strconv.Itoa(len(values)))
		write(values...)
	}

	write("rows", fp.RowBucket, "cols", fp.ColBucket)
	writeSlice("header", fp.HeaderPattern)
	writeSlice("types", fp.DataTypePattern)
	write("merged", strconv.Itoa(fp.MergedCellCount))
	writeSlice("header_merges", sortedCopy(fp.HeaderMerges))
	writeSlice("keywords", sortedCopy(fp.Keywords))

	sum := hex.EncodeToString(hasher.Sum(nil))
	if length <= 0 || length > len(sum) {
		return sum
	}
	return sum[:length]
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}
