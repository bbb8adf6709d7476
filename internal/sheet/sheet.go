// Package sheet 描述工作表的结构化视图（单元格类别、取值、合并区域），
// 是指纹生成与模板套用的统一输入。
package sheet

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// CellKind 单元格类别
type CellKind int

const (
	Empty CellKind = iota
	Text
	Number
	Date
)

// Tag 类型标记（用于数据类型模式）
func (k CellKind) Tag() byte {
	switch k {
	case Text:
		return 'T'
	case Number:
		return 'N'
	case Date:
		return 'D'
	default:
		return 'E'
	}
}

func (k CellKind) String() string {
	switch k {
	case Text:
		return "text"
	case Number:
		return "number"
	case Date:
		return "date"
	default:
		return "empty"
	}
}

// Cell 单元格
type Cell struct {
	Kind   CellKind
	Text   string // 原始文本；日期为 2006-01-02
	Number float64
	Time   time.Time
}

// MergeRange 合并区域（1 起始，闭区间）
type MergeRange struct {
	StartRow int
	StartCol int
	EndRow   int
	EndCol   int
}

// Ref 以 A1:C2 形式返回区域
func (m MergeRange) Ref() string {
	start, err := excelize.CoordinatesToCellName(m.StartCol, m.StartRow)
	if err != nil {
		return ""
	}
	end, err := excelize.CoordinatesToCellName(m.EndCol, m.EndRow)
	if err != nil {
		return ""
	}
	return start + ":" + end
}

// Intersects 是否与 [1..rows]×[1..cols] 区域相交
func (m MergeRange) Intersects(rows, cols int) bool {
	return m.StartRow <= rows && m.StartCol <= cols
}

// Sheet 工作表
type Sheet struct {
	Name   string
	Rows   [][]Cell // 允许参差；越界视为空单元格
	Merges []MergeRange
}

// New 创建工作表
func New(name string, rows [][]Cell, merges []MergeRange) *Sheet {
	return &Sheet{Name: name, Rows: rows, Merges: merges}
}

// Dimensions 返回行数与列数（含合并区域覆盖的范围）
func (s *Sheet) Dimensions() (rows, cols int) {
	if s == nil {
		return 0, 0
	}
	rows = len(s.Rows)
	for _, r := range s.Rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	for _, m := range s.Merges {
		if m.EndRow > rows {
			rows = m.EndRow
		}
		if m.EndCol > cols {
			cols = m.EndCol
		}
	}
	return rows, cols
}

// Cell 按 1 起始坐标取单元格
func (s *Sheet) Cell(row, col int) Cell {
	if s == nil || row < 1 || col < 1 || row > len(s.Rows) {
		return Cell{}
	}
	r := s.Rows[row-1]
	if col > len(r) {
		return Cell{}
	}
	return r[col-1]
}

// Contains 坐标是否落在合并区域内
func (m MergeRange) Contains(row, col int) bool {
	return row >= m.StartRow && row <= m.EndRow && col >= m.StartCol && col <= m.EndCol
}

// MergedCell 取单元格的有效值：空单元格位于合并区域内时返回区域左上角单元格
func (s *Sheet) MergedCell(row, col int) Cell {
	c := s.Cell(row, col)
	if c.Kind != Empty || s == nil {
		return c
	}
	for _, m := range s.Merges {
		if m.Contains(row, col) {
			return s.Cell(m.StartRow, m.StartCol)
		}
	}
	return c
}

// TextCell 文本单元格
func TextCell(v string) Cell {
	if strings.TrimSpace(v) == "" {
		return Cell{}
	}
	return Cell{Kind: Text, Text: v}
}

// NumberCell 数值单元格
func NumberCell(v float64) Cell {
	return Cell{Kind: Number, Number: v, Text: strconv.FormatFloat(v, 'f', -1, 64)}
}

// DateCell 日期单元格
func DateCell(t time.Time) Cell {
	return Cell{Kind: Date, Time: t, Text: t.Format("2006-01-02")}
}

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)

// Classify 将原始字符串归类为单元格（数值、ISO 日期、文本、空）
func Classify(raw string) Cell {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Cell{}
	}
	if isoDateRe.MatchString(v) {
		if t, err := time.Parse("2006-1-2", v); err == nil {
			return DateCell(t)
		}
	}
	if n, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64); err == nil {
		return Cell{Kind: Number, Number: n, Text: v}
	}
	return Cell{Kind: Text, Text: v}
}

// FromStrings 由字符串网格构建工作表（测试与导入辅助）
func FromStrings(name string, grid [][]string, merges ...MergeRange) *Sheet {
	rows := make([][]Cell, len(grid))
	for i, r := range grid {
		cells := make([]Cell, len(r))
		for j, v := range r {
			cells[j] = Classify(v)
		}
		rows[i] = cells
	}
	return New(name, rows, merges)
}

// TSV 以制表符分隔文本渲染前 maxRows 行（maxRows<=0 表示全部）
func (s *Sheet) TSV(maxRows int) string {
	rows, cols := s.Dimensions()
	if maxRows > 0 && rows > maxRows {
		rows = maxRows
	}
	var b strings.Builder
	for r := 1; r <= rows; r++ {
		for c := 1; c <= cols; c++ {
			if c > 1 {
				b.WriteByte('\t')
			}
			b.WriteString(strings.ReplaceAll(s.Cell(r, c).Text, "\t", " "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
