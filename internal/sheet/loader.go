package sheet

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Load 从 xlsx 读取指定工作表（name 为空时取活动工作表）
func Load(r io.Reader, name string) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	return FromWorkbook(f, name)
}

// LoadFile 从文件路径读取工作表
func LoadFile(path, name string) (*Sheet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Load(file, name)
}

// FromWorkbook 从已打开的工作簿构建结构化视图
func FromWorkbook(f *excelize.File, name string) (*Sheet, error) {
	if name == "" {
		name = f.GetSheetName(f.GetActiveSheetIndex())
	}
	if idx, err := f.GetSheetIndex(name); err != nil || idx < 0 {
		return nil, fmt.Errorf("sheet %q not found", name)
	}

	raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %q: %w", name, err)
	}

	c := &classifier{file: f, sheet: name, dateStyles: make(map[int]bool)}
	rows := make([][]Cell, len(raw))
	for i, r := range raw {
		cells := make([]Cell, len(r))
		for j, v := range r {
			cells[j] = c.classify(i+1, j+1, v)
		}
		rows[i] = cells
	}

	merges, err := readMerges(f, name)
	if err != nil {
		return nil, err
	}

	return New(name, rows, merges), nil
}

func readMerges(f *excelize.File, name string) ([]MergeRange, error) {
	mcs, err := f.GetMergeCells(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read merged cells of %q: %w", name, err)
	}
	out := make([]MergeRange, 0, len(mcs))
	for _, mc := range mcs {
		sc, sr, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			continue
		}
		ec, er, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			continue
		}
		out = append(out, MergeRange{StartRow: sr, StartCol: sc, EndRow: er, EndCol: ec})
	}
	return out, nil
}

type classifier struct {
	file       *excelize.File
	sheet      string
	dateStyles map[int]bool
}

func (c *classifier) classify(row, col int, raw string) Cell {
	v := strings.TrimSpace(raw)
	if v == "" {
		return Cell{}
	}

	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return Cell{Kind: Text, Text: v}
	}

	typ, _ := c.file.GetCellType(c.sheet, axis)
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeBool, excelize.CellTypeError:
		return Cell{Kind: Text, Text: v}
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return DateCell(t)
		}
		return Classify(v)
	}

	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return Classify(v)
	}

	if c.isDateStyled(axis) {
		if t, err := excelize.ExcelDateToTime(n, false); err == nil {
			return DateCell(t)
		}
	}
	return Cell{Kind: Number, Number: n, Text: v}
}

func (c *classifier) isDateStyled(axis string) bool {
	idx, err := c.file.GetCellStyle(c.sheet, axis)
	if err != nil || idx == 0 {
		return false
	}
	if v, ok := c.dateStyles[idx]; ok {
		return v
	}

	isDate := false
	if style, err := c.file.GetStyle(idx); err == nil && style != nil {
		if style.CustomNumFmt != nil {
			isDate = IsDateFormat(*style.CustomNumFmt)
		} else {
			isDate = isBuiltInDateFormat(style.NumFmt)
		}
	}
	c.dateStyles[idx] = isDate
	return isDate
}

func isBuiltInDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36:
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	}
	return false
}

var (
	quotedRe  = regexp.MustCompile(`"[^"]*"`)
	bracketRe = regexp.MustCompile(`\[[^\]]*\]`)
)

// IsDateFormat 判断自定义数字格式是否为日期格式
func IsDateFormat(format string) bool {
	f := strings.ToLower(format)
	f = quotedRe.ReplaceAllString(f, "")
	f = bracketRe.ReplaceAllString(f, "")
	if strings.ContainsAny(f, "yd") {
		return true
	}
	// 仅含 m 时需排除 mm:ss
	return strings.Contains(f, "m") && !strings.ContainsAny(f, "hs")
}
