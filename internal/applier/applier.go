// Package applier 按模板映射从工作表中确定性地抽取预测记录。
package applier

import (
	"math"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"forecaster/internal/model"
	"forecaster/internal/sheet"
)

// DefaultTotalLabels 合计行/列标签，抽取时跳过
var DefaultTotalLabels = []string{"total", "sum", "subtotal", "합계", "소계", "总计", "合计"}

// Applier 模板套用器（无状态）
type Applier struct {
	totals map[string]struct{}
}

// New 创建套用器
func New() *Applier {
	totals := make(map[string]struct{}, len(DefaultTotalLabels))
	for _, l := range DefaultTotalLabels {
		totals[normalize(l)] = struct{}{}
	}
	return &Applier{totals: totals}
}

type period struct {
	col   int
	label string
}

type anchors struct {
	modelCol int
	dateRow  int
	startRow int
	startCol int
}

// Apply 套用映射抽取记录。锚点越界、缺少必需表头关键词或未抽取到任何记录时返回 *model.MappingError。
func (a *Applier) Apply(m model.Mapping, sh *sheet.Sheet) ([]model.Record, error) {
	rows, cols := sh.Dimensions()
	if rows == 0 || cols == 0 {
		return nil, model.NewMappingError("sheet", "sheet is empty")
	}

	anc, err := resolveAnchors(m)
	if err != nil {
		return nil, err
	}
	if err := checkBounds(anc, rows, cols, m); err != nil {
		return nil, err
	}
	if err := a.checkHeaderKeywords(m.HeaderKeywords, sh, anc.startRow-1, cols); err != nil {
		return nil, err
	}

	skipRows := make(map[int]struct{}, len(m.SkipRows))
	for _, r := range m.SkipRows {
		skipRows[r] = struct{}{}
	}
	skipCols := make(map[int]struct{}, len(m.SkipColumns))
	for _, name := range m.SkipColumns {
		n, err := excelize.ColumnNameToNumber(strings.TrimSpace(name))
		if err != nil {
			return nil, model.NewMappingError("skip_columns", "invalid column "+name)
		}
		skipCols[n] = struct{}{}
	}
	skipHeaders := make(map[string]struct{}, len(m.SkipHeaders))
	for _, h := range m.SkipHeaders {
		skipHeaders[normalize(h)] = struct{}{}
	}

	periods := make([]period, 0, cols-anc.startCol+1)
	for c := anc.startCol; c <= cols; c++ {
		if _, skip := skipCols[c]; skip {
			continue
		}
		cell := sh.Cell(anc.dateRow, c)
		if cell.Kind == sheet.Empty {
			continue
		}
		key := normalize(cell.Text)
		if _, skip := skipHeaders[key]; skip {
			continue
		}
		if _, total := a.totals[key]; total {
			continue
		}
		periods = append(periods, period{col: c, label: periodLabel(cell, m.DateFormat)})
	}
	if len(periods) == 0 {
		return nil, model.NewMappingError(cellName(anc.startCol, anc.dateRow), "no period headers found on date row")
	}

	var records []model.Record
	for r := anc.startRow; r <= rows; r++ {
		if _, skip := skipRows[r]; skip {
			continue
		}
		name := strings.TrimSpace(sh.MergedCell(r, anc.modelCol).Text)
		if name == "" {
			continue
		}
		if _, total := a.totals[normalize(name)]; total {
			continue
		}
		for _, p := range periods {
			q := sh.Cell(r, p.col)
			if q.Kind != sheet.Number || q.Number == 0 {
				continue
			}
			records = append(records, model.Record{
				Model:    name,
				Period:   p.label,
				Quantity: int(math.Round(q.Number)),
			})
		}
	}

	if len(records) == 0 {
		return nil, model.NewMappingError("", "mapping produced no records")
	}
	return records, nil
}

// Validate 校验映射自身的锚点是否合法（不依赖具体工作表）
func Validate(m model.Mapping) error {
	if _, err := resolveAnchors(m); err != nil {
		return err
	}
	for _, name := range m.SkipColumns {
		if _, err := excelize.ColumnNameToNumber(strings.TrimSpace(name)); err != nil {
			return model.NewMappingError("skip_columns", "invalid column "+name)
		}
	}
	return nil
}

func resolveAnchors(m model.Mapping) (anchors, error) {
	var anc anchors

	modelCol, err := excelize.ColumnNameToNumber(strings.TrimSpace(m.ModelColumn))
	if err != nil {
		return anc, model.NewMappingError("model_column", "invalid column "+m.ModelColumn)
	}
	anc.modelCol = modelCol

	if m.DateRow < 1 {
		return anc, model.NewMappingError("date_row", "date row must be positive")
	}
	anc.dateRow = m.DateRow

	if cell := strings.TrimSpace(m.QuantityStartCell); cell != "" {
		col, row, err := excelize.CellNameToCoordinates(cell)
		if err != nil {
			return anc, model.NewMappingError("quantity_start_cell", "invalid cell "+m.QuantityStartCell)
		}
		anc.startRow, anc.startCol = row, col
	} else {
		startCol, err := excelize.ColumnNameToNumber(strings.TrimSpace(m.DateStartColumn))
		if err != nil {
			return anc, model.NewMappingError("date_start_column", "invalid column "+m.DateStartColumn)
		}
		if m.ModelStartRow < 1 {
			return anc, model.NewMappingError("model_start_row", "model start row must be positive")
		}
		anc.startRow, anc.startCol = m.ModelStartRow, startCol
	}

	if anc.startRow <= anc.dateRow {
		return anc, model.NewMappingError(cellName(anc.startCol, anc.startRow), "data must start below the date row")
	}
	return anc, nil
}

func checkBounds(anc anchors, rows, cols int, m model.Mapping) error {
	switch {
	case anc.modelCol > cols:
		return model.NewMappingError("model_column "+m.ModelColumn, "column out of bounds")
	case anc.dateRow > rows:
		return model.NewMappingError(cellName(anc.startCol, anc.dateRow), "date row out of bounds")
	case anc.startRow > rows || anc.startCol > cols:
		return model.NewMappingError(cellName(anc.startCol, anc.startRow), "quantity start cell out of bounds")
	}
	return nil
}

func (a *Applier) checkHeaderKeywords(keywords []string, sh *sheet.Sheet, headerRows, cols int) error {
	for _, kw := range keywords {
		want := normalize(kw)
		if want == "" {
			continue
		}
		found := false
		for r := 1; r <= headerRows && !found; r++ {
			for c := 1; c <= cols; c++ {
				if strings.Contains(normalize(sh.Cell(r, c).Text), want) {
					found = true
					break
				}
			}
		}
		if !found {
			return model.NewMappingError("header_keywords "+kw, "required header keyword not found")
		}
	}
	return nil
}

var layoutReplacer = strings.NewReplacer("YYYY", "2006", "YY", "06", "MM", "01", "DD", "02")

func periodLabel(c sheet.Cell, dateFormat string) string {
	if c.Kind == sheet.Date {
		return c.Time.Format("2006-01-02")
	}
	text := strings.TrimSpace(c.Text)
	if dateFormat == "" {
		return text
	}
	if t, err := time.Parse(layoutReplacer.Replace(dateFormat), text); err == nil {
		return t.Format("2006-01-02")
	}
	return text
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(max(col, 1), max(row, 1))
	if err != nil {
		return ""
	}
	return name
}
