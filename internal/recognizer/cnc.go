package recognizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"forecaster/internal/model"
	"forecaster/internal/sheet"
)

// FormatCNCForecast CNC 生产预测固定格式：
// 区段标题 "Forecast CNC"，其下 Model / Process / Vendor 表头，表头下方为日期行，再往下为按型号分组的工序数量。
const FormatCNCForecast = "CNC_FORECAST_STANDARD"

const (
	cncSectionRows  = 29 // 搜索区段标题的行数
	cncHeaderSearch = 10 // 区段标题起搜索 Model 表头的行数
	cncDateSearch   = 3  // Model 表头之后搜索日期行的行数
	cncMinDates     = 3  // 日期行至少包含的日期数
)

// cncSkipLabels 型号列中的合计/汇总标签，所在行不计入
var cncSkipLabels = []string{"total", "합계", "sum", "ag tech", "agtech"}

var monthDayRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})`)

type cncPeriod struct {
	col   int
	label string
}

func parseCNCForecast(sh *sheet.Sheet, now time.Time) ([]model.Record, error) {
	rows, cols := sh.Dimensions()
	if rows == 0 || cols == 0 {
		return nil, model.NewMappingError("sheet", "sheet is empty")
	}
	searchCols := min(cols, scanCols)

	section := cncSectionStart(sh, rows, searchCols)
	headerRow, modelCol := 0, 0
	for r := section; r <= min(rows, section+cncHeaderSearch-1) && headerRow == 0; r++ {
		for c := 1; c <= searchCols; c++ {
			if strings.Contains(strings.ToLower(sh.Cell(r, c).Text), "model") {
				headerRow, modelCol = r, c
				break
			}
		}
	}
	if headerRow == 0 {
		return nil, model.NewMappingError(fmt.Sprintf("rows %d-%d", section, section+cncHeaderSearch-1), "model header not found")
	}

	// Model | Process | Vendor | 日期列...
	processCol := modelCol + 1
	dataCol := modelCol + 3

	dateRow, periods := cncPeriods(sh, headerRow, rows, cols, dataCol, now)
	if len(periods) == 0 {
		return nil, model.NewMappingError(cellName(dataCol, headerRow+1), "no date columns found")
	}

	var records []model.Record
	current := ""
	for r := dateRow + 1; r <= rows; r++ {
		// 型号单元格为空时沿用上一型号（合并单元格）
		if label := strings.TrimSpace(sh.Cell(r, modelCol).Text); label != "" {
			if isCNCSkipLabel(label) {
				current = ""
				continue
			}
			current = label
		}
		if current == "" {
			continue
		}
		process := strings.TrimSpace(sh.Cell(r, processCol).Text)
		if process == "" {
			continue
		}
		for _, p := range periods {
			q, ok := cncQuantity(sh.Cell(r, p.col))
			if !ok {
				continue
			}
			records = append(records, model.Record{
				Model:    current,
				Process:  process,
				Period:   p.label,
				Quantity: q,
			})
		}
	}

	if len(records) == 0 {
		return nil, model.NewMappingError(cellName(dataCol, dateRow+1), "no forecast quantities found")
	}
	return records, nil
}

// cncSectionStart 数据区段起始行：有两个及以上 "Forecast CNC" 标题时取第二个（第一个是汇总区段）
func cncSectionStart(sh *sheet.Sheet, rows, cols int) int {
	found := make([]int, 0, 2)
	for r := 1; r <= min(rows, cncSectionRows); r++ {
		for c := 1; c <= cols; c++ {
			t := strings.ToLower(sh.Cell(r, c).Text)
			if strings.Contains(t, "forecast") && strings.Contains(t, "cnc") {
				found = append(found, r)
				break
			}
		}
	}
	switch {
	case len(found) >= 2:
		return found[1]
	case len(found) == 1:
		return found[0]
	default:
		return 1
	}
}

// cncPeriods 在表头下方查找首个至少含 cncMinDates 个日期的行，找不到时取表头下一行
func cncPeriods(sh *sheet.Sheet, headerRow, rows, cols, dataCol int, now time.Time) (int, []cncPeriod) {
	dateRow := headerRow + 1
	for r := headerRow + 1; r <= min(rows, headerRow+cncDateSearch); r++ {
		n := 0
		for c := dataCol; c <= cols; c++ {
			if _, ok := cncDate(sh.Cell(r, c), now); ok {
				n++
			}
		}
		if n >= cncMinDates {
			dateRow = r
			break
		}
	}

	periods := make([]cncPeriod, 0, max(0, cols-dataCol+1))
	for c := dataCol; c <= cols; c++ {
		if label, ok := cncDate(sh.Cell(dateRow, c), now); ok {
			periods = append(periods, cncPeriod{col: c, label: label})
		}
	}
	return dateRow, periods
}

// cncDate 日期单元格或 MM/DD 文本；MM/DD 不早于上个月时取当年，否则取次年
func cncDate(c sheet.Cell, now time.Time) (string, bool) {
	switch c.Kind {
	case sheet.Date:
		return c.Time.Format("2006-01-02"), true
	case sheet.Text:
	default:
		return "", false
	}

	m := monthDayRe.FindStringSubmatch(strings.TrimSpace(c.Text))
	if m == nil {
		return "", false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	year := now.Year()
	if month < int(now.Month())-1 {
		year++
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

// cncQuantity 数量取整（截断），只保留正数；文本数量允许千分位逗号，"-" 视为空
func cncQuantity(c sheet.Cell) (int, bool) {
	var v float64
	switch c.Kind {
	case sheet.Number:
		v = c.Number
	case sheet.Text:
		s := strings.TrimSpace(strings.ReplaceAll(c.Text, ",", ""))
		if s == "" || s == "-" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	q := int(v)
	return q, q > 0
}

func isCNCSkipLabel(label string) bool {
	l := strings.ToLower(label)
	for _, kw := range cncSkipLabels {
		if strings.Contains(l, kw) {
			return true
		}
	}
	return false
}

func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(max(col, 1), max(row, 1))
	if err != nil {
		return ""
	}
	return name
}
