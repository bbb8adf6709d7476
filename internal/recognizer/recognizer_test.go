package recognizer_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"forecaster/internal/model"
	"forecaster/internal/recognizer"
	"forecaster/internal/sheet"
)

func fixedClock(y int, m time.Month, d int) func() time.Time {
	return func() time.Time { return time.Date(y, m, d, 9, 0, 0, 0, time.UTC) }
}

// cncGrid 汇总区段 + 数据区段，型号列为 B（A 列留空）
func cncGrid() [][]string {
	return [][]string{
		{"", "⊙ Forecast CNC Summary"},
		{"", "Week 47", "Week 48"},
		{"", "Model", "Process", "Vendor", "Total"},
		{"", "SUMMARY", "CNC", "V1", "1"},
		{"", "⊙ Forecast CNC"},
		{"", "Model", "Process", "Vendor"},
		{"", "", "", "", "11/17", "11/18", "11/19"},
		{"", "M1", "CNC1", "VA", "1,200", "-", "300"},
		{"", "", "CNC2", "VA", "50", "", "12.7"},
		{"", "Total", "CNC", "", "999", "999", "999"},
		{"", "", "CNC3", "", "5", "5", "5"},
		{"", "B7 Main mmW", "", "", "7", "7", "7"},
		{"", "", "Polish", "VB", "0", "40", "abc"},
	}
}

func TestRecognize_CNCForecast(t *testing.T) {
	t.Parallel()

	rec := recognizer.New(nil).Recognize(sheet.FromStrings("Sheet1", cncGrid()))
	if rec.Format != recognizer.FormatCNCForecast {
		t.Fatalf("format=%q, want %q (missing %v)", rec.Format, recognizer.FormatCNCForecast, rec.Missing)
	}
	if rec.Score != 1.0 || len(rec.Missing) != 0 {
		t.Fatalf("unexpected recognition: %+v", rec)
	}
}

func TestRecognize_OtherLayouts(t *testing.T) {
	t.Parallel()

	r := recognizer.New(nil)

	weekly := sheet.FromStrings("Forecast", [][]string{
		{"Model", "Week 48", "Week 49"},
		{"", "2025-12-01", "2025-12-08"},
		{"AAA-01", "100", "200"},
	})
	rec := r.Recognize(weekly)
	if rec.Format != "" {
		t.Fatalf("weekly layout recognized as %q", rec.Format)
	}
	if rec.Score != 0.5 || !reflect.DeepEqual(rec.Missing, []string{"forecast cnc"}) {
		t.Fatalf("unexpected partial recognition: %+v", rec)
	}

	// 标题位于前 5 行之外不算
	late := [][]string{{"x"}, {"x"}, {"x"}, {"x"}, {"x"}, {"Forecast CNC"}, {"Week 1"}}
	if rec := r.Recognize(sheet.FromStrings("late", late)); rec.Format != "" {
		t.Fatalf("title outside scan rows recognized: %+v", rec)
	}

	if rec := r.Recognize(sheet.FromStrings("empty", nil)); rec.Format != "" || rec.Score != 0 {
		t.Fatalf("empty sheet recognized: %+v", rec)
	}
}

func TestParse_CNCForecast(t *testing.T) {
	t.Parallel()

	r := recognizer.New(fixedClock(2025, time.November, 20))
	records, err := r.Parse(sheet.FromStrings("Sheet1", cncGrid()), recognizer.FormatCNCForecast)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []model.Record{
		{Model: "M1", Process: "CNC1", Period: "2025-11-17", Quantity: 1200},
		{Model: "M1", Process: "CNC1", Period: "2025-11-19", Quantity: 300},
		{Model: "M1", Process: "CNC2", Period: "2025-11-17", Quantity: 50},
		{Model: "M1", Process: "CNC2", Period: "2025-11-19", Quantity: 12},
		{Model: "B7 Main mmW", Process: "Polish", Period: "2025-11-18", Quantity: 40},
	}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("records=%+v\nwant %+v", records, want)
	}
}

func TestParse_MonthDayYearRollover(t *testing.T) {
	t.Parallel()

	grid := [][]string{
		{"Forecast CNC", "Week 50"},
		{"Model", "Process", "Vendor"},
		{"", "", "", "11/28", "12/29", "01/05"},
		{"M3", "CNC1", "", "1", "2", "3"},
	}
	r := recognizer.New(fixedClock(2025, time.December, 10))
	records, err := r.Parse(sheet.FromStrings("Sheet1", grid), recognizer.FormatCNCForecast)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	got := make([]string, 0, len(records))
	for _, rec := range records {
		got = append(got, rec.Period)
	}
	want := []string{"2025-11-28", "2025-12-29", "2026-01-05"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("periods=%v, want %v", got, want)
	}
}

func TestParse_LayoutMismatch(t *testing.T) {
	t.Parallel()

	r := recognizer.New(fixedClock(2025, time.November, 20))
	cases := map[string][][]string{
		"no model header": {
			{"Forecast CNC", "Week 47"},
			{"Item", "Process", "Vendor", "11/17", "11/18", "11/19"},
		},
		"no date columns": {
			{"Forecast CNC", "Week 47"},
			{"Model", "Process", "Vendor"},
			{"M1", "CNC1", "VA", "10", "20", "30"},
		},
		"no quantities": {
			{"Forecast CNC", "Week 47"},
			{"Model", "Process", "Vendor"},
			{"", "", "", "11/17", "11/18", "11/19"},
			{"M1", "CNC1", "VA", "-", "0", ""},
		},
	}
	for name, grid := range cases {
		_, err := r.Parse(sheet.FromStrings(name, grid), recognizer.FormatCNCForecast)
		if !errors.Is(err, model.ErrMappingFailure) {
			t.Fatalf("%s: expected ErrMappingFailure, got %v", name, err)
		}
	}

	if _, err := r.Parse(sheet.FromStrings("x", cncGrid()), "UNKNOWN"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestParse_CNCWorkbook(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"⊙ Forecast CNC", "Week 47"},
		{"Model", "Process", "Vendor"},
		{"", "", "", "11/17", "11/18", "11/19"},
		{"M1", "CNC1", "VA", 10, "1,500", 30},
		{"", "CNC2", "VA", 4, "", ""},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	if err := f.MergeCell("Sheet1", "A4", "A5"); err != nil {
		t.Fatalf("merge: %v", err)
	}
	sh, err := sheet.FromWorkbook(f, "Sheet1")
	if err != nil {
		t.Fatalf("FromWorkbook failed: %v", err)
	}

	r := recognizer.New(fixedClock(2025, time.November, 20))
	if rec := r.Recognize(sh); rec.Format != recognizer.FormatCNCForecast {
		t.Fatalf("workbook not recognized: %+v", rec)
	}
	records, err := r.Parse(sh, recognizer.FormatCNCForecast)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := []model.Record{
		{Model: "M1", Process: "CNC1", Period: "2025-11-17", Quantity: 10},
		{Model: "M1", Process: "CNC1", Period: "2025-11-18", Quantity: 1500},
		{Model: "M1", Process: "CNC1", Period: "2025-11-19", Quantity: 30},
		{Model: "M1", Process: "CNC2", Period: "2025-11-17", Quantity: 4},
	}
	if !reflect.DeepEqual(records, want) {
		t.Fatalf("records=%+v\nwant %+v", records, want)
	}
}
