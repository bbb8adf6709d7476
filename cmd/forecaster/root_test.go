package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"forecaster/internal/fingerprint"
	"forecaster/internal/model"
)

func templateYAML() string {
	fp := model.Fingerprint{
		RowBucket:       "small",
		ColBucket:       "small",
		HeaderPattern:   []string{"model", "week#"},
		DataTypePattern: []string{"TN"},
	}
	return fmt.Sprintf(`format_version: 1
name: Weekly Forecast
fingerprint:
  row_bucket: small
  col_bucket: small
  header_pattern: [model, "week#"]
  data_type_pattern: [TN]
  merged_cell_count: 0
  digest: %q
mapping:
  model_column: A
  model_start_row: 3
  date_row: 2
  date_start_column: B
`, fingerprint.Digest(fp, fingerprint.DefaultOptions().DigestLength))
}

func runCLI(t *testing.T, dir string, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config-dir", dir, "--no-color"}, args...))
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func TestTemplatesImportListExport(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	dir := t.TempDir()

	doc := filepath.Join(dir, "weekly.yaml")
	if err := os.WriteFile(doc, []byte(templateYAML()), 0644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	if err := runCLI(t, dir, "templates", "import", doc); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if err := runCLI(t, dir, "templates", "import", doc); !errors.Is(err, model.ErrDuplicateFingerprint) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := runCLI(t, dir, "templates", "list"); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if err := runCLI(t, dir, "templates", "export", "missing"); !errors.Is(err, model.ErrTemplateNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "forecaster.db")); err != nil {
		t.Fatalf("database not created under config dir: %v", err)
	}
}

func TestFingerprintCommand(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	dir := t.TempDir()

	f := excelize.NewFile()
	defer f.Close()
	_ = f.SetSheetRow("Sheet1", "A1", &[]any{"Model", "Week 48"})
	_ = f.SetSheetRow("Sheet1", "A2", &[]any{"AAA-01", 10})
	path := filepath.Join(dir, "forecast.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	if err := runCLI(t, dir, "fingerprint", path); err != nil {
		t.Fatalf("fingerprint failed: %v", err)
	}
	if err := runCLI(t, dir, "fingerprint", filepath.Join(dir, "missing.xlsx")); err == nil {
		t.Fatalf("expected error for missing workbook")
	}
}
