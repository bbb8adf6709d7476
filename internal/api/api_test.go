package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"forecaster/internal/logging"
	"forecaster/internal/model"
	"forecaster/internal/semantic"
	"forecaster/internal/service"
	"forecaster/internal/sheet"
	"forecaster/internal/store"
)

type stubSemantic struct {
	calls int
}

func (s *stubSemantic) Extract(_ context.Context, _ *sheet.Sheet) (*semantic.Result, error) {
	s.calls++
	return &semantic.Result{
		Records:    []model.Record{{Model: "AAA-01", Period: "2025-12-01", Quantity: 120}},
		Confidence: 0.95,
		Notes:      "semantic",
	}, nil
}

func (s *stubSemantic) Verify(_ context.Context, _ *sheet.Sheet, _ []model.Record) (*semantic.Verification, error) {
	s.calls++
	return &semantic.Verification{Valid: true, Confidence: 0.9}, nil
}

func setupRouter(t *testing.T, sem semantic.Extractor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.New(filepath.Join(t.TempDir(), "forecaster.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := service.New(st, sem, service.DefaultOptions(), logging.Nop())
	if err != nil {
		t.Fatalf("init service: %v", err)
	}

	h := NewHandler(svc, Options{UploadTTL: time.Minute}, logging.Nop())
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func buildForecastWorkbook(t *testing.T, qty int) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	rows := [][]any{
		{"Model", "Week 48", "Week 49"},
		{"", "2025-12-01", "2025-12-08"},
		{"AAA-01", qty, qty * 2},
		{"BBB-02", qty * 3, 0},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload/forecast", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doJSON(r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %s: %v", w.Body.String(), err)
	}
	return v
}

var weeklyMapping = map[string]any{
	"modelColumn":     "A",
	"modelStartRow":   3,
	"dateRow":         2,
	"dateStartColumn": "B",
	"headerKeywords":  []string{"Model"},
}

func TestUploadRememberAndReuse(t *testing.T) {
	sem := &stubSemantic{}
	r := setupRouter(t, sem)

	// 1. 新格式：全量语义分析
	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "forecast.xlsx", buildForecastWorkbook(t, 100)))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	first := decode[forecastUploadResponse](t, w)
	if first.Action != "full_analysis" || first.TemplateMatched || first.UploadID == "" || sem.calls != 1 {
		t.Fatalf("unexpected first upload: %+v", first)
	}

	// 2. 记住此格式
	w = doJSON(r, http.MethodPost, "/api/upload/forecast/save-template", map[string]any{
		"uploadId": first.UploadID,
		"name":     "Weekly Forecast",
		"mapping":  weeklyMapping,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("save-template status: %d body=%s", w.Code, w.Body.String())
	}
	tpl := decode[model.Template](t, w)
	if tpl.AccuracyRate != 1 || tpl.UseCount != 0 || !tpl.IsActive {
		t.Fatalf("unexpected template: %+v", tpl)
	}

	// 会话已被消费
	w = doJSON(r, http.MethodPost, "/api/upload/forecast/save-template", map[string]any{
		"uploadId": first.UploadID, "name": "again", "mapping": weeklyMapping,
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for consumed session, got %d", w.Code)
	}

	// 3. 同一格式再次上传：直接套用模板，不调用语义服务
	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "forecast-next.xlsx", buildForecastWorkbook(t, 7)))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	second := decode[forecastUploadResponse](t, w)
	if second.Action != "direct_parse" || second.Score != 1 || !second.TemplateMatched || second.TemplateID != tpl.ID {
		t.Fatalf("unexpected second upload: %+v", second)
	}
	if sem.calls != 1 {
		t.Fatalf("semantic extractor should not be called, calls=%d", sem.calls)
	}
	want := []model.Record{
		{Model: "AAA-01", Period: "2025-12-01", Quantity: 7},
		{Model: "AAA-01", Period: "2025-12-08", Quantity: 14},
		{Model: "BBB-02", Period: "2025-12-01", Quantity: 21},
	}
	if fmt.Sprint(second.Records) != fmt.Sprint(want) {
		t.Fatalf("unexpected records: %+v", second.Records)
	}

	// 4. 用户确认结果
	w = doJSON(r, http.MethodPost, "/api/templates/"+tpl.ID+"/outcome", map[string]any{
		"success": true, "score": second.Score, "processingTimeMs": 15,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("outcome status: %d body=%s", w.Code, w.Body.String())
	}
	if got := decode[model.Template](t, w); got.UseCount != 1 || got.LastUsedAt == nil {
		t.Fatalf("outcome not recorded: %+v", got)
	}

	w = doJSON(r, http.MethodGet, "/api/templates/stats", nil)
	stats := decode[model.TemplateStats](t, w)
	if stats.TotalTemplates != 1 || stats.TotalUploads != 2 || stats.TemplateHitRate != 50 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTemplateRoutes(t *testing.T) {
	r := setupRouter(t, &stubSemantic{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "forecast.xlsx", buildForecastWorkbook(t, 100)))
	up := decode[forecastUploadResponse](t, w)
	w = doJSON(r, http.MethodPost, "/api/upload/forecast/save-template", map[string]any{
		"uploadId": up.UploadID, "name": "Weekly Forecast", "mapping": weeklyMapping,
	})
	tpl := decode[model.Template](t, w)

	w = doJSON(r, http.MethodGet, "/api/templates", nil)
	if list := decode[struct{ Total int }](t, w); list.Total != 1 {
		t.Fatalf("unexpected list: %s", w.Body.String())
	}

	if w = doJSON(r, http.MethodGet, "/api/templates/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doJSON(r, http.MethodPatch, "/api/templates/"+tpl.ID, map[string]any{"name": "Renamed"})
	if got := decode[model.Template](t, w); w.Code != http.StatusOK || got.Name != "Renamed" {
		t.Fatalf("patch failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPatch, "/api/templates/"+tpl.ID, map[string]any{"mapping": map[string]any{"modelColumn": ""}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for broken mapping, got %d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/api/templates/"+tpl.ID+"/export", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "format_version: 1") {
		t.Fatalf("export failed: %d %s", w.Code, w.Body.String())
	}
	exported := w.Body.Bytes()

	importReq := httptest.NewRequest(http.MethodPost, "/api/templates/import", bytes.NewReader(exported))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, importReq)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate import, got %d body=%s", w.Code, w.Body.String())
	}

	if w = doJSON(r, http.MethodPost, "/api/templates/"+tpl.ID+"/deactivate", nil); w.Code != http.StatusOK {
		t.Fatalf("deactivate failed: %d", w.Code)
	}
	if got := decode[model.Template](t, w); got.IsActive {
		t.Fatalf("template still active")
	}

	// 停用后可导入同一指纹；原模板重新启用时冲突
	importReq = httptest.NewRequest(http.MethodPost, "/api/templates/import", bytes.NewReader(exported))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, importReq)
	if w.Code != http.StatusCreated {
		t.Fatalf("import failed: %d %s", w.Code, w.Body.String())
	}
	if w = doJSON(r, http.MethodPost, "/api/templates/"+tpl.ID+"/activate", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on reactivation, got %d", w.Code)
	}

	if w = doJSON(r, http.MethodPost, "/api/templates/"+tpl.ID+"/outcome", map[string]any{"score": 0.5}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without success flag, got %d", w.Code)
	}

	if w = doJSON(r, http.MethodDelete, "/api/templates/"+tpl.ID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", w.Code)
	}
	if w = doJSON(r, http.MethodDelete, "/api/templates/"+tpl.ID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestUploadErrors(t *testing.T) {
	r := setupRouter(t, nil)

	var empty bytes.Buffer
	mw := multipart.NewWriter(&empty)
	_ = mw.WriteField("sheet", "Sheet1")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/upload/forecast", &empty)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file, got %d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["error"] != "file is required" {
		t.Fatalf("unexpected error body: %v", body)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "forecast.csv", []byte("a,b")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for csv, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "broken.xlsx", []byte("not a workbook")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for broken workbook, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "forecast.xlsx", buildForecastWorkbook(t, 100)))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without semantic extractor, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.ErrTemplateNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", model.ErrDuplicateFingerprint), http.StatusConflict},
		{model.NewMappingError("A1", "out of bounds"), http.StatusUnprocessableEntity},
		{model.ErrInvalidStructure, http.StatusBadRequest},
		{model.ErrInvalidTemplate, http.StatusBadRequest},
		{model.ErrSemanticUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("gemini: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := errorStatus(tc.err); got != tc.want {
			t.Fatalf("errorStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestUploadStoreExpiry(t *testing.T) {
	s := newUploadStore()
	id := s.put(model.Fingerprint{Digest: "d"}, "a.xlsx", -time.Second)
	if _, ok := s.get(id); ok {
		t.Fatalf("expired session should not be returned")
	}
	id = s.put(model.Fingerprint{Digest: "d"}, "a.xlsx", time.Minute)
	if got, ok := s.get(id); !ok || got.fingerprint.Digest != "d" {
		t.Fatalf("session lost: %+v", got)
	}
	s.delete(id)
	if _, ok := s.get(id); ok {
		t.Fatalf("deleted session returned")
	}
}

func TestUploadBuiltinFormat(t *testing.T) {
	sem := &stubSemantic{}
	r := setupRouter(t, sem)

	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"⊙ Forecast CNC", "Week 47"},
		{"Model", "Process", "Vendor"},
		{"", "", "", "11/17", "11/18", "11/19"},
		{"M1", "CNC1", "VA", 10, 20, 30},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "cnc.xlsx", buf.Bytes()))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", w.Code, w.Body.String())
	}
	res := decode[forecastUploadResponse](t, w)
	if res.Action != "builtin_format" || !res.TemplateMatched || res.TemplateName != "CNC_FORECAST_STANDARD" || res.TemplateID != "" {
		t.Fatalf("unexpected built-in upload: %+v", res)
	}
	if res.Confidence != 1 || res.Pending != nil || len(res.Records) != 3 || sem.calls != 0 {
		t.Fatalf("unexpected built-in result: %+v calls=%d", res, sem.calls)
	}
	for _, rec := range res.Records {
		if rec.Model != "M1" || rec.Process != "CNC1" {
			t.Fatalf("unexpected record: %+v", rec)
		}
	}
}
