package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"forecaster/internal/model"
	"forecaster/internal/sheet"
)

func geminiServer(t *testing.T, reply string, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if !strings.HasSuffix(r.URL.Path, "/test-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "AAA-01") {
			t.Errorf("prompt does not contain sheet contents")
		}
		resp := map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": reply}}},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSheet() *sheet.Sheet {
	return sheet.FromStrings("Forecast", [][]string{
		{"Model", "2025-12-01"},
		{"AAA-01", "100"},
	})
}

func TestGeminiExtract(t *testing.T) {
	calls := 0
	reply := "```json\n{\"data\":[{\"model\":\"AAA-01\",\"period\":\"2025-12-01\",\"quantity\":100}],\"confidence\":0.93,\"notes\":\"ok\"}\n```"
	srv := geminiServer(t, reply, &calls)

	g, err := NewGemini(Config{APIKey: "test-key", Model: "test-model", Endpoint: srv.URL}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGemini failed: %v", err)
	}
	res, err := g.Extract(context.Background(), testSheet())
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	want := model.Record{Model: "AAA-01", Period: "2025-12-01", Quantity: 100}
	if len(res.Records) != 1 || res.Records[0] != want || res.Confidence != 0.93 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGeminiVerify(t *testing.T) {
	calls := 0
	srv := geminiServer(t, `{"is_valid":false,"confidence":0.4,"errors":["wrong period"]}`, &calls)

	g, err := NewGemini(Config{APIKey: "test-key", Model: "test-model", Endpoint: srv.URL}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGemini failed: %v", err)
	}
	v, err := g.Verify(context.Background(), testSheet(), []model.Record{{Model: "AAA-01", Period: "x", Quantity: 1}})
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if v.Valid || v.Confidence != 0.4 || len(v.Errors) != 1 {
		t.Fatalf("unexpected verification: %+v", v)
	}
}

func TestGeminiNoRetryOnError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g, _ := NewGemini(Config{APIKey: "test-key", Model: "test-model", Endpoint: srv.URL}, zerolog.Nop())
	if _, err := g.Extract(context.Background(), testSheet()); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestGeminiHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g, _ := NewGemini(Config{APIKey: "test-key", Model: "test-model", Endpoint: srv.URL}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.Extract(ctx, testSheet())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewGeminiWithoutKey(t *testing.T) {
	if _, err := NewGemini(Config{}, zerolog.Nop()); !errors.Is(err, model.ErrSemanticUnavailable) {
		t.Fatalf("expected ErrSemanticUnavailable, got %v", err)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"{\"a\":1}":                  "{\"a\":1}",
		"```json\n{\"a\":1}\n```":    "{\"a\":1}",
		"note\n```\n{\"a\":1}\n```x": "{\"a\":1}",
	}
	for in, want := range cases {
		if got := extractJSON(in); got != want {
			t.Fatalf("extractJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
