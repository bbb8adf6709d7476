package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"forecaster/internal/model"
	"forecaster/internal/sheet"
)

// Config Gemini 配置
type Config struct {
	APIKey         string `toml:"-"` // 仅从环境变量 GEMINI_API_KEY 读取
	Model          string `toml:"model"`
	Endpoint       string `toml:"endpoint"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRows        int    `toml:"max_rows"` // 渲染进提示词的最大行数
}

// DefaultConfig 默认 Gemini 配置
func DefaultConfig() Config {
	return Config{
		Model:          "gemini-2.5-flash",
		Endpoint:       "https://generativelanguage.googleapis.com/v1beta/models",
		TimeoutSeconds: 60,
		MaxRows:        200,
	}
}

// GeminiExtractor 通过 Google Generative Language REST 接口实现 Extractor，不做重试
type GeminiExtractor struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// NewGemini 创建 Gemini 抽取器；未配置 API Key 时返回 model.ErrSemanticUnavailable
func NewGemini(cfg Config, log zerolog.Logger) (*GeminiExtractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, model.ErrSemanticUnavailable
	}
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = def.TimeoutSeconds
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	return &GeminiExtractor{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:    log.With().Str("component", "gemini").Logger(),
	}, nil
}

const analysisPrompt = `You are analysing a production forecast spreadsheet, rendered below as tab-separated rows.

Extract every forecast entry as JSON:
1. model: product/model identifier
2. period: date (YYYY-MM-DD) or week label
3. quantity: forecast quantity (integer)

Rules:
- ignore header rows and total/subtotal rows
- carry merged cell values to every covered cell
- if periods are week numbers, keep the week label

Respond with JSON only:
{"data":[{"model":"AAA-01","period":"2025-12-01","quantity":1000}],"confidence":0.95,"notes":"observations"}`

const verifyPrompt = `Below is a production forecast spreadsheet rendered as tab-separated rows, followed by records extracted from it by a template.
Check the records against the sheet.

Respond with JSON only:
{"is_valid":true,"confidence":0.0,"errors":["..."],"corrections":[{"model":"...","period":"...","quantity":0}]}`

// Extract 全量语义分析
func (g *GeminiExtractor) Extract(ctx context.Context, sh *sheet.Sheet) (*Result, error) {
	prompt := analysisPrompt + "\n\nSHEET:\n" + sh.TSV(g.cfg.MaxRows)

	start := time.Now()
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("gemini extract failed: %w", err)
	}

	var res Result
	if err := json.Unmarshal([]byte(extractJSON(text)), &res); err != nil {
		return nil, fmt.Errorf("failed to parse gemini analysis: %w", err)
	}
	g.log.Info().
		Int("records", len(res.Records)).
		Float64("confidence", res.Confidence).
		Dur("elapsed", time.Since(start)).
		Msg("semantic analysis finished")
	return &res, nil
}

// Verify 核验模板抽取结果
func (g *GeminiExtractor) Verify(ctx context.Context, sh *sheet.Sheet, records []model.Record) (*Verification, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	prompt := verifyPrompt + "\n\nSHEET:\n" + sh.TSV(g.cfg.MaxRows) + "\nRECORDS:\n" + string(data)

	text, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("gemini verify failed: %w", err)
	}

	var v Verification
	if err := json.Unmarshal([]byte(extractJSON(text)), &v); err != nil {
		return nil, fmt.Errorf("failed to parse gemini verification: %w", err)
	}
	g.log.Info().
		Bool("valid", v.Valid).
		Float64("confidence", v.Confidence).
		Int("errors", len(v.Errors)).
		Msg("semantic verification finished")
	return &v, nil
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// generate 调用 generateContent 并返回首个候选文本
func (g *GeminiExtractor) generate(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("%s/%s:generateContent", strings.TrimRight(g.cfg.Endpoint, "/"), g.cfg.Model)

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini API returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var gr geminiResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", fmt.Errorf("failed to parse gemini response: %w", err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("gemini error %d: %s", gr.Error.Code, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned empty response")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// extractJSON 去掉模型回复中的 markdown 代码块包裹
func extractJSON(text string) string {
	if _, after, found := strings.Cut(text, "```json"); found {
		text = after
	} else if _, after, found := strings.Cut(text, "```"); found {
		text = after
	}
	if before, _, found := strings.Cut(text, "```"); found {
		text = before
	}
	return strings.TrimSpace(text)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
