package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"forecaster/internal/model"
	"forecaster/internal/service"
	"forecaster/internal/sheet"
)

// forecastUploadResponse 上传处理结果
type forecastUploadResponse struct {
	UploadID        string                  `json:"uploadId"`
	Action          string                  `json:"action"`
	Score           float64                 `json:"score"`
	TemplateMatched bool                    `json:"templateMatched"`
	TemplateID      string                  `json:"templateId,omitempty"`
	TemplateName    string                  `json:"templateName,omitempty"`
	Records         []model.Record          `json:"data"`
	Confidence      float64                 `json:"confidence"`
	Notes           string                  `json:"notes,omitempty"`
	Fallback        string                  `json:"fallback,omitempty"`
	Pending         *service.PendingOutcome `json:"pending,omitempty"`
}

// UploadForecast 上传预测 Excel 并按模板学习流程解析
// POST /api/upload/forecast
func (h *Handler) UploadForecast(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".xlsx", ".xlsm":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .xlsx workbooks are supported"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	defer f.Close()

	sh, err := sheet.Load(f, c.PostForm("sheet"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid excel file: " + err.Error()})
		return
	}

	res, err := h.svc.Analyze(c.Request.Context(), sh)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := forecastUploadResponse{
		UploadID:   h.uploads.put(res.Fingerprint, fh.Filename, h.opts.UploadTTL),
		Action:     string(res.Action),
		Score:      res.Score,
		Records:    res.Records,
		Confidence: res.Confidence,
		Notes:      res.Notes,
		Fallback:   res.Fallback,
		Pending:    res.Pending,
	}
	if resp.Records == nil {
		resp.Records = []model.Record{}
	}
	switch {
	case res.Format != "":
		resp.TemplateMatched = true
		resp.TemplateName = res.Format
	case res.Template != nil && res.Pending != nil:
		resp.TemplateMatched = true
		resp.TemplateID = res.Template.ID
		resp.TemplateName = res.Template.Name
	}
	c.JSON(http.StatusOK, resp)
}

type saveTemplateRequest struct {
	UploadID string        `json:"uploadId" binding:"required"`
	Name     string        `json:"name" binding:"required"`
	Mapping  model.Mapping `json:"mapping"`
}

// SaveTemplate 将上传的格式保存为模板（“记住此格式”）
// POST /api/upload/forecast/save-template
func (h *Handler) SaveTemplate(c *gin.Context) {
	var req saveTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploadId and name are required"})
		return
	}

	sess, ok := h.uploads.get(req.UploadID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload session not found or expired"})
		return
	}

	t, err := h.svc.SaveTemplate(c.Request.Context(), req.Name, sess.fingerprint, req.Mapping)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.uploads.delete(req.UploadID)
	h.log.Info().Str("template", t.ID).Str("file", sess.filename).Msg("template remembered from upload")
	c.JSON(http.StatusCreated, t)
}
