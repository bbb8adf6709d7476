package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"forecaster/internal/model"
)

// ListTemplates 模板列表
// GET /api/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	list, err := h.svc.ListTemplates(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []model.Template{}
	}
	c.JSON(http.StatusOK, gin.H{"items": list, "total": len(list)})
}

// GetStats 学习统计
// GET /api/templates/stats
func (h *Handler) GetStats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetTemplate 模板详情
// GET /api/templates/:id
func (h *Handler) GetTemplate(c *gin.Context) {
	t, err := h.svc.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type updateTemplateRequest struct {
	Name    *string        `json:"name"`
	Mapping *model.Mapping `json:"mapping"`
}

// UpdateTemplate 修改模板名称或映射
// PATCH /api/templates/:id
func (h *Handler) UpdateTemplate(c *gin.Context) {
	var req updateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Name == nil && req.Mapping == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	t, err := h.svc.UpdateTemplate(c.Request.Context(), c.Param("id"), model.TemplatePatch{
		Name:    req.Name,
		Mapping: req.Mapping,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// DeleteTemplate 删除模板
// DELETE /api/templates/:id
func (h *Handler) DeleteTemplate(c *gin.Context) {
	if err := h.svc.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ActivateTemplate 启用模板
// POST /api/templates/:id/activate
func (h *Handler) ActivateTemplate(c *gin.Context) {
	h.setActive(c, true)
}

// DeactivateTemplate 停用模板
// POST /api/templates/:id/deactivate
func (h *Handler) DeactivateTemplate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *Handler) setActive(c *gin.Context, active bool) {
	t, err := h.svc.SetActive(c.Request.Context(), c.Param("id"), active)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type outcomeRequest struct {
	Success          *bool   `json:"success"`
	Score            float64 `json:"score"`
	ProcessingTimeMs int64   `json:"processingTimeMs"`
}

// RecordOutcome 用户确认或修正结果后记录模板使用结果
// POST /api/templates/:id/outcome
func (h *Handler) RecordOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Success == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "success is required"})
		return
	}
	if req.Score < 0 || req.Score > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "score must be within [0,1]"})
		return
	}

	t, err := h.svc.RecordOutcome(c.Request.Context(), c.Param("id"), req.Score, *req.Success,
		time.Duration(req.ProcessingTimeMs)*time.Millisecond)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// ExportTemplate 导出模板 YAML
// GET /api/templates/:id/export
func (h *Handler) ExportTemplate(c *gin.Context) {
	id := c.Param("id")
	data, err := h.svc.ExportTemplate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"template-%s.yaml\"", id))
	c.Data(http.StatusOK, "application/x-yaml", data)
}

// ImportTemplate 导入模板 YAML
// POST /api/templates/import
func (h *Handler) ImportTemplate(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty template document"})
		return
	}
	t, err := h.svc.ImportTemplate(c.Request.Context(), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}
