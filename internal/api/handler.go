// Package api 模板学习与预测上传 HTTP 接口
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"forecaster/internal/model"
	"forecaster/internal/service"
)

// Options 接口参数
type Options struct {
	MaxUploadBytes int64
	UploadTTL      time.Duration
}

// Handler API 处理器
type Handler struct {
	svc     *service.Service
	uploads *uploadStore
	opts    Options
	log     zerolog.Logger
}

// NewHandler 创建 API 处理器
func NewHandler(svc *service.Service, opts Options, log zerolog.Logger) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 20 << 20
	}
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = 30 * time.Minute
	}
	return &Handler{
		svc:     svc,
		uploads: newUploadStore(),
		opts:    opts,
		log:     log,
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	// 模板管理
	router.GET("/templates", h.ListTemplates)
	router.GET("/templates/stats", h.GetStats)
	router.POST("/templates/import", h.ImportTemplate)
	router.GET("/templates/:id", h.GetTemplate)
	router.PATCH("/templates/:id", h.UpdateTemplate)
	router.DELETE("/templates/:id", h.DeleteTemplate)
	router.POST("/templates/:id/activate", h.ActivateTemplate)
	router.POST("/templates/:id/deactivate", h.DeactivateTemplate)
	router.POST("/templates/:id/outcome", h.RecordOutcome)
	router.GET("/templates/:id/export", h.ExportTemplate)

	// 预测文件上传
	router.POST("/upload/forecast", h.UploadForecast)
	router.POST("/upload/forecast/save-template", h.SaveTemplate)
}

// errorStatus 将领域错误映射为 HTTP 状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicateFingerprint):
		return http.StatusConflict
	case errors.Is(err, model.ErrMappingFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidStructure), errors.Is(err, model.ErrInvalidTemplate):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrSemanticUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
