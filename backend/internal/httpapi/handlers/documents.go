package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/ibraude/marktwo/backend/internal/entity"
	"github.com/ibraude/marktwo/backend/internal/remote"
	"github.com/ibraude/marktwo/backend/internal/service"
)

// SyncAPI service.SyncService 暴露给 HTTP 的部分
type SyncAPI interface {
	remote.Remote
	Commit(ctx context.Context, docID string, meta entity.DocumentMetadata) (entity.DocumentMetadata, bool, error)
}

type DocumentHandler struct {
	svc SyncAPI
}

func NewDocumentHandler(svc SyncAPI) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// Register 挂载 /docs 和 /pages 路由
func (h *DocumentHandler) Register(r gin.IRouter) {
	docs := r.Group("/docs/:docID")
	{
		docs.GET("/metadata", h.GetMetadata)
		docs.POST("/metadata/init", h.InitMetadata)
		docs.POST("/metadata/sync", h.SyncMetadata)
	}
	pages := r.Group("/pages")
	{
		pages.GET("/:pageID", h.GetPage)
		pages.PUT("/:pageID", h.PutPage)
	}
}

// 错误 -> HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, entity.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, entity.ErrHashMismatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, entity.ErrMalformedMetadata), errors.Is(err, service.ErrForeignPage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		glog.Errorf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *DocumentHandler) GetMetadata(c *gin.Context) {
	meta, err := h.svc.FetchMetadata(c.Request.Context(), c.Param("docID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *DocumentHandler) InitMetadata(c *gin.Context) {
	// body 可选：缺省使用默认元数据
	defaults := entity.DefaultMetadata()
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&defaults); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	meta, err := h.svc.InitializeData(c.Request.Context(), c.Param("docID"), defaults)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *DocumentHandler) SyncMetadata(c *gin.Context) {
	var meta entity.DocumentMetadata
	if err := c.ShouldBindJSON(&meta); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	stored, accepted, err := h.svc.Commit(c.Request.Context(), c.Param("docID"), meta)
	if err != nil {
		writeError(c, err)
		return
	}
	// 冲突也是 200：返回远端当前的元数据，由客户端决定是否重建
	c.JSON(http.StatusOK, remote.SyncResponse{Accepted: accepted, Metadata: stored})
}

func (h *DocumentHandler) GetPage(c *gin.Context) {
	page, err := h.svc.FetchPage(c.Request.Context(), c.Param("pageID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *DocumentHandler) PutPage(c *gin.Context) {
	var page entity.Page
	if err := c.ShouldBindJSON(&page); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.CreatePage(c.Request.Context(), c.Param("pageID"), page); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pageId": c.Param("pageID")})
}
