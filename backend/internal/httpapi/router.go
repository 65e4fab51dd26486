package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ibraude/marktwo/backend/internal/httpapi/handlers"
	"github.com/ibraude/marktwo/backend/internal/ws"
)

type RouterOptions struct {
	// 直连本服务调试时打开；经网关转发时网关已经加过 CORS
	EnableCORS bool
	// 关闭 gin 的请求日志（测试用）
	Quiet bool
}

func NewRouter(svc handlers.SyncAPI, hub *ws.Hub, opt RouterOptions) *gin.Engine {
	r := gin.New()
	if !opt.Quiet {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if opt.EnableCORS {
		r.Use(cors.New(cors.Config{
			// 允许任意来源（包含 file:// 场景的 Origin: null）
			AllowOriginFunc:  func(origin string) bool { return true },
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	v1 := r.Group("/v1")
	handlers.NewDocumentHandler(svc).Register(v1)
	if hub != nil {
		v1.GET("/docs/:docID/ws", hub.Subscribe)
		v1.GET("/docs/:docID/subscribers", func(c *gin.Context) {
			docID := c.Param("docID")
			c.JSON(http.StatusOK, gin.H{"docId": docID, "subscribers": hub.Subscribers(docID)})
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}
