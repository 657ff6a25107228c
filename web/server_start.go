package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"podmesh/config"
	"podmesh/logger"
)

// WebServer Web服务器
type WebServer struct {
	server *http.Server
	cfg    *config.Config
}

// NewWebServer 创建Web服务器，未启用时返回 nil
func NewWebServer(cfg *config.Config, h Handlers) *WebServer {
	if !cfg.Web.Enabled {
		return nil
	}

	if cfg.System.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), GinLoggerMiddleware(cfg.System.LogLevel == "debug"))
	SetupRoutes(r, h)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	return &WebServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second, // pprof profile 默认采样 30 秒
			IdleTimeout:  60 * time.Second,
		},
		cfg: cfg,
	}
}

// Start 启动Web服务器，ctx 结束时优雅关闭
func (ws *WebServer) Start(ctx context.Context) {
	if ws == nil {
		return
	}

	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", ws.server.Addr)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ws.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("❌ Web服务器关闭失败: %v", err)
		} else {
			logger.Info("✅ Web服务器已关闭")
		}
	}()
}
