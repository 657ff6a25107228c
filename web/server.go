// Package web 运维 HTTP 服务：Prometheus 指标、健康检查与最近一次心跳。
package web

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"podmesh/schema"
)

// StatusProvider 提供最近一次心跳
type StatusProvider interface {
	Latest() (schema.HeartbeatEvent, bool)
}

// HealthCheck 依赖检查，返回错误表示不健康
type HealthCheck func(ctx context.Context) error

// Handlers 路由依赖
type Handlers struct {
	Status  StatusProvider
	Checks  map[string]HealthCheck
	Version string
}

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine, h Handlers) {
	// Prometheus metrics 端点（供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", h.healthz)
	r.GET("/status", h.status)

	// pprof 性能分析端点（生产环境通过防火墙限制访问）
	pprofGroup := r.Group("/debug/pprof")
	{
		pprofGroup.GET("/", gin.WrapF(pprof.Index))
		pprofGroup.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
		pprofGroup.GET("/symbol", gin.WrapF(pprof.Symbol))
		pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
		pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
		pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
	}
}

func (h Handlers) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.Checks))
	healthy := true
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	status := "ok"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	c.JSON(code, gin.H{"status": status, "checks": checks, "version": h.Version})
}

func (h Handlers) status(c *gin.Context) {
	if h.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "心跳未启用"})
		return
	}
	hb, ok := h.Status.Latest()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "尚未产生心跳"})
		return
	}
	c.JSON(http.StatusOK, hb)
}
