// Package api 提供运维用的管理接口：健康检查、查看最近一轮结果、手动触发采集。
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"newscatcher/internal/pipeline"
	"newscatcher/internal/storage"
)

type Server struct {
	store    *storage.Store
	pipeline *pipeline.Pipeline
}

func NewServer(store *storage.Store, p *pipeline.Pipeline) *Server {
	return &Server{store: store, pipeline: p}
}

// RegisterRoutes 注册路由。user/pass 非空时 /api/v1 下的接口启用 Basic Auth。
func (s *Server) RegisterRoutes(r *gin.Engine, user, pass string) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	if user != "" && pass != "" {
		v1.Use(gin.BasicAuth(gin.Accounts{user: pass}))
	}
	{
		v1.GET("/runs/latest", s.latestRun)
		v1.POST("/run", s.triggerRun)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) latestRun(c *gin.Context) {
	result, err := s.store.LatestRun(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": "no run results available",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    result,
	})
}

// triggerRun 异步触发一轮采集。在途标记由 pipeline 持有，
// 不论上一轮是定时触发还是 API 触发，有一轮在跑就返回 409。
func (s *Server) triggerRun(c *gin.Context) {
	if err := s.pipeline.RunAsync(context.Background()); err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "already_running",
				"message": "a run is already in progress",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"code":    "accepted",
		"message": "run started",
	})
}
