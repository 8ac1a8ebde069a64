// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/mirrorwear/fitstudio/internal/config"
	"github.com/mirrorwear/fitstudio/internal/di"
	"github.com/mirrorwear/fitstudio/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 只从容器获取服务，不创建新实例
	container := di.GetContainer()

	sessionService, ok := container.Get("session").(*services.SessionService)
	if !ok {
		return nil, fmt.Errorf("会话服务未正确初始化")
	}

	outfitService, ok := container.Get("outfit").(*services.OutfitService)
	if !ok {
		return nil, fmt.Errorf("穿搭服务未正确初始化")
	}

	generationService, ok := container.Get("generation").(*services.GenerationService)
	if !ok {
		return nil, fmt.Errorf("生成服务未正确初始化")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("配置服务未正确初始化")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	handler := NewHandler(
		sessionService,
		outfitService,
		generationService,
		configService,
		statsService,
	)

	// 生成完成事件经WebSocket推送
	outfitService.SetNotifier(GetWSManager())

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	// 启用CORS
	r.Use(corsMiddleware())

	// HTTPS重定向（生产环境）
	if !cfg.DebugMode {
		r.Use(func(c *gin.Context) {
			if c.Request.Header.Get("X-Forwarded-Proto") != "https" {
				c.Redirect(http.StatusPermanentRedirect,
					"https://"+c.Request.Host+c.Request.URL.Path)
				return
			}
			c.Next()
		})
	}

	// 静态文件服务
	r.Static("/static", cfg.StaticDir)

	// HTML模板
	r.LoadHTMLGlob(filepath.Join(cfg.TemplatesDir, "*.html"))

	// ===============================
	// 页面路由
	// ===============================
	r.GET("/", handler.IndexPage)
	r.GET("/settings", handler.SettingsPage)

	// 生成与上传的图像
	r.GET("/images/:session_id/:file", handler.ServeImage)

	// WebSocket 支持
	r.GET("/ws/sessions/:id", handler.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// ===============================
		// 会话与穿搭路由
		// ===============================
		sessionsGroup := api.Group("/sessions")
		{
			sessionsGroup.POST("", handler.CreateSession)
			sessionsGroup.GET("/:id", handler.GetSession)
			sessionsGroup.DELETE("/:id", handler.ResetSession)

			// 远程生成端点: 按会话限流
			sessionsGroup.POST("/:id/model", GenerationRateLimit(), handler.CreateModel)
			sessionsGroup.POST("/:id/garment", GenerationRateLimit(), handler.ApplyGarment)
			sessionsGroup.POST("/:id/pose", GenerationRateLimit(), handler.SelectPose)
			sessionsGroup.POST("/:id/moodboard", GenerationRateLimit(), handler.ApplyMoodBoard)
			sessionsGroup.POST("/:id/refine", GenerationRateLimit(), handler.Refine)

			// 本地状态操作
			sessionsGroup.POST("/:id/undo", handler.UndoLayer)
			sessionsGroup.GET("/:id/history", handler.GetHistory)
			sessionsGroup.GET("/:id/download", handler.DownloadCurrentLook)

			// 衣橱
			sessionsGroup.GET("/:id/wardrobe", handler.GetWardrobe)
			sessionsGroup.POST("/:id/wardrobe", UploadRateLimit(), handler.UploadGarment)
		}

		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.POST("", handler.SaveSettings)
			settingsGroup.POST("/test-connection", handler.TestConnection)
		}

		// ===============================
		// 提供者状态路由
		// ===============================
		providersGroup := api.Group("/providers")
		{
			providersGroup.GET("/status", handler.GetProviderStatus)
			providersGroup.PUT("/config", handler.UpdateProviderConfig)
		}

		// ===============================
		// 统计与调试
		// ===============================
		api.GET("/stats", handler.GetStats)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
