// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mirrorwear/fitstudio/internal/api"
	"github.com/mirrorwear/fitstudio/internal/app"
	"github.com/mirrorwear/fitstudio/internal/config"
	"github.com/mirrorwear/fitstudio/internal/di"
)

func main() {
	log.Println("启动 FitStudio 服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("目录结构创建完成")

	// 3. 初始化配置系统
	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		log.Fatalf("初始化配置系统失败: %v", err)
	}
	log.Println("配置系统初始化完成")

	// 4. 初始化所有服务（按依赖顺序）
	if err := app.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}
	log.Println("所有服务初始化完成")

	// 5. 健康检查后设置路由
	if err := performHealthCheck(); err != nil {
		log.Printf("警告: 服务健康检查失败: %v", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		log.Fatalf("设置路由失败: %v", err)
	}
	log.Println("路由设置完成")

	// 6. 启动服务器
	log.Printf("服务器启动在端口 %s", baseConfig.Port)
	log.Printf("访问地址: http://localhost:%s", baseConfig.Port)
	log.Printf("设置页面: http://localhost:%s/settings", baseConfig.Port)

	setupGracefulShutdown(router, baseConfig.Port)
}

// performHealthCheck 检查关键服务是否已注册
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"session", "outfit", "generation", "config"}
	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("服务健康检查通过")
	return nil
}

// setupGracefulShutdown 启动服务器并等待信号优雅关闭
func setupGracefulShutdown(router *gin.Engine, port string) {
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("启动服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	api.GetWSManager().Shutdown()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务器强制关闭: %v", err)
	}

	log.Println("服务器优雅关闭完成")
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "sessions"),
		filepath.Join(cfg.DataDir, "stats"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}

	ensureStaticFiles(cfg)
}

// ensureStaticFiles 确保静态文件目录和内置服装图像存在
func ensureStaticFiles(cfg *config.Config) {
	dirs := []string{
		cfg.StaticDir,
		filepath.Join(cfg.StaticDir, "css"),
		filepath.Join(cfg.StaticDir, "js"),
		filepath.Join(cfg.StaticDir, "images", "garments"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建静态文件目录失败 %s: %v", dir, err)
		}
	}

	// 内置示例服装缺图时生成占位图像
	defaults := map[string]color.RGBA{
		"gemini-sweat.png": {66, 133, 244, 255},
		"gemini-tee.png":   {52, 168, 83, 255},
	}
	for name, tint := range defaults {
		path := filepath.Join(cfg.StaticDir, "images", "garments", name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			log.Printf("内置服装图像不存在，生成占位图像: %s", path)
			if err := generateGarmentPlaceholder(path, tint); err != nil {
				log.Printf("警告: 无法生成占位图像: %v", err)
			}
		}
	}
}

// generateGarmentPlaceholder 生成一个带渐变圆的纯色占位图像
func generateGarmentPlaceholder(outputPath string, tint color.RGBA) error {
	width, height := 512, 512

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{240, 240, 240, 255}}, image.Point{}, draw.Src)

	center := image.Point{width / 2, height / 2}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x - center.X)
			dy := float64(y - center.Y)
			distance := math.Sqrt(dx*dx + dy*dy)

			if distance < float64(width/2)*0.8 {
				// 距离越远越浅的渐变
				factor := 1.0 - (distance / (float64(width/2) * 0.8) * 0.5)
				img.Set(x, y, color.RGBA{
					R: uint8(float64(tint.R) * factor),
					G: uint8(float64(tint.G) * factor),
					B: uint8(float64(tint.B) * factor),
					A: 255,
				})
			}
		}
	}

	outputFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("创建图像文件失败: %w", err)
	}
	defer outputFile.Close()

	return png.Encode(outputFile, img)
}
