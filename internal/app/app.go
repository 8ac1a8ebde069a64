// internal/app/app.go
package app

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mirrorwear/fitstudio/internal/config"
	"github.com/mirrorwear/fitstudio/internal/di"
	"github.com/mirrorwear/fitstudio/internal/services"
	"github.com/mirrorwear/fitstudio/internal/storage"
	"github.com/mirrorwear/fitstudio/internal/utils"

	// 图像生成提供者在init()中完成注册
	_ "github.com/mirrorwear/fitstudio/internal/genimg/providers/gemini"
	_ "github.com/mirrorwear/fitstudio/internal/genimg/providers/vertex"
)

var initOnce sync.Once
var initErr error

// InitServices 按依赖顺序初始化所有服务并注册到容器
// 重复调用只生效一次
func InitServices() error {
	initOnce.Do(func() {
		initErr = initServices()
	})
	return initErr
}

func initServices() error {
	cfg := config.GetCurrentConfig()

	// 日志先行
	if cfg.LogDir != "" {
		logFile := filepath.Join(cfg.LogDir, "fitstudio.log")
		if err := utils.InitLogger(logFile); err != nil {
			fmt.Printf("警告: 初始化日志文件失败: %v\n", err)
		}
	}
	logger := utils.GetLogger()

	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}

	// 服务构建顺序: 存储 -> 统计 -> 生成 -> 会话 -> 编排 -> 配置
	statsService := services.NewStatsService(fileStorage)
	generationService := services.NewGenerationService(fileStorage, statsService)
	sessionService := services.NewSessionService()
	sessionService.SetRemoveHook(func(sessionID string) {
		if err := generationService.PurgeSessionImages(sessionID); err != nil {
			logger.Warnf("清理会话 %s 的磁盘图像失败: %v", sessionID, err)
		}
	})
	outfitService := services.NewOutfitService(sessionService, generationService)
	configService := services.NewConfigService(generationService)

	container := di.GetContainer()
	container.Register("storage", fileStorage)
	container.Register("stats", statsService)
	container.Register("generation", generationService)
	container.Register("session", sessionService)
	container.Register("outfit", outfitService)
	container.Register("config", configService)

	logger.Infof("服务初始化完成，提供者: %s", cfg.ImageProvider)
	return nil
}
