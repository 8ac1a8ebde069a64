// internal/services/generation_service.go
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorwear/fitstudio/internal/config"
	apperrors "github.com/mirrorwear/fitstudio/internal/errors"
	"github.com/mirrorwear/fitstudio/internal/genimg"
	"github.com/mirrorwear/fitstudio/internal/imaging"
	"github.com/mirrorwear/fitstudio/internal/models"
	"github.com/mirrorwear/fitstudio/internal/storage"
	"github.com/mirrorwear/fitstudio/internal/utils"
)

// 图像引用约定:
//   对外引用  /images/<sessionID>/<filename>
//   存储路径  sessions/<sessionID>/images/<filename>   (相对DataDir)
// 内置素材引用 /static/... 直接映射到静态目录

const imageRefPrefix = "/images/"
const staticRefPrefix = "/static/"

// GenerationService 封装远程图像生成提供者和会话图像的落盘
type GenerationService struct {
	storage *storage.FileStorage
	stats   *StatsService
	logger  *utils.Logger
	metrics *utils.MetricsCollector

	// 提供者按当前配置懒加载，配置更新后通过ReloadProvider失效
	providerMutex sync.RWMutex
	provider      genimg.Provider
	providerName  string
}

// NewGenerationService 创建生成服务
func NewGenerationService(fs *storage.FileStorage, stats *StatsService) *GenerationService {
	return &GenerationService{
		storage: fs,
		stats:   stats,
		logger:  utils.GetLogger(),
		metrics: utils.GetMetricsCollector(),
	}
}

// getProvider 返回按当前配置初始化的提供者（双重检查锁）
func (g *GenerationService) getProvider() (genimg.Provider, error) {
	g.providerMutex.RLock()
	if g.provider != nil {
		p := g.provider
		g.providerMutex.RUnlock()
		return p, nil
	}
	g.providerMutex.RUnlock()

	g.providerMutex.Lock()
	defer g.providerMutex.Unlock()

	if g.provider != nil {
		return g.provider, nil
	}

	cfg := config.GetCurrentConfig()
	provider, err := genimg.GetProvider(cfg.ImageProvider, cfg.ProviderConfig)
	if err != nil {
		return nil, apperrors.NewGenerationError(
			fmt.Sprintf("图像生成提供者 %s 初始化失败", cfg.ImageProvider), err)
	}

	g.provider = provider
	g.providerName = cfg.ImageProvider
	g.logger.Infof("图像生成提供者已就绪: %s", cfg.ImageProvider)
	return provider, nil
}

// ReloadProvider 丢弃缓存的提供者实例，下次调用按新配置重建
func (g *GenerationService) ReloadProvider() {
	g.providerMutex.Lock()
	defer g.providerMutex.Unlock()
	g.provider = nil
	g.providerName = ""
}

// ProviderName 返回当前生效的提供者名称（未初始化时返回配置值）
func (g *GenerationService) ProviderName() string {
	g.providerMutex.RLock()
	defer g.providerMutex.RUnlock()
	if g.providerName != "" {
		return g.providerName
	}
	return config.GetCurrentConfig().ImageProvider
}

// imageStorageDir 返回会话图像的存储目录（相对DataDir）
func imageStorageDir(sessionID string) string {
	return filepath.Join("sessions", sessionID, "images")
}

// ImageRefToStoragePath 将对外引用解析为存储目录和文件名
func ImageRefToStoragePath(ref string) (dir string, filename string, err error) {
	if !strings.HasPrefix(ref, imageRefPrefix) {
		return "", "", fmt.Errorf("非法图像引用: %s", ref)
	}
	rest := strings.TrimPrefix(ref, imageRefPrefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", fmt.Errorf("非法图像引用: %s", ref)
	}
	return imageStorageDir(parts[0]), parts[1], nil
}

// SaveImage 保存一张生成图像并返回对外引用
func (g *GenerationService) SaveImage(sessionID string, data []byte, mimeType string) (string, error) {
	ext := imaging.ExtensionForMime(mimeType)
	filename := fmt.Sprintf("%s.%s", uuid.NewString(), ext)

	if err := g.storage.SaveFile(imageStorageDir(sessionID), filename, data); err != nil {
		return "", apperrors.WrapError(err, "保存生成图像失败", apperrors.ErrorTypeError)
	}

	return imageRefPrefix + sessionID + "/" + filename, nil
}

// LoadImageByRef 按引用读取图像并校验格式
// 同时支持会话图像引用和内置静态素材引用
func (g *GenerationService) LoadImageByRef(ref string) (*imaging.ImageData, error) {
	var raw []byte
	var err error

	switch {
	case strings.HasPrefix(ref, imageRefPrefix):
		dir, filename, perr := ImageRefToStoragePath(ref)
		if perr != nil {
			return nil, apperrors.NewValidationError(perr.Error(), perr)
		}
		raw, err = g.storage.LoadFile(dir, filename)
	case strings.HasPrefix(ref, staticRefPrefix):
		cfg := config.GetCurrentConfig()
		rel := strings.TrimPrefix(ref, staticRefPrefix)
		if strings.Contains(rel, "..") {
			return nil, apperrors.NewValidationError(fmt.Sprintf("非法静态资源引用: %s", ref), nil)
		}
		raw, err = os.ReadFile(filepath.Join(cfg.StaticDir, filepath.FromSlash(rel)))
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("非法图像引用: %s", ref), nil)
	}

	if err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("图像不存在: %s", ref), err)
	}

	img, err := imaging.NewImageData(raw)
	if err != nil {
		return nil, apperrors.WrapError(err, "图像数据损坏", apperrors.ErrorTypeError)
	}
	return img, nil
}

// PurgeSessionImages 删除会话的全部磁盘图像
func (g *GenerationService) PurgeSessionImages(sessionID string) error {
	return g.storage.DeleteDir(filepath.Join("sessions", sessionID))
}

// toPart 将图像统一转码为JPEG后封装为生成输入
func toPart(img *imaging.ImageData) (genimg.ImagePart, error) {
	jpegImg, err := img.ToJPEG()
	if err != nil {
		return genimg.ImagePart{}, apperrors.WrapError(err, "图像转码失败", apperrors.ErrorTypeError)
	}
	return genimg.ImagePart{
		Data:     jpegImg.Data(),
		MimeType: jpegImg.MimeType(),
	}, nil
}

// refToPart 按引用加载并转码为生成输入
func (g *GenerationService) refToPart(ref string) (genimg.ImagePart, error) {
	img, err := g.LoadImageByRef(ref)
	if err != nil {
		return genimg.ImagePart{}, err
	}
	return toPart(img)
}

// newValidatedImage 校验原始图像字节
func newValidatedImage(data []byte) (*imaging.ImageData, error) {
	img, err := imaging.NewImageData(data)
	if err != nil {
		return nil, apperrors.NewValidationError("无法识别的图像数据", err)
	}
	return img, nil
}

// bytesToPart 校验原始字节并转码为生成输入
func bytesToPart(data []byte) (genimg.ImagePart, error) {
	img, err := newValidatedImage(data)
	if err != nil {
		return genimg.ImagePart{}, err
	}
	return toPart(img)
}

// generate 执行一次远程生成并落盘，返回新图像的引用
func (g *GenerationService) generate(ctx context.Context, sessionID, prompt string, images []genimg.ImagePart) (string, error) {
	provider, err := g.getProvider()
	if err != nil {
		g.metrics.Counter("generation_failures").Inc()
		if g.stats != nil {
			g.stats.RecordFailure()
		}
		return "", err
	}

	start := time.Now()
	result, err := provider.GenerateImage(ctx, genimg.GenerationRequest{
		Prompt: prompt,
		Images: images,
	})
	g.metrics.Histogram("generation_duration").Observe(time.Since(start))

	if err != nil {
		g.metrics.Counter("generation_failures").Inc()
		if g.stats != nil {
			g.stats.RecordFailure()
		}
		g.logger.Errorf("远程图像生成失败 (session=%s): %v", sessionID, err)
		return "", apperrors.NewGenerationError("图像生成失败，请重试", err)
	}

	ref, err := g.SaveImage(sessionID, result.ImageData, result.MimeType)
	if err != nil {
		g.metrics.Counter("generation_failures").Inc()
		if g.stats != nil {
			g.stats.RecordFailure()
		}
		return "", err
	}

	g.metrics.Counter("generations_total").Inc()
	if g.stats != nil {
		g.stats.RecordGeneration()
	}
	return ref, nil
}

// GenerateModel 由用户照片生成基础模特图
func (g *GenerationService) GenerateModel(ctx context.Context, sessionID string, userPhoto []byte) (string, error) {
	part, err := bytesToPart(userPhoto)
	if err != nil {
		return "", err
	}
	return g.generate(ctx, sessionID, genimg.BuildModelPrompt(), []genimg.ImagePart{part})
}

// TryOnGarment 将服装穿到当前模特图上
// 参照顺序: 模特图在前，服装图在后
func (g *GenerationService) TryOnGarment(ctx context.Context, sessionID, modelRef string, garment *models.WardrobeItem) (string, error) {
	modelPart, err := g.refToPart(modelRef)
	if err != nil {
		return "", err
	}
	garmentPart, err := g.refToPart(garment.ImageRef)
	if err != nil {
		return "", err
	}
	return g.generate(ctx, sessionID, genimg.BuildTryOnPrompt(garment.Name),
		[]genimg.ImagePart{modelPart, garmentPart})
}

// PoseVariant 生成当前穿搭的姿势变体
func (g *GenerationService) PoseVariant(ctx context.Context, sessionID, sourceRef, poseInstruction string) (string, error) {
	part, err := g.refToPart(sourceRef)
	if err != nil {
		return "", err
	}
	return g.generate(ctx, sessionID, genimg.BuildPosePrompt(poseInstruction), []genimg.ImagePart{part})
}

// MoodBoardRestyle 依据情绪板图像整体换装
// 参照顺序: 原始基础模特图在前，情绪板图在后
func (g *GenerationService) MoodBoardRestyle(ctx context.Context, sessionID, baseModelRef string, moodBoard []byte) (string, error) {
	modelPart, err := g.refToPart(baseModelRef)
	if err != nil {
		return "", err
	}
	moodPart, err := bytesToPart(moodBoard)
	if err != nil {
		return "", err
	}
	return g.generate(ctx, sessionID, genimg.BuildMoodBoardPrompt(),
		[]genimg.ImagePart{modelPart, moodPart})
}

// Refine 按自由文本指令编辑当前展示图像
func (g *GenerationService) Refine(ctx context.Context, sessionID, sourceRef, instruction string) (string, error) {
	part, err := g.refToPart(sourceRef)
	if err != nil {
		return "", err
	}
	return g.generate(ctx, sessionID, genimg.BuildRefinePrompt(instruction), []genimg.ImagePart{part})
}
