// internal/services/config_service.go
package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mirrorwear/fitstudio/internal/config"
	apperrors "github.com/mirrorwear/fitstudio/internal/errors"
	"github.com/mirrorwear/fitstudio/internal/genimg"
)

// ProviderStatus 设置页面展示的提供者状态
type ProviderStatus struct {
	Provider           string   `json:"provider"`
	Model              string   `json:"model"`
	Configured         bool     `json:"configured"`
	APIKeyMasked       string   `json:"api_key_masked,omitempty"`
	AvailableProviders []string `json:"available_providers"`
	SupportedModels    []string `json:"supported_models"`
}

// ConfigService 管理图像生成提供者的运行时配置
type ConfigService struct {
	generator *GenerationService
}

// NewConfigService 创建配置服务
func NewConfigService(generator *GenerationService) *ConfigService {
	return &ConfigService{generator: generator}
}

// GetSettings 返回当前提供者设置，API密钥做掩码处理
func (c *ConfigService) GetSettings() *ProviderStatus {
	cfg := config.GetCurrentConfig()

	available := genimg.ListProviders()
	sort.Strings(available)

	apiKey := cfg.ProviderConfig["api_key"]
	return &ProviderStatus{
		Provider:           cfg.ImageProvider,
		Model:              cfg.ProviderConfig["default_model"],
		Configured:         c.isConfigured(cfg),
		APIKeyMasked:       maskAPIKey(apiKey),
		AvailableProviders: available,
		SupportedModels:    genimg.GetSupportedModelsForProvider(cfg.ImageProvider),
	}
}

// isConfigured 判断当前提供者是否具备必要配置
func (c *ConfigService) isConfigured(cfg *config.AppConfig) bool {
	switch cfg.ImageProvider {
	case "vertex":
		return cfg.ProviderConfig["project_id"] != ""
	default:
		return cfg.ProviderConfig["api_key"] != ""
	}
}

// UpdateSettings 更新提供者配置并使缓存的提供者实例失效
// 新配置中未填的API密钥沿用已保存的值（前端只回显掩码）
func (c *ConfigService) UpdateSettings(provider string, providerConfig map[string]string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return apperrors.NewValidationError("提供者名称不能为空", nil)
	}

	registered := false
	for _, name := range genimg.ListProviders() {
		if name == provider {
			registered = true
			break
		}
	}
	if !registered {
		return apperrors.NewValidationError(
			fmt.Sprintf("未知的图像生成提供者: %s", provider), genimg.ErrUnknownProvider)
	}

	if providerConfig == nil {
		providerConfig = map[string]string{}
	}
	current := config.GetCurrentConfig()
	if providerConfig["api_key"] == "" && current.ImageProvider == provider {
		providerConfig["api_key"] = current.ProviderConfig["api_key"]
	}

	if err := config.UpdateProviderConfig(provider, providerConfig); err != nil {
		return apperrors.WrapError(err, "保存配置失败", apperrors.ErrorTypeError)
	}

	c.generator.ReloadProvider()
	return nil
}

// TestConnection 用当前配置实例化提供者，验证配置可用
func (c *ConfigService) TestConnection() error {
	cfg := config.GetCurrentConfig()
	if _, err := genimg.GetProvider(cfg.ImageProvider, cfg.ProviderConfig); err != nil {
		return apperrors.NewGenerationError(
			fmt.Sprintf("提供者 %s 连接测试失败", cfg.ImageProvider), err)
	}
	return nil
}

// maskAPIKey 只保留密钥首尾各4个字符
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
