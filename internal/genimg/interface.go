// internal/genimg/interface.go
package genimg

import (
	"context"
	"errors"
)

// 错误定义
var ErrUnknownProvider = errors.New("未知的图像生成提供者")

// ImagePart 一张作为生成输入的内联图像
type ImagePart struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// GenerationRequest 请求参数标准化
// 一条文本指令加零或多张参照图像
type GenerationRequest struct {
	Prompt      string                 `json:"prompt"`
	Images      []ImagePart            `json:"-"`
	Model       string                 `json:"model,omitempty"`
	ExtraParams map[string]interface{} `json:"extra_params,omitempty"`
}

// GenerationResult 响应结构标准化
type GenerationResult struct {
	ImageData    []byte `json:"-"`
	MimeType     string `json:"mime_type"`
	Text         string `json:"text,omitempty"` // 模型附带的文字说明（如有）
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// Provider 定义所有图像生成提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 获取支持的模型列表
	GetSupportedModels() []string

	// 图像生成：参照图像加指令，返回一张新图像或失败
	GenerateImage(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// 注册表和工厂函数类型
type ProviderFactory func() Provider

var providers = make(map[string]ProviderFactory)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider 创建指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	err := provider.Initialize(config)
	return provider, err
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}

// GetSupportedModelsForProvider 获取指定提供商支持的模型列表
func GetSupportedModelsForProvider(name string) []string {
	factory, exists := providers[name]
	if !exists {
		return []string{}
	}

	provider := factory()
	return provider.GetSupportedModels()
}
