// internal/genimg/providers/gemini/gemini.go
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/mirrorwear/fitstudio/internal/genimg"
)

func init() {
	genimg.Register("gemini", func() genimg.Provider {
		return &Provider{
			models: []string{
				"gemini-2.5-flash-image-preview",
				"gemini-2.0-flash-preview-image-generation",
			},
		}
	})
}

// Provider 通过 Gemini API（API Key 模式）生成图像
type Provider struct {
	apiKey       string
	defaultModel string
	models       []string

	client *genai.Client
	mutex  sync.RWMutex
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("gemini api密钥未提供")
	}

	p.apiKey = apiKey

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gemini-2.5-flash-image-preview"
	}

	return nil
}

func (p *Provider) GetName() string {
	return "gemini"
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

// getClient 惰性创建客户端（双重检查锁）
func (p *Provider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mutex.RLock()
	if p.client != nil {
		defer p.mutex.RUnlock()
		return p.client, nil
	}
	p.mutex.RUnlock()

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: p.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("创建Gemini客户端失败: %w", err)
	}

	p.client = client
	return p.client, nil
}

func (p *Provider) GenerateImage(ctx context.Context, req genimg.GenerationRequest) (*genimg.GenerationResult, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
	}
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: img.MimeType,
				Data:     img.Data,
			},
		})
	}

	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	// gemini-2.5-flash-image-preview 不支持多候选，也不支持MediaResolution
	resp, err := client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return nil, fmt.Errorf("调用Gemini生成失败: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("Gemini未返回任何候选内容")
	}

	result := &genimg.GenerationResult{
		ModelName:    model,
		ProviderName: p.GetName(),
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			result.Text = part.Text
		} else if part.InlineData != nil {
			result.ImageData = part.InlineData.Data
			result.MimeType = part.InlineData.MIMEType
		}
	}

	if len(result.ImageData) == 0 {
		// 模型偶尔只回文字（例如拒绝生成），视为生成失败
		return nil, fmt.Errorf("Gemini未返回图像数据: %s", result.Text)
	}

	return result, nil
}
