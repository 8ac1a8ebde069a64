// internal/genimg/providers/vertex/vertex.go
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/mirrorwear/fitstudio/internal/genimg"
)

func init() {
	genimg.Register("vertex", func() genimg.Provider {
		return &Provider{
			models: []string{
				"gemini-2.5-flash-image-preview",
				"gemini-2.0-flash-001",
			},
		}
	})
}

// Provider 通过 Vertex AI（项目/区域模式）生成图像
// 适用于凭据走服务账号而非API Key的部署环境
type Provider struct {
	projectID    string
	location     string
	defaultModel string
	models       []string

	client *genai.Client
	mutex  sync.RWMutex
}

func (p *Provider) Initialize(config map[string]string) error {
	projectID, exists := config["project_id"]
	if !exists || projectID == "" {
		return errors.New("vertex project_id未提供")
	}
	p.projectID = projectID

	if location, exists := config["location"]; exists && location != "" {
		p.location = location
	} else {
		p.location = "us-central1"
	}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gemini-2.5-flash-image-preview"
	}

	return nil
}

func (p *Provider) GetName() string {
	return "vertex"
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

	endpoint := fmt.Sprintf("%s-aiplatform.googleapis.com:443", p.location)
	client, err := genai.NewClient(ctx, p.projectID, p.location, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("创建VertexAI客户端失败: %w", err)
	}

	p.client = client
	return p.client, nil
}

func (p *Provider) GenerateImage(ctx context.Context, req genimg.GenerationRequest) (*genimg.GenerationResult, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = p.defaultModel
	}
	model := client.GenerativeModel(modelName)

	parts := []genai.Part{genai.Text(req.Prompt)}
	for _, img := range req.Images {
		parts = append(parts, genai.Blob{
			MIMEType: img.MimeType,
			Data:     img.Data,
		})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("调用VertexAI生成失败: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("VertexAI未返回任何候选内容")
	}

	result := &genimg.GenerationResult{
		ModelName:    modelName,
		ProviderName: p.GetName(),
	}

	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		switch v := part.(type) {
		case genai.Text:
			texts = append(texts, string(v))
		case genai.Blob:
			result.ImageData = v.Data
			result.MimeType = v.MIMEType
		}
	}
	result.Text = strings.Join(texts, "\n")

	if len(result.ImageData) == 0 {
		return nil, fmt.Errorf("VertexAI未返回图像数据: %s", result.Text)
	}

	return result, nil
}
