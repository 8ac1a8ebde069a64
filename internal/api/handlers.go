// internal/api/handlers.go
package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mirrorwear/fitstudio/internal/errors"
	"github.com/mirrorwear/fitstudio/internal/services"
	"github.com/mirrorwear/fitstudio/internal/utils"
)

// 上传图像的大小上限
const maxUploadBytes = 15 << 20 // 15MB

// Handler 处理API请求
type Handler struct {
	SessionService    *services.SessionService    // 会话服务
	OutfitService     *services.OutfitService     // 穿搭编排服务
	GenerationService *services.GenerationService // 图像生成服务
	ConfigService     *services.ConfigService     // 配置服务
	StatsService      *services.StatsService      // 统计服务
	Response          *ResponseHelper             // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	sessionService *services.SessionService,
	outfitService *services.OutfitService,
	generationService *services.GenerationService,
	configService *services.ConfigService,
	statsService *services.StatsService,
) *Handler {
	return &Handler{
		SessionService:    sessionService,
		OutfitService:     outfitService,
		GenerationService: generationService,
		ConfigService:     configService,
		StatsService:      statsService,
		Response:          NewResponseHelper(),
	}
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ApplyGarmentRequest 试穿请求结构
type ApplyGarmentRequest struct {
	ItemID string `json:"item_id"` // 衣橱条目ID
}

// SelectPoseRequest 姿势切换请求结构
type SelectPoseRequest struct {
	PoseIndex int `json:"pose_index"` // 目标姿势索引
}

// RefineRequest 修饰请求结构
type RefineRequest struct {
	Instruction string `json:"instruction"` // 自由文本修饰指令
}

// SaveSettingsRequest 设置更新请求结构
type SaveSettingsRequest struct {
	Provider string            `json:"provider"`
	Config   map[string]string `json:"config"`
}

// ------------------------------------------------
// 页面路由
// ------------------------------------------------

// IndexPage 渲染试衣间主页面
func (h *Handler) IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title": "FitStudio",
	})
}

// SettingsPage 渲染设置页面
func (h *Handler) SettingsPage(c *gin.Context) {
	c.HTML(http.StatusOK, "settings.html", gin.H{
		"title": "FitStudio - 设置",
	})
}

// ------------------------------------------------
// 会话管理
// ------------------------------------------------

// CreateSession 创建新的试衣会话
func (h *Handler) CreateSession(c *gin.Context) {
	snapshot := h.SessionService.CreateSession()
	h.Response.Created(c, snapshot, "会话创建成功")
}

// GetSession 返回会话快照
func (h *Handler) GetSession(c *gin.Context) {
	snapshot, err := h.SessionService.Snapshot(c.Param("id"))
	if err != nil {
		h.Response.NotFound(c, "会话")
		return
	}
	h.Response.Success(c, snapshot)
}

// ResetSession 重新开始: 清空穿搭历史，保留衣橱
func (h *Handler) ResetSession(c *gin.Context) {
	snapshot, err := h.OutfitService.StartOver(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, snapshot, "会话已重置")
}

// ------------------------------------------------
// 模特图与衣橱
// ------------------------------------------------

// readUploadedImage 读取multipart表单中的图像文件
func (h *Handler) readUploadedImage(c *gin.Context, field string) ([]byte, *multipart.FileHeader, bool) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid, "缺少图像文件: "+field)
		return nil, nil, false
	}
	if fileHeader.Size > maxUploadBytes {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileInvalid, "图像文件过大")
		return nil, nil, false
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorFileUploadFailed, "读取上传文件失败")
		return nil, nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil || int64(len(data)) > maxUploadBytes {
		h.Response.Error(c, http.StatusBadRequest, ErrorFileUploadFailed, "读取上传文件失败")
		return nil, nil, false
	}

	return data, fileHeader, true
}

// CreateModel 上传用户照片并生成基础模特图
func (h *Handler) CreateModel(c *gin.Context) {
	data, _, ok := h.readUploadedImage(c, "photo")
	if !ok {
		return
	}

	snapshot, err := h.OutfitService.CreateModel(c.Request.Context(), c.Param("id"), data)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, snapshot, "模特图生成成功")
}

// UploadGarment 上传服装图像加入衣橱
func (h *Handler) UploadGarment(c *gin.Context) {
	data, fileHeader, ok := h.readUploadedImage(c, "image")
	if !ok {
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = fileHeader.Filename
	}

	snapshot, err := h.OutfitService.UploadGarment(c.Param("id"), name, data)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Created(c, snapshot, "服装已加入衣橱")
}

// GetWardrobe 返回会话衣橱列表
func (h *Handler) GetWardrobe(c *gin.Context) {
	snapshot, err := h.SessionService.Snapshot(c.Param("id"))
	if err != nil {
		h.Response.NotFound(c, "会话")
		return
	}
	h.Response.Success(c, gin.H{"items": snapshot.Wardrobe})
}

// ------------------------------------------------
// 穿搭操作
// ------------------------------------------------

// ApplyGarment 试穿衣橱中的一件服装
func (h *Handler) ApplyGarment(c *gin.Context) {
	var req ApplyGarmentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ItemID == "" {
		h.Response.BadRequest(c, "无效的请求参数", "item_id 不能为空")
		return
	}

	snapshot, err := h.OutfitService.ApplyGarment(c.Request.Context(), c.Param("id"), req.ItemID)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, snapshot)
}

// UndoLayer 撤销最近一层试穿
func (h *Handler) UndoLayer(c *gin.Context) {
	snapshot, err := h.OutfitService.RemoveLastLayer(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, snapshot)
}

// SelectPose 切换当前穿搭的姿势
func (h *Handler) SelectPose(c *gin.Context) {
	var req SelectPoseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数")
		return
	}

	snapshot, err := h.OutfitService.SelectPose(c.Request.Context(), c.Param("id"), req.PoseIndex)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, snapshot)
}

// ApplyMoodBoard 上传情绪板图像并整体换装
func (h *Handler) ApplyMoodBoard(c *gin.Context) {
	data, fileHeader, ok := h.readUploadedImage(c, "image")
	if !ok {
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = fileHeader.Filename
	}

	snapshot, err := h.OutfitService.ApplyMoodBoard(c.Request.Context(), c.Param("id"), data, name)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, snapshot)
}

// Refine 按自由文本指令修饰当前展示图像
// 生成失败走内联通道: 返回200，错误消息随当前快照一起返回
func (h *Handler) Refine(c *gin.Context) {
	var req RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数")
		return
	}

	snapshot, err := h.OutfitService.RefineWithInstruction(c.Request.Context(), c.Param("id"), req.Instruction)
	if err != nil {
		if apperrors.IsGenerationError(err) && snapshot != nil {
			h.Response.Success(c, gin.H{
				"session":      snapshot,
				"refine_error": err.(*apperrors.AppError).Message,
			})
			return
		}
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, snapshot)
}

// GetHistory 返回会话的全部已生成图像记录
func (h *Handler) GetHistory(c *gin.Context) {
	records, err := h.OutfitService.GenerationHistory(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"records": records})
}

// DownloadCurrentLook 下载当前展示图像
func (h *Handler) DownloadCurrentLook(c *gin.Context) {
	snapshot, err := h.SessionService.Snapshot(c.Param("id"))
	if err != nil {
		h.Response.NotFound(c, "会话")
		return
	}
	if snapshot.DisplayImage == "" {
		h.Response.NotFound(c, "文件", "当前没有可下载的图像")
		return
	}

	img, err := h.GenerationService.LoadImageByRef(snapshot.DisplayImage)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}

	h.Response.FileResponse(c, img.Data(), "fitstudio-look."+img.Extension(), img.MimeType())
}

// ------------------------------------------------
// 图像服务
// ------------------------------------------------

// ServeImage 按引用路径返回生成或上传的图像
func (h *Handler) ServeImage(c *gin.Context) {
	ref := "/images/" + c.Param("session_id") + "/" + c.Param("file")

	img, err := h.GenerationService.LoadImageByRef(ref)
	if err != nil {
		h.Response.NotFound(c, "文件")
		return
	}

	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, img.MimeType(), img.Data())
}

// ------------------------------------------------
// 设置与提供者管理
// ------------------------------------------------

// GetSettings 返回当前提供者设置
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, h.ConfigService.GetSettings())
}

// SaveSettings 更新提供者设置
func (h *Handler) SaveSettings(c *gin.Context) {
	var req SaveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数")
		return
	}

	if err := h.ConfigService.UpdateSettings(req.Provider, req.Config); err != nil {
		if apperrors.IsValidationError(err) {
			h.Response.Error(c, http.StatusBadRequest, ErrorProviderConfigInvalid,
				err.(*apperrors.AppError).Message)
			return
		}
		h.Response.AppError(c, err)
		return
	}

	h.Response.Success(c, h.ConfigService.GetSettings(), "设置已保存")
}

// TestConnection 验证当前提供者配置可用
func (h *Handler) TestConnection(c *gin.Context) {
	if err := h.ConfigService.TestConnection(); err != nil {
		h.Response.Error(c, http.StatusBadGateway, ErrorConnectionFailed,
			err.(*apperrors.AppError).Message)
		return
	}
	h.Response.Success(c, gin.H{"connected": true}, "连接测试成功")
}

// GetProviderStatus 返回图像生成提供者状态
func (h *Handler) GetProviderStatus(c *gin.Context) {
	settings := h.ConfigService.GetSettings()
	h.Response.Success(c, gin.H{
		"provider":   settings.Provider,
		"model":      settings.Model,
		"configured": settings.Configured,
		"active":     h.GenerationService.ProviderName(),
	})
}

// UpdateProviderConfig 更新提供者配置（设置面板的PUT入口）
func (h *Handler) UpdateProviderConfig(c *gin.Context) {
	h.SaveSettings(c)
}

// ------------------------------------------------
// 统计与调试
// ------------------------------------------------

// GetStats 返回生成使用统计
func (h *Handler) GetStats(c *gin.Context) {
	stats := h.StatsService.GetStats()
	h.Response.Success(c, gin.H{
		"usage":    stats,
		"sessions": h.SessionService.Count(),
	})
}

// GetMetrics 返回进程内指标快照（调试用）
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, utils.GetMetricsCollector().Snapshot())
}

// GetWebSocketStatus 返回WebSocket连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := wsManager.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)
	c.JSON(http.StatusOK, status)
}

// SessionWebSocket 升级为会话事件订阅连接
func (h *Handler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.SessionService.Get(sessionID); err != nil {
		h.Response.NotFound(c, "会话")
		return
	}

	if err := wsManager.ServeSession(c.Writer, c.Request, sessionID); err != nil {
		utils.GetLogger().Errorf("WebSocket 升级失败: %v", err)
	}
}
