// internal/services/outfit_service.go
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/mirrorwear/fitstudio/internal/errors"
	"github.com/mirrorwear/fitstudio/internal/models"
	"github.com/mirrorwear/fitstudio/internal/utils"
)

// GenerationNotifier 接收会话状态变更的推送接口
// 由API层的WebSocket管理器实现，通过SetNotifier注入以避免循环依赖
type GenerationNotifier interface {
	NotifySessionUpdate(sessionID string, snapshot *models.SessionSnapshot)
	NotifyGenerationError(sessionID string, message string)
}

// OutfitService 编排试衣会话的全部状态变换
//
// 并发协议（每个会话）:
//  1. 加锁做前置检查，拒绝在途状态下的新请求
//  2. 置Busy并记下当前Epoch，随后释放锁再做远程调用
//  3. 远程调用返回后重新加锁、清Busy
//  4. Epoch与记下的不一致说明会话已被重置，结果直接作废
//  5. 否则应用纯函数状态变换，产出新快照
type OutfitService struct {
	sessions  *SessionService
	generator *GenerationService
	logger    *utils.Logger
	metrics   *utils.MetricsCollector

	notifierMutex sync.RWMutex
	notifier      GenerationNotifier
}

// NewOutfitService 创建编排服务
func NewOutfitService(sessions *SessionService, generator *GenerationService) *OutfitService {
	return &OutfitService{
		sessions:  sessions,
		generator: generator,
		logger:    utils.GetLogger(),
		metrics:   utils.GetMetricsCollector(),
	}
}

// SetNotifier 注入推送接口
func (o *OutfitService) SetNotifier(n GenerationNotifier) {
	o.notifierMutex.Lock()
	defer o.notifierMutex.Unlock()
	o.notifier = n
}

func (o *OutfitService) notifyUpdate(sessionID string, snapshot *models.SessionSnapshot) {
	o.notifierMutex.RLock()
	n := o.notifier
	o.notifierMutex.RUnlock()
	if n != nil {
		n.NotifySessionUpdate(sessionID, snapshot)
	}
}

func (o *OutfitService) notifyError(sessionID, message string) {
	o.notifierMutex.RLock()
	n := o.notifier
	o.notifierMutex.RUnlock()
	if n != nil {
		n.NotifyGenerationError(sessionID, message)
	}
}

// applyKind 标记生成结果落地时的状态变换方式
type applyKind int

const (
	// applyInitialize 重建单层历史（模特图生成）
	applyInitialize applyKind = iota
	// applyAppendLayer 截断指针之后的层并追加新层（试穿）
	applyAppendLayer
	// applyOverwritePose 在指定层写入指定姿势的图像（姿势变体、修饰）
	applyOverwritePose
	// applyTruncateToBase 只保留基础层再追加（情绪板换装）
	applyTruncateToBase
)

// applyPayload 各变换方式的参数
type applyPayload struct {
	imageRef    string
	garment     *models.WardrobeItem
	poseLabel   string
	outfitIndex int
}

// applyResult 生成成功后的统一状态变换入口
// 所有写路径都经由这里，保证纯函数语义
func applyResult(state models.OutfitState, kind applyKind, p applyPayload) models.OutfitState {
	switch kind {
	case applyInitialize:
		return state.InitializeBase(p.imageRef)
	case applyAppendLayer:
		return state.TruncateAndAppend(models.NewOutfitLayer(p.garment, p.poseLabel, p.imageRef))
	case applyOverwritePose:
		return state.SetPoseImage(p.outfitIndex, p.poseLabel, p.imageRef)
	case applyTruncateToBase:
		return state.TruncateToBaseAndAppend(models.NewOutfitLayer(p.garment, p.poseLabel, p.imageRef))
	default:
		return state.Clone()
	}
}

// beginGeneration 完成前置检查并标记在途状态
// 返回会话指针和捕获的纪元号，调用方已不持有锁
func (o *OutfitService) beginGeneration(sessionID string) (*models.Session, uint64, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, 0, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if sess.Busy {
		return nil, 0, apperrors.NewBusyError("已有生成请求在进行中")
	}

	sess.Busy = true
	return sess, sess.Epoch, nil
}

// finishGeneration 清除在途标志并判断结果是否已过期
// 调用方需持有会话锁
func finishGeneration(sess *models.Session, epoch uint64) (stale bool) {
	sess.Busy = false
	return sess.Epoch != epoch
}

// CreateModel 由用户照片生成基础模特图并初始化穿搭历史
func (o *OutfitService) CreateModel(ctx context.Context, sessionID string, userPhoto []byte) (*models.SessionSnapshot, error) {
	sess, epoch, err := o.beginGeneration(sessionID)
	if err != nil {
		return nil, err
	}

	ref, genErr := o.generator.GenerateModel(ctx, sessionID, userPhoto)

	lock := o.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if finishGeneration(sess, epoch) {
		o.logger.Warnf("丢弃过期的模特图结果 (session=%s)", sessionID)
		return sess.Snapshot(), nil
	}

	if genErr != nil {
		sess.LastError = userMessage(genErr)
		sess.UpdatedAt = time.Now()
		o.notifyError(sessionID, sess.LastError)
		return nil, genErr
	}

	sess.BaseModelImage = ref
	sess.State = applyResult(sess.State, applyInitialize, applyPayload{imageRef: ref})
	sess.LastError = ""
	sess.UpdatedAt = time.Now()

	snapshot := sess.Snapshot()
	o.notifyUpdate(sessionID, snapshot)
	return snapshot, nil
}

// ApplyGarment 将衣橱中的服装穿到当前穿搭上
// 若目标服装恰好是历史中下一层的服装，直接前移指针，不做远程调用
func (o *OutfitService) ApplyGarment(ctx context.Context, sessionID, garmentID string) (*models.SessionSnapshot, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.Lock()

	if sess.Busy {
		lock.Unlock()
		return nil, apperrors.NewBusyError("已有生成请求在进行中")
	}
	if sess.State.IsEmpty() {
		lock.Unlock()
		return nil, apperrors.NewValidationError("请先生成模特图", nil)
	}

	garment, err := o.sessions.FindWardrobeItem(sess, garmentID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	// 缓存命中: 重新套用下一层已生成过的服装
	if sess.State.NextLayerGarmentID() == garmentID {
		sess.State = sess.State.AdvanceToNextLayer()
		sess.LastError = ""
		sess.UpdatedAt = time.Now()
		snapshot := sess.Snapshot()
		lock.Unlock()

		o.metrics.Counter("generation_cache_hits").Inc()
		if o.generator.stats != nil {
			o.generator.stats.RecordCacheHit()
		}
		o.notifyUpdate(sessionID, snapshot)
		return snapshot, nil
	}

	modelRef, ok := sess.State.DisplayImage()
	if !ok {
		lock.Unlock()
		return nil, apperrors.NewValidationError("当前穿搭没有可用图像", nil)
	}
	poseLabel := sess.State.CurrentPoseLabel()

	sess.Busy = true
	epoch := sess.Epoch
	lock.Unlock()

	ref, genErr := o.generator.TryOnGarment(ctx, sessionID, modelRef, garment)

	lock.Lock()
	defer lock.Unlock()

	if finishGeneration(sess, epoch) {
		o.logger.Warnf("丢弃过期的试穿结果 (session=%s)", sessionID)
		return sess.Snapshot(), nil
	}

	if genErr != nil {
		sess.LastError = userMessage(genErr)
		sess.UpdatedAt = time.Now()
		o.notifyError(sessionID, sess.LastError)
		return nil, genErr
	}

	sess.State = applyResult(sess.State, applyAppendLayer, applyPayload{
		imageRef:  ref,
		garment:   garment,
		poseLabel: poseLabel,
	})
	sess.LastError = ""
	sess.UpdatedAt = time.Now()

	snapshot := sess.Snapshot()
	o.notifyUpdate(sessionID, snapshot)
	return snapshot, nil
}

// RemoveLastLayer 指针后退一层（撤销），纯本地操作
// 历史内容保留，便于之后的缓存命中
func (o *OutfitService) RemoveLastLayer(sessionID string) (*models.SessionSnapshot, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if sess.Busy {
		return nil, apperrors.NewBusyError("已有生成请求在进行中")
	}

	sess.State = sess.State.MoveBack()
	sess.UpdatedAt = time.Now()

	snapshot := sess.Snapshot()
	o.notifyUpdate(sessionID, snapshot)
	return snapshot, nil
}

// SelectPose 切换当前穿搭的姿势
// 已有该姿势的图像时直接切换；否则乐观切换指针，失败时回退
func (o *OutfitService) SelectPose(ctx context.Context, sessionID string, poseIndex int) (*models.SessionSnapshot, error) {
	if poseIndex < 0 || poseIndex >= len(models.PoseInstructions) {
		return nil, apperrors.NewValidationError("姿势索引超出范围", nil)
	}

	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.Lock()

	if sess.Busy {
		lock.Unlock()
		return nil, apperrors.NewBusyError("已有生成请求在进行中")
	}
	if sess.State.IsEmpty() {
		lock.Unlock()
		return nil, apperrors.NewValidationError("请先生成模特图", nil)
	}

	// 目标即当前姿势: 无操作
	if poseIndex == sess.State.PoseIndex {
		snapshot := sess.Snapshot()
		lock.Unlock()
		return snapshot, nil
	}

	label := models.PoseInstructions[poseIndex]

	// 姿势图像已存在: 纯指针切换
	if sess.State.HasPoseImage(poseIndex) {
		sess.State = sess.State.WithPoseIndex(poseIndex)
		sess.UpdatedAt = time.Now()
		snapshot := sess.Snapshot()
		lock.Unlock()

		o.metrics.Counter("generation_cache_hits").Inc()
		if o.generator.stats != nil {
			o.generator.stats.RecordCacheHit()
		}
		o.notifyUpdate(sessionID, snapshot)
		return snapshot, nil
	}

	sourceRef, ok := sess.State.DisplayImage()
	if !ok {
		lock.Unlock()
		return nil, apperrors.NewValidationError("当前穿搭没有可用图像", nil)
	}

	prevPose := sess.State.PoseIndex
	outfitIndex := sess.State.OutfitIndex

	// 乐观更新: 指针先行切换，界面立即反馈
	sess.State = sess.State.WithPoseIndex(poseIndex)
	sess.Busy = true
	epoch := sess.Epoch
	optimistic := sess.Snapshot()
	lock.Unlock()

	o.notifyUpdate(sessionID, optimistic)

	ref, genErr := o.generator.PoseVariant(ctx, sessionID, sourceRef, label)

	lock.Lock()
	defer lock.Unlock()

	if finishGeneration(sess, epoch) {
		o.logger.Warnf("丢弃过期的姿势结果 (session=%s)", sessionID)
		return sess.Snapshot(), nil
	}

	if genErr != nil {
		// 回退乐观更新
		sess.State = sess.State.WithPoseIndex(prevPose)
		sess.LastError = userMessage(genErr)
		sess.UpdatedAt = time.Now()
		o.notifyError(sessionID, sess.LastError)
		return nil, genErr
	}

	sess.State = applyResult(sess.State, applyOverwritePose, applyPayload{
		imageRef:    ref,
		poseLabel:   label,
		outfitIndex: outfitIndex,
	})
	sess.LastError = ""
	sess.UpdatedAt = time.Now()

	snapshot := sess.Snapshot()
	o.notifyUpdate(sessionID, snapshot)
	return snapshot, nil
}

// ApplyMoodBoard 依据情绪板图像整体换装
// 参照的是最初的基础模特图，结果替换基础层之上的全部历史
func (o *OutfitService) ApplyMoodBoard(ctx context.Context, sessionID string, moodBoard []byte, name string) (*models.SessionSnapshot, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.Lock()

	if sess.Busy {
		lock.Unlock()
		return nil, apperrors.NewBusyError("已有生成请求在进行中")
	}
	if sess.State.IsEmpty() || sess.BaseModelImage == "" {
		lock.Unlock()
		return nil, apperrors.NewValidationError("请先生成模特图", nil)
	}

	baseRef := sess.BaseModelImage
	sess.Busy = true
	epoch := sess.Epoch
	lock.Unlock()

	// 情绪板本身也落盘，作为合成层条目的参照图像
	moodRef, saveErr := o.saveMoodBoard(sessionID, moodBoard)
	var ref string
	var genErr error
	if saveErr != nil {
		genErr = saveErr
	} else {
		ref, genErr = o.generator.MoodBoardRestyle(ctx, sessionID, baseRef, moodBoard)
	}

	lock.Lock()
	defer lock.Unlock()

	if finishGeneration(sess, epoch) {
		o.logger.Warnf("丢弃过期的情绪板结果 (session=%s)", sessionID)
		return sess.Snapshot(), nil
	}

	if genErr != nil {
		sess.LastError = userMessage(genErr)
		sess.UpdatedAt = time.Now()
		o.notifyError(sessionID, sess.LastError)
		return nil, genErr
	}

	if name == "" {
		name = "Mood board look"
	}
	item := &models.WardrobeItem{
		ID:        "mood-" + uuid.NewString(),
		Name:      name,
		ImageRef:  moodRef,
		Source:    models.SourceMoodBoard,
		CreatedAt: time.Now(),
	}
	sess.State = applyResult(sess.State, applyTruncateToBase, applyPayload{
		imageRef:  ref,
		garment:   item,
		poseLabel: models.PoseInstructions[0],
	})
	sess.LastError = ""
	sess.UpdatedAt = time.Now()

	snapshot := sess.Snapshot()
	o.notifyUpdate(sessionID, snapshot)
	return snapshot, nil
}

func (o *OutfitService) saveMoodBoard(sessionID string, data []byte) (string, error) {
	img, err := newValidatedImage(data)
	if err != nil {
		return "", err
	}
	return o.generator.SaveImage(sessionID, img.Data(), img.MimeType())
}

// RefineWithInstruction 按自由文本指令编辑当前展示图像
// 失败走内联通道: 不写入会话的LastError，由调用方随响应返回
func (o *OutfitService) RefineWithInstruction(ctx context.Context, sessionID, instruction string) (*models.SessionSnapshot, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, apperrors.NewValidationError("修饰指令不能为空", nil)
	}

	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.Lock()

	if sess.Busy {
		lock.Unlock()
		return nil, apperrors.NewBusyError("已有生成请求在进行中")
	}
	if sess.State.IsEmpty() {
		lock.Unlock()
		return nil, apperrors.NewValidationError("请先生成模特图", nil)
	}

	sourceRef, ok := sess.State.DisplayImage()
	if !ok {
		lock.Unlock()
		return nil, apperrors.NewValidationError("当前穿搭没有可用图像", nil)
	}
	label := sess.State.CurrentPoseLabel()
	outfitIndex := sess.State.OutfitIndex

	sess.Busy = true
	epoch := sess.Epoch
	lock.Unlock()

	ref, genErr := o.generator.Refine(ctx, sessionID, sourceRef, instruction)

	lock.Lock()
	defer lock.Unlock()

	if finishGeneration(sess, epoch) {
		o.logger.Warnf("丢弃过期的修饰结果 (session=%s)", sessionID)
		return sess.Snapshot(), nil
	}

	if genErr != nil {
		// 内联错误通道，会话状态保持不变
		sess.UpdatedAt = time.Now()
		return sess.Snapshot(), genErr
	}

	sess.State = applyResult(sess.State, applyOverwritePose, applyPayload{
		imageRef:    ref,
		poseLabel:   label,
		outfitIndex: outfitIndex,
	})
	sess.UpdatedAt = time.Now()

	snapshot := sess.Snapshot()
	o.notifyUpdate(sessionID, snapshot)
	return snapshot, nil
}

// UploadGarment 保存上传的服装图像并加入衣橱
func (o *OutfitService) UploadGarment(sessionID, name string, data []byte) (*models.SessionSnapshot, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	img, err := newValidatedImage(data)
	if err != nil {
		return nil, err
	}

	ref, err := o.generator.SaveImage(sessionID, img.Data(), img.MimeType())
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = "Custom garment"
	}
	if _, err := o.sessions.AddWardrobeItem(sessionID, name, ref, models.SourceUpload); err != nil {
		return nil, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.RLock()
	snapshot := sess.Snapshot()
	lock.RUnlock()

	o.notifyUpdate(sessionID, snapshot)
	return snapshot, nil
}

// GenerationHistory 返回去重后的全部已生成图像记录
func (o *OutfitService) GenerationHistory(sessionID string) ([]models.GenerationRecord, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.RLock()
	defer lock.RUnlock()

	return sess.State.GenerationHistory(), nil
}

// StartOver 重置会话: 清空穿搭历史和基础模特图，保留衣橱
// 纪元号递增，使任何在途请求的结果作废；磁盘图像保留
func (o *OutfitService) StartOver(sessionID string) (*models.SessionSnapshot, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	lock := o.sessions.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess.Epoch++
	sess.Busy = false
	sess.State = models.NewOutfitState()
	sess.BaseModelImage = ""
	sess.LastError = ""
	sess.UpdatedAt = time.Now()

	snapshot := sess.Snapshot()
	o.notifyUpdate(sessionID, snapshot)
	return snapshot, nil
}

// userMessage 提取用户可见的错误消息
func userMessage(err error) string {
	if appErr, ok := err.(*apperrors.AppError); ok {
		return appErr.Message
	}
	return "图像生成失败，请重试"
}
