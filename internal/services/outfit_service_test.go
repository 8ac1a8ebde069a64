// internal/services/outfit_service_test.go
package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	apperrors "github.com/mirrorwear/fitstudio/internal/errors"
	"github.com/mirrorwear/fitstudio/internal/genimg"
	"github.com/mirrorwear/fitstudio/internal/models"
	"github.com/mirrorwear/fitstudio/internal/storage"
)

// fakeProvider 可编程的图像生成提供者，用于服务层测试
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	inputs  []int // 每次调用的参照图像数量

	failWith error
	started  chan struct{} // 非nil时每次调用开始前发送信号
	release  chan struct{} // 非nil时调用阻塞直到该通道关闭
}

func (f *fakeProvider) Initialize(config map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                           { return "fake" }
func (f *fakeProvider) GetSupportedModels() []string              { return []string{"fake-model"} }

func (f *fakeProvider) GenerateImage(ctx context.Context, req genimg.GenerationRequest) (*genimg.GenerationResult, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	f.inputs = append(f.inputs, len(req.Images))

	if f.failWith != nil {
		return nil, f.failWith
	}
	return &genimg.GenerationResult{
		ImageData:    testJPEG(),
		MimeType:     "image/jpeg",
		ProviderName: "fake",
	}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testJPEG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func newTestEnv(t *testing.T) (*OutfitService, *SessionService, *fakeProvider) {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}

	fp := &fakeProvider{}
	gen := NewGenerationService(fs, nil)
	gen.provider = fp
	gen.providerName = "fake"

	sessions := NewSessionService()
	outfit := NewOutfitService(sessions, gen)
	return outfit, sessions, fp
}

// newModelSession 创建会话并完成模特图生成
func newModelSession(t *testing.T, outfit *OutfitService, sessions *SessionService) string {
	t.Helper()

	snap := sessions.CreateSession()
	result, err := outfit.CreateModel(context.Background(), snap.ID, testJPEG())
	if err != nil {
		t.Fatalf("生成模特图失败: %v", err)
	}
	if result.BaseModelImage == "" {
		t.Fatal("基础模特图引用不应为空")
	}
	return snap.ID
}

// addGarment 向会话衣橱注入一件可加载的服装
func addGarment(t *testing.T, outfit *OutfitService, sessionID, name string) string {
	t.Helper()

	snap, err := outfit.UploadGarment(sessionID, name, testJPEG())
	if err != nil {
		t.Fatalf("上传服装失败: %v", err)
	}
	for _, item := range snap.Wardrobe {
		if item.Name == name {
			return item.ID
		}
	}
	t.Fatalf("衣橱中找不到上传的服装 %s", name)
	return ""
}

func TestCreateModelInitializesHistory(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	snap := sessions.CreateSession()

	result, err := outfit.CreateModel(context.Background(), snap.ID, testJPEG())
	if err != nil {
		t.Fatalf("生成模特图失败: %v", err)
	}

	if len(result.State.History) != 1 {
		t.Errorf("期望历史长度为1, 实际 %d", len(result.State.History))
	}
	if result.State.OutfitIndex != 0 || result.State.PoseIndex != 0 {
		t.Errorf("指针应归零, 实际 outfit=%d pose=%d", result.State.OutfitIndex, result.State.PoseIndex)
	}
	if result.DisplayImage == "" {
		t.Error("展示图像不应为空")
	}
	if result.BaseModelImage != result.DisplayImage {
		t.Error("初始展示图像应等于基础模特图")
	}
	if fp.callCount() != 1 {
		t.Errorf("期望1次远程调用, 实际 %d", fp.callCount())
	}
}

func TestApplyGarmentAppendsLayer(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Denim Jacket")

	before := fp.callCount()
	result, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID)
	if err != nil {
		t.Fatalf("试穿失败: %v", err)
	}

	if len(result.State.History) != 2 {
		t.Fatalf("期望历史长度为2, 实际 %d", len(result.State.History))
	}
	if result.State.OutfitIndex != 1 {
		t.Errorf("指针应指向新层, 实际 %d", result.State.OutfitIndex)
	}
	layer := result.State.History[1]
	if layer.Garment == nil || layer.Garment.ID != garmentID {
		t.Error("新层应记录所穿服装")
	}
	if fp.callCount() != before+1 {
		t.Errorf("期望恰好1次新的远程调用, 实际 %d", fp.callCount()-before)
	}
}

func TestUndoAtBaseIsNoop(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)

	result, err := outfit.RemoveLastLayer(sessionID)
	if err != nil {
		t.Fatalf("撤销失败: %v", err)
	}
	if result.State.OutfitIndex != 0 || len(result.State.History) != 1 {
		t.Errorf("基础层撤销应为无操作, 实际 index=%d len=%d",
			result.State.OutfitIndex, len(result.State.History))
	}
}

// 场景: 试穿 -> 撤销 -> 重新套用同一服装应命中缓存
func TestReapplySameGarmentIsCacheHit(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Gemini Sweat")

	if _, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID); err != nil {
		t.Fatalf("首次试穿失败: %v", err)
	}

	undone, err := outfit.RemoveLastLayer(sessionID)
	if err != nil {
		t.Fatalf("撤销失败: %v", err)
	}
	if undone.State.OutfitIndex != 0 {
		t.Fatalf("撤销后指针应为0, 实际 %d", undone.State.OutfitIndex)
	}
	if len(undone.State.History) != 2 {
		t.Fatalf("撤销不应删除历史, 实际长度 %d", len(undone.State.History))
	}

	before := fp.callCount()
	result, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID)
	if err != nil {
		t.Fatalf("重新套用失败: %v", err)
	}

	if fp.callCount() != before {
		t.Errorf("缓存命中不应触发远程调用, 新增调用 %d", fp.callCount()-before)
	}
	if result.State.OutfitIndex != 1 {
		t.Errorf("指针应前移至1, 实际 %d", result.State.OutfitIndex)
	}
	if result.State.PoseIndex != 0 {
		t.Errorf("缓存命中后姿势指针应归零, 实际 %d", result.State.PoseIndex)
	}
}

func TestApplyDifferentGarmentTruncates(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	first := addGarment(t, outfit, sessionID, "Jacket")
	second := addGarment(t, outfit, sessionID, "Hoodie")

	if _, err := outfit.ApplyGarment(context.Background(), sessionID, first); err != nil {
		t.Fatalf("首次试穿失败: %v", err)
	}
	if _, err := outfit.RemoveLastLayer(sessionID); err != nil {
		t.Fatalf("撤销失败: %v", err)
	}

	result, err := outfit.ApplyGarment(context.Background(), sessionID, second)
	if err != nil {
		t.Fatalf("试穿第二件失败: %v", err)
	}

	if len(result.State.History) != 2 {
		t.Fatalf("截断后历史长度应为2, 实际 %d", len(result.State.History))
	}
	if got := result.State.History[1].GarmentID(); got != second {
		t.Errorf("被截断的层应被新服装替换, 实际 %s", got)
	}
}

func TestSelectPoseGeneratesThenCaches(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)

	before := fp.callCount()
	result, err := outfit.SelectPose(context.Background(), sessionID, 2)
	if err != nil {
		t.Fatalf("切换姿势失败: %v", err)
	}
	if fp.callCount() != before+1 {
		t.Fatalf("新姿势应触发1次远程调用, 实际 %d", fp.callCount()-before)
	}
	if result.State.PoseIndex != 2 {
		t.Errorf("姿势指针应为2, 实际 %d", result.State.PoseIndex)
	}

	// 回到初始姿势: 图像已存在，不应有远程调用
	before = fp.callCount()
	if _, err = outfit.SelectPose(context.Background(), sessionID, 0); err != nil {
		t.Fatalf("切回姿势失败: %v", err)
	}
	if fp.callCount() != before {
		t.Errorf("已有姿势图像不应触发远程调用")
	}

	// 再次切到姿势2: 同样命中缓存
	before = fp.callCount()
	if _, err = outfit.SelectPose(context.Background(), sessionID, 2); err != nil {
		t.Fatalf("再次切换姿势失败: %v", err)
	}
	if fp.callCount() != before {
		t.Errorf("重复姿势切换不应触发远程调用")
	}
}

func TestSelectPoseRevertsOnFailure(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)

	fp.failWith = errors.New("provider exploded")
	_, err := outfit.SelectPose(context.Background(), sessionID, 3)
	if err == nil {
		t.Fatal("期望生成失败错误")
	}
	if !apperrors.IsGenerationError(err) {
		t.Errorf("期望生成错误类型, 实际 %v", err)
	}

	snap, err := sessions.Snapshot(sessionID)
	if err != nil {
		t.Fatalf("读取快照失败: %v", err)
	}
	if snap.State.PoseIndex != 0 {
		t.Errorf("失败后姿势指针应回退为0, 实际 %d", snap.State.PoseIndex)
	}
	if snap.Busy {
		t.Error("失败后在途标志应清除")
	}
	if snap.LastError == "" {
		t.Error("失败后应设置横幅错误消息")
	}
}

func TestSelectPoseSameIndexIsNoop(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Blazer")

	if _, err := outfit.SelectPose(context.Background(), sessionID, 1); err != nil {
		t.Fatalf("切换姿势失败: %v", err)
	}
	if _, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID); err != nil {
		t.Fatalf("试穿失败: %v", err)
	}

	// 试穿后姿势指针已归零，但新层只有试穿时姿势标签下的图像
	// 选择当前姿势必须是无操作，即使该标签下没有图像
	before := fp.callCount()
	result, err := outfit.SelectPose(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("选择当前姿势失败: %v", err)
	}
	if fp.callCount() != before {
		t.Errorf("选择当前姿势应为无操作, 实际触发 %d 次远程调用", fp.callCount()-before)
	}
	if result.State.PoseIndex != 0 {
		t.Errorf("姿势指针应保持0, 实际 %d", result.State.PoseIndex)
	}
	if result.DisplayImage == "" {
		t.Error("无操作路径仍应返回可展示图像")
	}
}

func TestBusyRequestRejected(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Coat")

	sess, err := sessions.Get(sessionID)
	if err != nil {
		t.Fatalf("获取会话失败: %v", err)
	}
	lock := sessions.Lock(sessionID)
	lock.Lock()
	sess.Busy = true
	lock.Unlock()

	_, err = outfit.ApplyGarment(context.Background(), sessionID, garmentID)
	if !apperrors.IsBusyError(err) {
		t.Errorf("在途状态下新请求应被拒绝, 实际 %v", err)
	}

	if _, err = outfit.RemoveLastLayer(sessionID); !apperrors.IsBusyError(err) {
		t.Errorf("在途状态下撤销应被拒绝, 实际 %v", err)
	}
}

// 重新开始必须使在途请求的结果作废
func TestStartOverDiscardsInFlightResult(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Scarf")

	fp.started = make(chan struct{}, 1)
	fp.release = make(chan struct{})

	done := make(chan *models.SessionSnapshot, 1)
	go func() {
		snap, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID)
		if err != nil {
			t.Errorf("过期结果应被静默丢弃而非报错: %v", err)
		}
		done <- snap
	}()

	// 等远程调用真正开始后重置会话
	<-fp.started
	if _, err := outfit.StartOver(sessionID); err != nil {
		t.Fatalf("重新开始失败: %v", err)
	}
	close(fp.release)

	select {
	case snap := <-done:
		if snap == nil || !snap.State.IsEmpty() {
			t.Error("过期结果不应写入已重置的会话")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("在途请求未返回")
	}

	final, err := sessions.Snapshot(sessionID)
	if err != nil {
		t.Fatalf("读取快照失败: %v", err)
	}
	if !final.State.IsEmpty() || final.BaseModelImage != "" {
		t.Error("重置后的会话状态应保持为空")
	}
	if final.Busy {
		t.Error("重置后在途标志应清除")
	}
}

func TestStartOverKeepsWardrobe(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	addGarment(t, outfit, sessionID, "Boots")

	before, _ := sessions.Snapshot(sessionID)
	result, err := outfit.StartOver(sessionID)
	if err != nil {
		t.Fatalf("重新开始失败: %v", err)
	}

	if len(result.Wardrobe) != len(before.Wardrobe) {
		t.Errorf("重置应保留衣橱, 之前 %d 件, 之后 %d 件",
			len(before.Wardrobe), len(result.Wardrobe))
	}
	if !result.State.IsEmpty() {
		t.Error("重置后穿搭历史应为空")
	}
}

func TestRefineOverwritesCurrentPoseImage(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)

	before, _ := sessions.Snapshot(sessionID)
	beforeRef := before.DisplayImage

	result, err := outfit.RefineWithInstruction(context.Background(), sessionID, "make the lighting warmer")
	if err != nil {
		t.Fatalf("修饰失败: %v", err)
	}

	if len(result.State.History) != 1 {
		t.Errorf("修饰不应增加历史层, 实际 %d", len(result.State.History))
	}
	if result.DisplayImage == beforeRef {
		t.Error("修饰应替换当前展示图像")
	}

	layer := result.State.History[0]
	if len(layer.PoseOrder) != 1 {
		t.Errorf("原地覆盖不应新增姿势键, 实际 %d", len(layer.PoseOrder))
	}
}

func TestRefineErrorIsInline(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)

	fp.failWith = errors.New("quota exceeded")
	snap, err := outfit.RefineWithInstruction(context.Background(), sessionID, "add sunglasses")
	if err == nil {
		t.Fatal("期望修饰失败错误")
	}
	if snap == nil {
		t.Fatal("修饰失败仍应返回当前快照")
	}
	if snap.LastError != "" {
		t.Error("修饰失败不应写入会话的横幅错误通道")
	}
	if snap.Busy {
		t.Error("失败后在途标志应清除")
	}
}

func TestRefineRejectsEmptyInstruction(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)

	_, err := outfit.RefineWithInstruction(context.Background(), sessionID, "   ")
	if !apperrors.IsValidationError(err) {
		t.Errorf("空指令应返回校验错误, 实际 %v", err)
	}
}

func TestMoodBoardReplacesUpperLayers(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Vest")

	if _, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID); err != nil {
		t.Fatalf("试穿失败: %v", err)
	}

	before := fp.callCount()
	result, err := outfit.ApplyMoodBoard(context.Background(), sessionID, testJPEG(), "Parisian chic")
	if err != nil {
		t.Fatalf("情绪板换装失败: %v", err)
	}

	if fp.callCount() != before+1 {
		t.Fatalf("情绪板应触发1次远程调用, 实际 %d", fp.callCount()-before)
	}
	if len(result.State.History) != 2 {
		t.Fatalf("情绪板换装后历史应为[基础层, 新层], 实际长度 %d", len(result.State.History))
	}
	if result.State.OutfitIndex != 1 {
		t.Errorf("指针应指向新层, 实际 %d", result.State.OutfitIndex)
	}

	layer := result.State.History[1]
	if layer.Garment == nil || layer.Garment.Source != models.SourceMoodBoard {
		t.Error("新层的条目来源应为情绪板")
	}
	if layer.Garment.Name != "Parisian chic" {
		t.Errorf("条目名称应为情绪板名称, 实际 %s", layer.Garment.Name)
	}

	// 情绪板的参照是原始基础模特图和情绪板图两张
	fp.mu.Lock()
	lastInputs := fp.inputs[len(fp.inputs)-1]
	fp.mu.Unlock()
	if lastInputs != 2 {
		t.Errorf("情绪板调用应携带2张参照图像, 实际 %d", lastInputs)
	}
}

func TestMoodBoardRequiresModel(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	snap := sessions.CreateSession()

	_, err := outfit.ApplyMoodBoard(context.Background(), snap.ID, testJPEG(), "look")
	if !apperrors.IsValidationError(err) {
		t.Errorf("没有模特图时情绪板应返回校验错误, 实际 %v", err)
	}
}

func TestGenerationHistoryAccumulates(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Shirt")

	if _, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID); err != nil {
		t.Fatalf("试穿失败: %v", err)
	}
	if _, err := outfit.SelectPose(context.Background(), sessionID, 1); err != nil {
		t.Fatalf("切换姿势失败: %v", err)
	}

	records, err := outfit.GenerationHistory(sessionID)
	if err != nil {
		t.Fatalf("读取生成历史失败: %v", err)
	}
	// 模特图 + 试穿图 + 姿势变体 = 3条
	if len(records) != 3 {
		t.Fatalf("期望3条生成记录, 实际 %d", len(records))
	}

	seen := make(map[string]bool)
	for _, r := range records {
		if r.ImageRef == "" {
			t.Error("生成记录的图像引用不应为空")
		}
		if seen[r.ImageRef] {
			t.Errorf("生成记录应去重, 重复引用 %s", r.ImageRef)
		}
		seen[r.ImageRef] = true
	}
	if records[0].OutfitIndex != 0 || records[1].OutfitIndex != 1 {
		t.Error("生成记录应按层顺序排列")
	}
}

func TestApplyGarmentFailureKeepsState(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	first := addGarment(t, outfit, sessionID, "Jacket")
	second := addGarment(t, outfit, sessionID, "Hoodie")

	if _, err := outfit.ApplyGarment(context.Background(), sessionID, first); err != nil {
		t.Fatalf("首次试穿失败: %v", err)
	}

	fp.failWith = errors.New("provider exploded")
	if _, err := outfit.ApplyGarment(context.Background(), sessionID, second); !apperrors.IsGenerationError(err) {
		t.Fatalf("期望生成错误, 实际 %v", err)
	}

	snap, err := sessions.Snapshot(sessionID)
	if err != nil {
		t.Fatalf("读取快照失败: %v", err)
	}
	if len(snap.State.History) != 2 {
		t.Fatalf("失败后历史长度应保持2, 实际 %d", len(snap.State.History))
	}
	if snap.State.OutfitIndex != 1 {
		t.Errorf("失败后穿搭指针应保持1, 实际 %d", snap.State.OutfitIndex)
	}
	if got := snap.State.History[1].GarmentID(); got != first {
		t.Errorf("失败后当前层应仍是第一件服装, 实际 %s", got)
	}
	if snap.Busy {
		t.Error("失败后在途标志应清除")
	}
	if snap.LastError == "" {
		t.Error("失败后应设置横幅错误消息")
	}
}

func TestMoodBoardFailureKeepsLayers(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Vest")

	if _, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID); err != nil {
		t.Fatalf("试穿失败: %v", err)
	}

	fp.failWith = errors.New("provider exploded")
	if _, err := outfit.ApplyMoodBoard(context.Background(), sessionID, testJPEG(), "Noir"); !apperrors.IsGenerationError(err) {
		t.Fatalf("期望生成错误, 实际 %v", err)
	}

	snap, err := sessions.Snapshot(sessionID)
	if err != nil {
		t.Fatalf("读取快照失败: %v", err)
	}
	if len(snap.State.History) != 2 {
		t.Fatalf("失败后已叠加的层应保留, 实际长度 %d", len(snap.State.History))
	}
	if snap.State.OutfitIndex != 1 {
		t.Errorf("失败后穿搭指针应保持1, 实际 %d", snap.State.OutfitIndex)
	}
	if got := snap.State.History[1].GarmentID(); got != garmentID {
		t.Errorf("失败后当前层应仍是已试穿的服装, 实际 %s", got)
	}
	if snap.Busy {
		t.Error("失败后在途标志应清除")
	}
	if snap.LastError == "" {
		t.Error("失败后应设置横幅错误消息")
	}
}

func TestCreateModelFailureSetsBanner(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	snap := sessions.CreateSession()

	fp.failWith = errors.New("model overloaded")
	_, err := outfit.CreateModel(context.Background(), snap.ID, testJPEG())
	if !apperrors.IsGenerationError(err) {
		t.Fatalf("期望生成错误, 实际 %v", err)
	}

	after, _ := sessions.Snapshot(snap.ID)
	if after.LastError == "" {
		t.Error("失败后应设置横幅错误消息")
	}
	if !after.State.IsEmpty() {
		t.Error("失败后穿搭历史应保持为空")
	}

	// 错误恢复: 下一次成功的生成应清除横幅
	fp.failWith = nil
	result, err := outfit.CreateModel(context.Background(), snap.ID, testJPEG())
	if err != nil {
		t.Fatalf("重试失败: %v", err)
	}
	if result.LastError != "" {
		t.Error("成功的生成应清除横幅错误")
	}
}

func TestApplyGarmentRequiresModel(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	snap := sessions.CreateSession()

	_, err := outfit.ApplyGarment(context.Background(), snap.ID, "whatever")
	if !apperrors.IsValidationError(err) {
		t.Errorf("没有模特图时试穿应返回校验错误, 实际 %v", err)
	}
}

func TestUploadGarmentRejectsGarbage(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)

	_, err := outfit.UploadGarment(sessionID, "bad", []byte("not an image"))
	if !apperrors.IsValidationError(err) {
		t.Errorf("非图像数据应返回校验错误, 实际 %v", err)
	}
}

func TestSelectPoseOutOfRange(t *testing.T) {
	outfit, sessions, _ := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)

	if _, err := outfit.SelectPose(context.Background(), sessionID, len(models.PoseInstructions)); !apperrors.IsValidationError(err) {
		t.Errorf("越界姿势索引应返回校验错误, 实际 %v", err)
	}
	if _, err := outfit.SelectPose(context.Background(), sessionID, -1); !apperrors.IsValidationError(err) {
		t.Errorf("负姿势索引应返回校验错误, 实际 %v", err)
	}
}

// 场景: 生成模特 -> 试穿 -> 换姿势 -> 撤销 -> 重新套用
func TestFullDressingScenario(t *testing.T) {
	outfit, sessions, fp := newTestEnv(t)
	sessionID := newModelSession(t, outfit, sessions)
	garmentID := addGarment(t, outfit, sessionID, "Gemini Tee")

	if _, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID); err != nil {
		t.Fatalf("试穿失败: %v", err)
	}
	posed, err := outfit.SelectPose(context.Background(), sessionID, 4)
	if err != nil {
		t.Fatalf("切换姿势失败: %v", err)
	}
	if posed.State.PoseIndex != 4 {
		t.Fatalf("姿势指针应为4, 实际 %d", posed.State.PoseIndex)
	}

	undone, err := outfit.RemoveLastLayer(sessionID)
	if err != nil {
		t.Fatalf("撤销失败: %v", err)
	}
	if undone.State.OutfitIndex != 0 || undone.State.PoseIndex != 0 {
		t.Fatalf("撤销后指针应回到基础层, 实际 outfit=%d pose=%d",
			undone.State.OutfitIndex, undone.State.PoseIndex)
	}

	before := fp.callCount()
	reapplied, err := outfit.ApplyGarment(context.Background(), sessionID, garmentID)
	if err != nil {
		t.Fatalf("重新套用失败: %v", err)
	}
	if fp.callCount() != before {
		t.Error("重新套用同一服装应命中缓存")
	}
	// 之前生成的姿势图像仍在该层
	layer := reapplied.State.History[1]
	if len(layer.PoseOrder) != 2 {
		t.Errorf("缓存命中的层应保留已生成的姿势图像, 实际 %d 个", len(layer.PoseOrder))
	}
}
