// internal/models/outfit.go
package models

// PoseInstructions 固定的姿势指令列表，顺序即展示顺序
// 姿势标签同时是每层图像映射的稳定键
var PoseInstructions = []string{
	"Full frontal view, hands on hips",
	"Slightly turned, 3/4 view",
	"Side profile view",
	"Jumping in the air, mid-action shot",
	"Walking towards camera",
	"Leaning against a wall",
}

// OutfitLayer 表示穿搭历史中的一层
// 基础层（索引0）没有服装，只有最初确定的模特图
type OutfitLayer struct {
	Garment    *WardrobeItem     `json:"garment,omitempty"`
	PoseImages map[string]string `json:"pose_images"` // 姿势标签 -> 生成图像引用
	PoseOrder  []string          `json:"pose_order"`  // 姿势标签的插入顺序
}

// NewOutfitLayer 创建一个含单个姿势图像的层
func NewOutfitLayer(garment *WardrobeItem, poseLabel, imageRef string) OutfitLayer {
	return OutfitLayer{
		Garment:    garment.Clone(),
		PoseImages: map[string]string{poseLabel: imageRef},
		PoseOrder:  []string{poseLabel},
	}
}

// FirstPoseImage 按插入顺序返回第一个可用的姿势图像
func (l OutfitLayer) FirstPoseImage() (string, bool) {
	for _, label := range l.PoseOrder {
		if ref, ok := l.PoseImages[label]; ok {
			return ref, true
		}
	}
	return "", false
}

// GarmentID 返回该层服装ID，基础层返回空串
func (l OutfitLayer) GarmentID() string {
	if l.Garment == nil {
		return ""
	}
	return l.Garment.ID
}

// clone 深拷贝一层
func (l OutfitLayer) clone() OutfitLayer {
	images := make(map[string]string, len(l.PoseImages))
	for k, v := range l.PoseImages {
		images[k] = v
	}
	order := make([]string, len(l.PoseOrder))
	copy(order, l.PoseOrder)
	return OutfitLayer{
		Garment:    l.Garment.Clone(),
		PoseImages: images,
		PoseOrder:  order,
	}
}

// OutfitState 是穿搭历史状态机的完整状态
// 所有状态变迁方法都返回新的快照，不做原地修改
type OutfitState struct {
	History     []OutfitLayer `json:"history"`
	OutfitIndex int           `json:"outfit_index"`
	PoseIndex   int           `json:"pose_index"`
}

// NewOutfitState 创建空的穿搭状态
func NewOutfitState() OutfitState {
	return OutfitState{History: nil, OutfitIndex: 0, PoseIndex: 0}
}

// Clone 深拷贝整个状态
func (s OutfitState) Clone() OutfitState {
	history := make([]OutfitLayer, len(s.History))
	for i, layer := range s.History {
		history[i] = layer.clone()
	}
	return OutfitState{
		History:     history,
		OutfitIndex: s.OutfitIndex,
		PoseIndex:   s.PoseIndex,
	}
}

// IsEmpty 历史是否为空（尚未确定模特图）
func (s OutfitState) IsEmpty() bool {
	return len(s.History) == 0
}

// CurrentLayer 返回当前指针所指层
func (s OutfitState) CurrentLayer() (OutfitLayer, bool) {
	if s.IsEmpty() || s.OutfitIndex < 0 || s.OutfitIndex >= len(s.History) {
		return OutfitLayer{}, false
	}
	return s.History[s.OutfitIndex], true
}

// CurrentPoseLabel 返回当前姿势标签
func (s OutfitState) CurrentPoseLabel() string {
	if s.PoseIndex < 0 || s.PoseIndex >= len(PoseInstructions) {
		return PoseInstructions[0]
	}
	return PoseInstructions[s.PoseIndex]
}

// DisplayImage 返回当前应展示的图像：
// 当前层在当前姿势标签下的图像，若该姿势尚未生成则回退到该层
// 按插入顺序的第一张姿势图像
func (s OutfitState) DisplayImage() (string, bool) {
	layer, ok := s.CurrentLayer()
	if !ok {
		return "", false
	}
	if ref, ok := layer.PoseImages[s.CurrentPoseLabel()]; ok {
		return ref, true
	}
	return layer.FirstPoseImage()
}

// HasPoseImage 当前层是否已有指定姿势索引的图像
func (s OutfitState) HasPoseImage(poseIndex int) bool {
	if poseIndex < 0 || poseIndex >= len(PoseInstructions) {
		return false
	}
	layer, ok := s.CurrentLayer()
	if !ok {
		return false
	}
	_, exists := layer.PoseImages[PoseInstructions[poseIndex]]
	return exists
}

// NextLayerGarmentID 返回历史中下一层的服装ID（缓存命中判断用）
// 没有下一层时返回空串
func (s OutfitState) NextLayerGarmentID() string {
	next := s.OutfitIndex + 1
	if s.IsEmpty() || next >= len(s.History) {
		return ""
	}
	return s.History[next].GarmentID()
}

// InitializeBase 重置为单个基础层，图像存于第一个姿势标签下，指针归零
func (s OutfitState) InitializeBase(imageRef string) OutfitState {
	return OutfitState{
		History:     []OutfitLayer{NewOutfitLayer(nil, PoseInstructions[0], imageRef)},
		OutfitIndex: 0,
		PoseIndex:   0,
	}
}

// AdvanceToNextLayer 指针前移一层（缓存命中路径），姿势指针归零
// 不触碰历史内容
func (s OutfitState) AdvanceToNextLayer() OutfitState {
	next := s.Clone()
	if next.OutfitIndex+1 < len(next.History) {
		next.OutfitIndex++
		next.PoseIndex = 0
	}
	return next
}

// TruncateAndAppend 丢弃当前指针之后的所有层，追加新层并指向它
// 姿势指针归零（新层的图像键由调用方决定，见服务层）
func (s OutfitState) TruncateAndAppend(layer OutfitLayer) OutfitState {
	next := s.Clone()
	next.History = append(next.History[:next.OutfitIndex+1], layer)
	next.OutfitIndex = len(next.History) - 1
	next.PoseIndex = 0
	return next
}

// TruncateToBaseAndAppend 只保留基础层，追加一层（情绪板整体换装）
// 指针指向新层，姿势指针归零
func (s OutfitState) TruncateToBaseAndAppend(layer OutfitLayer) OutfitState {
	next := s.Clone()
	if len(next.History) == 0 {
		return next
	}
	next.History = append(next.History[:1], layer)
	next.OutfitIndex = 1
	next.PoseIndex = 0
	return next
}

// MoveBack 指针后退一层，姿势指针归零
// 指针已在0时为无操作，历史永不被删除
func (s OutfitState) MoveBack() OutfitState {
	if s.OutfitIndex == 0 {
		return s.Clone()
	}
	next := s.Clone()
	next.OutfitIndex--
	next.PoseIndex = 0
	return next
}

// WithPoseIndex 只更新姿势指针（乐观更新与回退共用）
func (s OutfitState) WithPoseIndex(poseIndex int) OutfitState {
	next := s.Clone()
	if poseIndex >= 0 && poseIndex < len(PoseInstructions) {
		next.PoseIndex = poseIndex
	}
	return next
}

// SetPoseImage 在指定层的指定姿势标签下写入图像
// 新标签会追加到该层的插入顺序末尾；已有标签则原地覆盖
func (s OutfitState) SetPoseImage(outfitIndex int, poseLabel, imageRef string) OutfitState {
	next := s.Clone()
	if outfitIndex < 0 || outfitIndex >= len(next.History) {
		return next
	}
	layer := &next.History[outfitIndex]
	if _, exists := layer.PoseImages[poseLabel]; !exists {
		layer.PoseOrder = append(layer.PoseOrder, poseLabel)
	}
	layer.PoseImages[poseLabel] = imageRef
	return next
}

// GenerationRecord 表示一次已生成图像及其首次出现位置
type GenerationRecord struct {
	ImageRef    string `json:"image_ref"`
	OutfitIndex int    `json:"outfit_index"`
	PoseLabel   string `json:"pose_label"`
}

// GenerationHistory 产生去重后的按时间顺序排列的全部已生成图像列表
// 顺序为层索引升序，同层内按姿势插入顺序；重复引用只在首次出现处保留
func (s OutfitState) GenerationHistory() []GenerationRecord {
	seen := make(map[string]bool)
	var records []GenerationRecord

	for i, layer := range s.History {
		for _, label := range layer.PoseOrder {
			ref, ok := layer.PoseImages[label]
			if !ok || seen[ref] {
				continue
			}
			seen[ref] = true
			records = append(records, GenerationRecord{
				ImageRef:    ref,
				OutfitIndex: i,
				PoseLabel:   label,
			})
		}
	}

	return records
}
