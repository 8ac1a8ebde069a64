// internal/models/wardrobe.go
package models

import (
	"time"
)

// WardrobeSourceType 表示衣橱条目的来源类型
type WardrobeSourceType string

const (
	// SourceDefault 表示内置示例服装
	SourceDefault WardrobeSourceType = "DEFAULT"
	// SourceUpload 表示用户上传的服装
	SourceUpload WardrobeSourceType = "UPLOAD"
	// SourceMoodBoard 表示情绪板换装产生的合成条目（不进入衣橱列表）
	SourceMoodBoard WardrobeSourceType = "MOOD_BOARD"
)

// WardrobeItem 表示衣橱中的一件服装
// 创建后不可变，仅在会话内存中保存
type WardrobeItem struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	ImageRef  string             `json:"image_ref"` // 服装图片的引用路径
	Source    WardrobeSourceType `json:"source"`
	CreatedAt time.Time          `json:"created_at"`
}

// Clone 返回条目的副本
func (w *WardrobeItem) Clone() *WardrobeItem {
	if w == nil {
		return nil
	}
	clone := *w
	return &clone
}
