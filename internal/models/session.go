// internal/models/session.go
package models

import (
	"time"
)

// Session 表示一个浏览器端试衣会话
// 仅保存在进程内存中，单写者（由服务层的会话锁保证）
type Session struct {
	ID string `json:"id"`

	// BaseModelImage 最初确定的AI模特图，情绪板换装的固定参照
	BaseModelImage string `json:"base_model_image"`

	State    OutfitState    `json:"state"`
	Wardrobe []WardrobeItem `json:"wardrobe"`

	// Epoch 生成纪元：重新开始时递增，在途请求的结果据此作废
	Epoch uint64 `json:"epoch"`

	// Busy 在途请求标志：同一时刻最多一个生成请求
	Busy bool `json:"busy"`

	// LastError 最近一次生成失败的用户可见消息（横幅通道）
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionSnapshot 会话的只读快照，供API层返回
type SessionSnapshot struct {
	ID             string         `json:"id"`
	BaseModelImage string         `json:"base_model_image"`
	State          OutfitState    `json:"state"`
	Wardrobe       []WardrobeItem `json:"wardrobe"`
	DisplayImage   string         `json:"display_image"`
	PoseLabels     []string       `json:"pose_labels"`
	Busy           bool           `json:"busy"`
	LastError      string         `json:"last_error,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Snapshot 生成会话的深拷贝快照
func (s *Session) Snapshot() *SessionSnapshot {
	wardrobe := make([]WardrobeItem, len(s.Wardrobe))
	copy(wardrobe, s.Wardrobe)

	display, _ := s.State.DisplayImage()

	return &SessionSnapshot{
		ID:             s.ID,
		BaseModelImage: s.BaseModelImage,
		State:          s.State.Clone(),
		Wardrobe:       wardrobe,
		DisplayImage:   display,
		PoseLabels:     PoseInstructions,
		Busy:           s.Busy,
		LastError:      s.LastError,
		UpdatedAt:      s.UpdatedAt,
	}
}
