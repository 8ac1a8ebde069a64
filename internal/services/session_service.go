// internal/services/session_service.go
package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/mirrorwear/fitstudio/internal/errors"
	"github.com/mirrorwear/fitstudio/internal/models"
	"github.com/mirrorwear/fitstudio/internal/utils"
)

// 会话空闲超过该时长后被回收
const sessionTTL = 24 * time.Hour

// defaultWardrobe 内置示例服装，新会话自带
var defaultWardrobe = []models.WardrobeItem{
	{
		ID:       "gemini-sweat",
		Name:     "Gemini Sweat",
		ImageRef: "/static/images/garments/gemini-sweat.png",
		Source:   models.SourceDefault,
	},
	{
		ID:       "gemini-tee",
		Name:     "Gemini Tee",
		ImageRef: "/static/images/garments/gemini-tee.png",
		Source:   models.SourceDefault,
	},
}

// SessionService 管理试衣会话的生命周期
// 会话只存在于进程内存中，不做跨会话持久化
type SessionService struct {
	sessions map[string]*models.Session
	mutex    sync.RWMutex
	locks    *LockManager

	// onRemove 会话被回收时的清理回调（如删除磁盘图像）
	onRemove func(sessionID string)
}

// NewSessionService 创建会话服务
func NewSessionService() *SessionService {
	s := &SessionService{
		sessions: make(map[string]*models.Session),
		locks:    NewLockManager(),
	}

	s.startJanitor()
	return s
}

// SetRemoveHook 注入会话回收时的清理回调
func (s *SessionService) SetRemoveHook(hook func(sessionID string)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.onRemove = hook
}

// CreateSession 创建新会话并返回快照
func (s *SessionService) CreateSession() *models.SessionSnapshot {
	now := time.Now()
	wardrobe := make([]models.WardrobeItem, len(defaultWardrobe))
	copy(wardrobe, defaultWardrobe)
	for i := range wardrobe {
		wardrobe[i].CreatedAt = now
	}

	session := &models.Session{
		ID:        uuid.NewString(),
		State:     models.NewOutfitState(),
		Wardrobe:  wardrobe,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mutex.Lock()
	s.sessions[session.ID] = session
	s.mutex.Unlock()

	utils.GetLogger().Infof("创建会话: %s", session.ID)

	return session.Snapshot()
}

// Get 获取会话对象（调用方必须持有该会话的锁）
func (s *SessionService) Get(sessionID string) (*models.Session, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, apperrors.NewNotFoundError("会话不存在", nil)
	}
	return session, nil
}

// Lock 返回指定会话的读写锁
func (s *SessionService) Lock(sessionID string) *sync.RWMutex {
	return s.locks.GetSessionLock(sessionID)
}

// Snapshot 返回会话的只读快照
func (s *SessionService) Snapshot(sessionID string) (*models.SessionSnapshot, error) {
	lock := s.Lock(sessionID)
	lock.RLock()
	defer lock.RUnlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Snapshot(), nil
}

// AddWardrobeItem 向会话衣橱添加一件服装
// 条目创建后不可变
func (s *SessionService) AddWardrobeItem(sessionID, name, imageRef string, source models.WardrobeSourceType) (*models.WardrobeItem, error) {
	lock := s.Lock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}

	item := models.WardrobeItem{
		ID:        uuid.NewString(),
		Name:      name,
		ImageRef:  imageRef,
		Source:    source,
		CreatedAt: time.Now(),
	}

	session.Wardrobe = append(session.Wardrobe, item)
	session.UpdatedAt = time.Now()

	return item.Clone(), nil
}

// FindWardrobeItem 按ID查找会话衣橱条目（调用方持锁）
func (s *SessionService) FindWardrobeItem(session *models.Session, itemID string) (*models.WardrobeItem, error) {
	for i := range session.Wardrobe {
		if session.Wardrobe[i].ID == itemID {
			return session.Wardrobe[i].Clone(), nil
		}
	}
	return nil, apperrors.NewNotFoundError("衣橱条目不存在", nil)
}

// Remove 删除会话及其锁
func (s *SessionService) Remove(sessionID string) {
	s.mutex.Lock()
	delete(s.sessions, sessionID)
	hook := s.onRemove
	s.mutex.Unlock()

	s.locks.RemoveSessionLock(sessionID)
	if hook != nil {
		hook(sessionID)
	}
}

// Count 返回当前会话数量
func (s *SessionService) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

// startJanitor 定期回收空闲会话
func (s *SessionService) startJanitor() {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			s.cleanupIdleSessions()
		}
	}()
}

func (s *SessionService) cleanupIdleSessions() {
	now := time.Now()

	s.mutex.Lock()
	var expired []string
	for id, session := range s.sessions {
		if now.Sub(session.UpdatedAt) > sessionTTL {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	s.mutex.Unlock()

	for _, id := range expired {
		s.locks.RemoveSessionLock(id)
		if s.onRemove != nil {
			s.onRemove(id)
		}
	}

	if len(expired) > 0 {
		utils.GetLogger().Infof("回收了 %d 个空闲会话", len(expired))
	}
}
