// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 统一的会话锁管理器
// 每个会话一把读写锁，保证会话状态单写者
type LockManager struct {
	sessionLocks map[string]*LockInfo
	globalLock   sync.RWMutex
	lockTTL      time.Duration
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex    *sync.RWMutex
	LastUsed time.Time
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		sessionLocks: make(map[string]*LockInfo),
		lockTTL:      24 * time.Hour,
	}

	lm.startCleanup()
	return lm
}

// GetSessionLock 获取会话锁（线程安全）
func (lm *LockManager) GetSessionLock(sessionID string) *sync.RWMutex {
	lm.globalLock.RLock()
	if lockInfo, exists := lm.sessionLocks[sessionID]; exists {
		lm.globalLock.RUnlock()
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}
	lm.globalLock.RUnlock()

	// 升级为写锁
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查（在写锁保护下是安全的）
	if lockInfo, exists := lm.sessionLocks[sessionID]; exists {
		lockInfo.LastUsed = time.Now()
		return lockInfo.Mutex
	}

	lockInfo := &LockInfo{
		Mutex:    &sync.RWMutex{},
		LastUsed: time.Now(),
	}
	lm.sessionLocks[sessionID] = lockInfo
	return lockInfo.Mutex
}

// RemoveSessionLock 移除会话锁（会话删除时调用）
func (lm *LockManager) RemoveSessionLock(sessionID string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	delete(lm.sessionLocks, sessionID)
}

// startCleanup 定期清理长期未使用的锁
// TTL与会话清理周期一致，避免删掉仍在使用的锁
func (lm *LockManager) startCleanup() {
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			lm.cleanupStaleLocks()
		}
	}()
}

func (lm *LockManager) cleanupStaleLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	now := time.Now()
	for sessionID, lockInfo := range lm.sessionLocks {
		if now.Sub(lockInfo.LastUsed) > lm.lockTTL {
			delete(lm.sessionLocks, sessionID)
		}
	}
}
