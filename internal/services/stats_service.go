// internal/services/stats_service.go
package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/mirrorwear/fitstudio/internal/storage"
)

// UsageStats 表示图像生成的使用统计
type UsageStats struct {
	TodayGenerations int            `json:"today_generations"`
	TotalGenerations int            `json:"total_generations"`
	CacheHits        int            `json:"cache_hits"`
	Failures         int            `json:"failures"`
	DailyStats       map[string]int `json:"daily_stats"`
	LastUpdated      time.Time      `json:"last_updated"`
}

// StatsService 提供生成请求的使用统计功能
type StatsService struct {
	storage     *storage.FileStorage
	mutex       sync.Mutex
	cachedStats *UsageStats

	lastCheckDate string

	// 批量保存控制
	isDirty      bool
	saveInterval time.Duration
}

const statsDir = "stats"
const statsFile = "usage_stats.json"

// NewStatsService 创建统计服务实例
func NewStatsService(fs *storage.FileStorage) *StatsService {
	service := &StatsService{
		storage:      fs,
		saveInterval: 30 * time.Second,
	}

	service.startPeriodicSave()
	return service
}

// loadStatsLocked 懒加载统计数据，调用方需持有mutex
func (s *StatsService) loadStatsLocked() *UsageStats {
	if s.cachedStats != nil {
		s.rolloverLocked()
		return s.cachedStats
	}

	stats := &UsageStats{DailyStats: make(map[string]int)}
	if s.storage != nil && s.storage.FileExists(statsDir, statsFile) {
		if err := s.storage.LoadJSONFile(statsDir, statsFile, stats); err != nil {
			fmt.Printf("警告: 读取统计数据失败: %v\n", err)
			stats = &UsageStats{DailyStats: make(map[string]int)}
		}
	}
	if stats.DailyStats == nil {
		stats.DailyStats = make(map[string]int)
	}

	s.cachedStats = stats
	s.lastCheckDate = time.Now().Format("2006-01-02")
	s.rolloverLocked()
	return s.cachedStats
}

// rolloverLocked 跨天时重置当日计数
func (s *StatsService) rolloverLocked() {
	today := time.Now().Format("2006-01-02")
	if s.lastCheckDate != today {
		s.cachedStats.TodayGenerations = 0
		s.lastCheckDate = today
		s.isDirty = true
	}
}

// RecordGeneration 记录一次成功的远程生成
func (s *StatsService) RecordGeneration() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := s.loadStatsLocked()
	stats.TodayGenerations++
	stats.TotalGenerations++
	stats.DailyStats[s.lastCheckDate]++
	stats.LastUpdated = time.Now()
	s.isDirty = true
}

// RecordCacheHit 记录一次缓存命中（免去远程调用）
func (s *StatsService) RecordCacheHit() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := s.loadStatsLocked()
	stats.CacheHits++
	stats.LastUpdated = time.Now()
	s.isDirty = true
}

// RecordFailure 记录一次生成失败
func (s *StatsService) RecordFailure() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := s.loadStatsLocked()
	stats.Failures++
	stats.LastUpdated = time.Now()
	s.isDirty = true
}

// GetStats 返回统计数据副本
func (s *StatsService) GetStats() UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	stats := s.loadStatsLocked()

	daily := make(map[string]int, len(stats.DailyStats))
	for k, v := range stats.DailyStats {
		daily[k] = v
	}
	statsCopy := *stats
	statsCopy.DailyStats = daily
	return statsCopy
}

// startPeriodicSave 批量落盘，避免每次计数都写文件
func (s *StatsService) startPeriodicSave() {
	go func() {
		ticker := time.NewTicker(s.saveInterval)
		defer ticker.Stop()

		for range ticker.C {
			s.saveIfDirty()
		}
	}()
}

func (s *StatsService) saveIfDirty() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isDirty || s.cachedStats == nil || s.storage == nil {
		return
	}

	if err := s.storage.SaveJSONFile(statsDir, statsFile, s.cachedStats); err != nil {
		fmt.Printf("警告: 保存统计数据失败: %v\n", err)
		return
	}
	s.isDirty = false
}
