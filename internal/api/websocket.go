// internal/api/websocket.go
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirrorwear/fitstudio/internal/models"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

// WSConnection 定义 WebSocket 连接的接口，便于测试替换
type WSConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WSClient 表示一个订阅会话事件的客户端连接
type WSClient struct {
	conn      WSConnection
	sessionID string
	send      chan []byte
	sendMu    sync.Mutex // 保护发送通道的检查-发送与关闭
	closed    int32      // 原子操作标志，0=开启，1=关闭
	lastPing  time.Time // 最后一次ping时间
	createdAt time.Time
}

// Close 安全关闭客户端连接
func (client *WSClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		// 只设置关闭标志，发送通道由写循环的defer负责关闭
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WSClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后ping时间
func (client *WSClient) UpdatePing() {
	client.lastPing = time.Now()
}

// IsExpired 检查连接是否超时
func (client *WSClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(client.lastPing) > timeout
}

// SendJSON 安全发送消息到客户端，队列满时丢弃
func (client *WSClient) SendJSON(message map[string]interface{}) error {
	if client.IsClosed() {
		return nil
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// 发送通道可能被写循环关闭，检查-发送必须与关闭互斥
	client.sendMu.Lock()
	defer client.sendMu.Unlock()

	if client.IsClosed() {
		return nil
	}

	select {
	case client.send <- msgBytes:
		return nil
	default:
		log.Printf("警告: 会话 %s 的客户端消息队列已满，消息被丢弃", client.sessionID)
		return nil
	}
}

// WSManager 管理所有会话事件订阅连接
// 实现 services.GenerationNotifier
type WSManager struct {
	connections   map[string]map[WSConnection]*WSClient // sessionID -> connections
	register      chan *WSClient
	unregister    chan *WSClient
	shutdownCh    chan bool
	mutex         sync.RWMutex
	pingTimeout   time.Duration
	cleanupTicker *time.Ticker
}

// 全局 WebSocket 管理器
var wsManager = &WSManager{
	connections: make(map[string]map[WSConnection]*WSClient),
	register:    make(chan *WSClient, 256),
	unregister:  make(chan *WSClient, 256),
	shutdownCh:  make(chan bool, 1),
	pingTimeout: 60 * time.Second,
}

func init() {
	go wsManager.run()
}

// GetWSManager 返回全局管理器
func GetWSManager() *WSManager {
	return wsManager
}

// run 管理器主循环
func (manager *WSManager) run() {
	manager.cleanupTicker = time.NewTicker(30 * time.Second)
	defer manager.cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.register:
			manager.registerClient(client)

		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-manager.cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.shutdownCh:
			manager.shutdown()
			return
		}
	}
}

// registerClient 注册新客户端
func (manager *WSManager) registerClient(client *WSClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[WSConnection]*WSClient)
	}

	manager.connections[client.sessionID][client.conn] = client
	client.UpdatePing()

	log.Printf("WebSocket 客户端已订阅会话 %s", client.sessionID)
}

// unregisterClient 注销客户端
func (manager *WSManager) unregisterClient(client *WSClient) {
	if client == nil {
		return
	}

	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if clients, ok := manager.connections[client.sessionID]; ok {
		if _, exists := clients[client.conn]; exists {
			delete(clients, client.conn)
			client.Close()
			if len(clients) == 0 {
				delete(manager.connections, client.sessionID)
			}
		}
	}
}

// cleanupExpiredConnections 清理超时连接
func (manager *WSManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	removed := 0
	for sessionID, clients := range manager.connections {
		for conn, client := range clients {
			if client.IsExpired(manager.pingTimeout) {
				delete(clients, conn)
				client.Close()
				removed++
			}
		}
		if len(clients) == 0 {
			delete(manager.connections, sessionID)
		}
	}

	if removed > 0 {
		log.Printf("清理了 %d 个超时的 WebSocket 连接", removed)
	}
}

// shutdown 关闭所有连接
func (manager *WSManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, clients := range manager.connections {
		for _, client := range clients {
			client.Close()
		}
	}
	manager.connections = make(map[string]map[WSConnection]*WSClient)
}

// Shutdown 供外部触发关闭
func (manager *WSManager) Shutdown() {
	select {
	case manager.shutdownCh <- true:
	default:
	}
}

// broadcastToSession 向订阅某会话的全部客户端发送消息
func (manager *WSManager) broadcastToSession(sessionID string, message map[string]interface{}) {
	manager.mutex.RLock()
	clients := make([]*WSClient, 0, len(manager.connections[sessionID]))
	for _, client := range manager.connections[sessionID] {
		clients = append(clients, client)
	}
	manager.mutex.RUnlock()

	for _, client := range clients {
		if err := client.SendJSON(message); err != nil {
			log.Printf("警告: 推送会话 %s 消息失败: %v", sessionID, err)
		}
	}
}

// NotifySessionUpdate 推送会话快照更新事件
func (manager *WSManager) NotifySessionUpdate(sessionID string, snapshot *models.SessionSnapshot) {
	manager.broadcastToSession(sessionID, map[string]interface{}{
		"type":      "session_update",
		"session":   snapshot,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// NotifyGenerationError 推送生成失败的横幅错误事件
func (manager *WSManager) NotifyGenerationError(sessionID string, message string) {
	manager.broadcastToSession(sessionID, map[string]interface{}{
		"type":      "generation_error",
		"error":     message,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetStatus 返回连接统计（调试用）
func (manager *WSManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	total := 0
	perSession := make(map[string]int)
	for sessionID, clients := range manager.connections {
		perSession[sessionID] = len(clients)
		total += len(clients)
	}

	return map[string]interface{}{
		"total_connections": total,
		"sessions":          perSession,
		"ping_timeout":      manager.pingTimeout.String(),
	}
}

// ServeSession 将HTTP请求升级为会话事件订阅连接
func (manager *WSManager) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &WSClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, 64),
		lastPing:  time.Now(),
		createdAt: time.Now(),
	}

	manager.register <- client

	go manager.writePump(client)
	go manager.readPump(client)
	return nil
}

// writePump 客户端写循环，附带心跳
func (manager *WSManager) writePump(client *WSClient) {
	pingTicker := time.NewTicker(manager.pingTimeout / 2)
	defer func() {
		pingTicker.Stop()
		// 先置关闭标志，再在发送锁内关闭通道，保证并发发送不会撞上已关闭的通道
		client.Close()
		client.sendMu.Lock()
		close(client.send)
		client.sendMu.Unlock()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-pingTicker.C:
			if client.IsClosed() {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 客户端读循环，只处理心跳，收到任何错误即注销
func (manager *WSManager) readPump(client *WSClient) {
	defer func() {
		manager.unregister <- client
	}()

	client.conn.SetReadDeadline(time.Now().Add(manager.pingTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(manager.pingTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(manager.pingTimeout))
	}
}
