// internal/api/registry.go
package api

import (
	"log"
	"sync"
)

// StreamHandle 是注册表持有的活跃推送连接句柄，
// 只用于带外强制关闭。
type StreamHandle interface {
	ForceClose()
}

// StreamRegistry 维护 对话ID -> 活跃推送连接 的映射。
// 这是多个对话任务并发修改的唯一共享结构：
// 连接打开时插入条目，连接变为不活跃时恰好移除一次。
// 移除是幂等的，由连接自身的活跃标志转换保证每次插入只对应一次移除。
type StreamRegistry struct {
	mu      sync.RWMutex
	streams map[string]StreamHandle
}

// NewStreamRegistry 创建连接注册表
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{
		streams: make(map[string]StreamHandle),
	}
}

// Register 登记一个对话的活跃推送连接
func (r *StreamRegistry) Register(dialogueID string, handle StreamHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streams[dialogueID] = handle
	log.Printf("✅ 对话 %s 的推送连接已注册（当前活跃连接: %d）", dialogueID, len(r.streams))
}

// Deregister 移除对话的连接条目，对不存在的条目是无操作
func (r *StreamRegistry) Deregister(dialogueID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[dialogueID]; !exists {
		return
	}
	delete(r.streams, dialogueID)
	log.Printf("🔌 对话 %s 的推送连接已注销（当前活跃连接: %d）", dialogueID, len(r.streams))
}

// Get 查找对话的活跃连接
func (r *StreamRegistry) Get(dialogueID string) (StreamHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, exists := r.streams[dialogueID]
	return handle, exists
}

// ForceClose 带外强制关闭某个对话的推送连接，返回是否找到了活跃连接
func (r *StreamRegistry) ForceClose(dialogueID string) bool {
	handle, exists := r.Get(dialogueID)
	if !exists {
		return false
	}

	handle.ForceClose()
	return true
}

// Count 返回当前活跃连接数量
func (r *StreamRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
