// internal/api/ws.go
package api

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vvojtas/dailogi/internal/auth"
	"github.com/vvojtas/dailogi/internal/models"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

// wsFrame 是WebSocket推送帧的信封格式：事件名 + 与SSE相同的JSON载荷
type wsFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// DialogueSocket 是SSE之外的另一种推送传输：同一套生成事件
// 通过一条WebSocket连接推送。生命周期语义与SSE流一致：
// 原子活跃标志、恰好一次的注销回调、关闭后写入变为无操作。
type DialogueSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // 每个连接一把写锁

	inactive   int32
	timeout    time.Duration
	timer      *time.Timer
	onInactive func()
	done       chan struct{}
}

// NewDialogueSocket 包装一条已升级的WebSocket连接
func NewDialogueSocket(conn *websocket.Conn, timeout time.Duration, onInactive func()) *DialogueSocket {
	s := &DialogueSocket{
		conn:       conn,
		timeout:    timeout,
		onInactive: onInactive,
		done:       make(chan struct{}),
	}

	if timeout > 0 {
		s.timer = time.AfterFunc(timeout, func() {
			if s.markInactive() {
				log.Printf("⏰ WebSocket连接不活动超时")
			}
		})
	}

	// 读协程只用于探测客户端断开
	go s.readPump()

	return s
}

// IsActive 检查连接是否仍然活跃
func (s *DialogueSocket) IsActive() bool {
	return atomic.LoadInt32(&s.inactive) == 0
}

// Done 在连接变为不活跃后关闭
func (s *DialogueSocket) Done() <-chan struct{} {
	return s.done
}

// markInactive 恰好一次的活跃->不活跃转换
func (s *DialogueSocket) markInactive() bool {
	if !atomic.CompareAndSwapInt32(&s.inactive, 0, 1) {
		return false
	}

	if s.timer != nil {
		s.timer.Stop()
	}

	// 关闭连接前等待在途写入释放写锁
	s.writeMu.Lock()
	s.writeMu.Unlock()

	if s.onInactive != nil {
		s.onInactive()
	}
	s.conn.Close()
	close(s.done)
	return true
}

// ForceClose 带外强制关闭（连接注册表使用）
func (s *DialogueSocket) ForceClose() {
	if s.markInactive() {
		log.Printf("🔌 WebSocket连接被强制关闭")
	}
}

// readPump 丢弃入站消息，读错误意味着客户端断开
func (s *DialogueSocket) readPump() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if s.markInactive() {
				log.Printf("🔌 WebSocket客户端断开: %v", err)
			}
			return
		}
	}
}

// push 写出一个事件帧，关闭后无操作，写失败触发关闭
func (s *DialogueSocket) push(event string, payload interface{}) error {
	if !s.IsActive() {
		return nil
	}

	s.writeMu.Lock()

	if !s.IsActive() {
		s.writeMu.Unlock()
		return nil
	}

	err := s.conn.WriteJSON(wsFrame{Event: event, Data: payload})
	if err == nil && s.timer != nil {
		s.timer.Reset(s.timeout)
	}
	s.writeMu.Unlock()

	// 关闭转换会等待写锁，必须在释放写锁之后触发
	if err != nil {
		s.markInactive()
		return fmt.Errorf("写入 %s 帧失败: %w", event, err)
	}

	return nil
}

// OnDialogueStart 推送对话开始帧
func (s *DialogueSocket) OnDialogueStart(_ auth.Context, event models.DialogueStartEvent) error {
	return s.push("dialogue-start", event)
}

// OnTurnStart 推送角色回合开始帧
func (s *DialogueSocket) OnTurnStart(_ auth.Context, event models.TurnStartEvent) error {
	return s.push("character-start", event)
}

// OnToken 推送单个token帧
func (s *DialogueSocket) OnToken(_ auth.Context, event models.TokenEvent) error {
	return s.push("token", event)
}

// OnTurnComplete 推送角色回合完成帧
func (s *DialogueSocket) OnTurnComplete(_ auth.Context, event models.TurnCompleteEvent) error {
	return s.push("character-complete", event)
}

// OnDialogueComplete 推送最终帧后关闭连接
func (s *DialogueSocket) OnDialogueComplete(_ auth.Context, event models.DialogueCompleteEvent) error {
	err := s.push("dialogue-complete", event)
	s.markInactive()
	return err
}

// OnError 尽力推送error帧后无条件关闭连接
func (s *DialogueSocket) OnError(_ auth.Context, event models.ErrorEvent) error {
	message := "生成失败"
	if event.Cause != nil {
		message = event.Cause.Error()
	}

	pushErr := s.push("error", sseErrorPayload{
		Message:     message,
		Recoverable: false,
		EventID:     event.EventID,
	})

	s.markInactive()
	return pushErr
}
