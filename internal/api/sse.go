// internal/api/sse.go
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vvojtas/dailogi/internal/auth"
	"github.com/vvojtas/dailogi/internal/models"
)

// flushWriter 是SSE输出需要的最小写入接口，
// gin.ResponseWriter 和 httptest.ResponseRecorder 都满足
type flushWriter interface {
	io.Writer
	http.Flusher
}

// sseErrorPayload 是error帧的线上格式
type sseErrorPayload struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	EventID     string `json:"id"`
}

// SSEStream 把生成事件映射到一条长连接的SSE线协议上，并管理连接生命周期。
//
// 活跃标志是原子的：正常完成、不活动超时、传输错误三条路径都只把标志
// 翻转一次，并且只在第一次转换时调用注销回调，把对话从连接注册表移除。
// 所有事件方法先检查活跃标志，已关闭的连接不再接收任何写入。
type SSEStream struct {
	w  flushWriter
	mu sync.Mutex // 序列化对底层writer的写入

	inactive   int32 // 原子标志，0=活跃，1=不活跃
	timeout    time.Duration
	timer      *time.Timer
	onInactive func()
	done       chan struct{}
	closeErr   atomic.Value // 首个导致关闭的错误（如有）
}

// NewSSEStream 创建SSE推送流。timeout是连接的不活动上限，
// onInactive在连接首次变为不活跃时被调用恰好一次。
func NewSSEStream(w flushWriter, timeout time.Duration, onInactive func()) *SSEStream {
	s := &SSEStream{
		w:          w,
		timeout:    timeout,
		onInactive: onInactive,
		done:       make(chan struct{}),
	}

	if timeout > 0 {
		s.timer = time.AfterFunc(timeout, s.expire)
	}

	return s
}

// IsActive 检查连接是否仍然活跃
func (s *SSEStream) IsActive() bool {
	return atomic.LoadInt32(&s.inactive) == 0
}

// Done 在连接变为不活跃后关闭
func (s *SSEStream) Done() <-chan struct{} {
	return s.done
}

// CloseErr 返回导致关闭的错误，正常完成时为nil
func (s *SSEStream) CloseErr() error {
	if err, ok := s.closeErr.Load().(error); ok {
		return err
	}
	return nil
}

// markInactive 执行恰好一次的活跃->不活跃转换。
// 并发的完成、超时和错误路径同时到达时，只有CAS成功的一方
// 执行注销回调并关闭done通道。
func (s *SSEStream) markInactive(cause error) bool {
	if !atomic.CompareAndSwapInt32(&s.inactive, 0, 1) {
		return false
	}

	if cause != nil {
		s.closeErr.Store(cause)
	}
	if s.timer != nil {
		s.timer.Stop()
	}

	// done关闭后挂起的请求协程返回，底层writer随之失效，
	// 所以必须先等在途写入释放写锁，不能让任何写入横跨这个边界
	s.mu.Lock()
	s.mu.Unlock()

	if s.onInactive != nil {
		s.onInactive()
	}
	close(s.done)
	return true
}

// Complete 正常完成路径
func (s *SSEStream) Complete() {
	s.markInactive(nil)
}

// Abort 传输层错误路径（写失败、客户端断开）
func (s *SSEStream) Abort(cause error) {
	if s.markInactive(cause) {
		log.Printf("🔌 SSE连接已中止: %v", cause)
	}
}

// ForceClose 带外强制关闭（连接注册表使用）
func (s *SSEStream) ForceClose() {
	s.Abort(fmt.Errorf("连接被强制关闭"))
}

// expire 不活动超时路径
func (s *SSEStream) expire() {
	if s.markInactive(fmt.Errorf("连接不活动超时（%s）", s.timeout)) {
		log.Printf("⏰ SSE连接不活动超时")
	}
}

// send 写出一个命名事件帧。每次成功写入后立即冲刷，
// 避免客户端收到缓冲的半帧。
func (s *SSEStream) send(event string, payload interface{}) error {
	if !s.IsActive() {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化 %s 事件失败: %w", event, err)
	}

	s.mu.Lock()

	// 双重检查，避免与关闭路径竞争
	if !s.IsActive() {
		s.mu.Unlock()
		return nil
	}

	_, writeErr := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	if writeErr == nil {
		s.w.Flush()
		if s.timer != nil {
			s.timer.Reset(s.timeout)
		}
	}
	s.mu.Unlock()

	// 关闭转换会等待写锁，必须在释放写锁之后触发
	if writeErr != nil {
		err := fmt.Errorf("写入 %s 事件失败: %w", event, writeErr)
		s.Abort(err)
		return err
	}

	return nil
}

// OnDialogueStart 推送对话开始帧
func (s *SSEStream) OnDialogueStart(_ auth.Context, event models.DialogueStartEvent) error {
	return s.send("dialogue-start", event)
}

// OnTurnStart 推送角色回合开始帧
func (s *SSEStream) OnTurnStart(_ auth.Context, event models.TurnStartEvent) error {
	return s.send("character-start", event)
}

// OnToken 推送单个token帧
func (s *SSEStream) OnToken(_ auth.Context, event models.TokenEvent) error {
	return s.send("token", event)
}

// OnTurnComplete 推送角色回合完成帧
func (s *SSEStream) OnTurnComplete(_ auth.Context, event models.TurnCompleteEvent) error {
	return s.send("character-complete", event)
}

// OnDialogueComplete 推送最终帧，随后关闭连接
func (s *SSEStream) OnDialogueComplete(_ auth.Context, event models.DialogueCompleteEvent) error {
	err := s.send("dialogue-complete", event)
	s.Complete()
	return err
}

// OnError 尽力推送一个error帧，然后无条件以错误结局关闭连接，
// 即使error帧本身发送失败
func (s *SSEStream) OnError(_ auth.Context, event models.ErrorEvent) error {
	message := "生成失败"
	if event.Cause != nil {
		message = event.Cause.Error()
	}

	sendErr := s.send("error", sseErrorPayload{
		Message:     message,
		Recoverable: false,
		EventID:     event.EventID,
	})

	s.Abort(event.Cause)
	return sendErr
}
