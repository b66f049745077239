// internal/services/dispatcher.go
package services

import (
	"log"

	"github.com/vvojtas/dailogi/internal/auth"
	"github.com/vvojtas/dailogi/internal/models"
)

// DialogueEventListener 是生成事件的消费者，每个事件变体一个方法。
// 方法返回的错误以及panic都由分发器捕获，不会传播回编排循环。
type DialogueEventListener interface {
	OnDialogueStart(authCtx auth.Context, event models.DialogueStartEvent) error
	OnTurnStart(authCtx auth.Context, event models.TurnStartEvent) error
	OnToken(authCtx auth.Context, event models.TokenEvent) error
	OnTurnComplete(authCtx auth.Context, event models.TurnCompleteEvent) error
	OnDialogueComplete(authCtx auth.Context, event models.DialogueCompleteEvent) error
	OnError(authCtx auth.Context, event models.ErrorEvent) error
}

// EventDispatcher 把每个事件按固定顺序投递给全部消费者。
// 单个消费者的失败只记录日志，既不中断对其余消费者的投递，
// 也不上抛给编排器：持久化消费者的故障绝不能影响客户端可见的推送，反之亦然。
//
// 消费者运行在后台生成协程上，拿不到原始请求协程的任何状态，
// 所以构建分发器时捕获的认证上下文会作为显式参数传入每次消费者调用。
type EventDispatcher struct {
	authCtx   auth.Context
	listeners []DialogueEventListener
}

// NewEventDispatcher 创建事件分发器，消费者列表在对话开始时固定
func NewEventDispatcher(authCtx auth.Context, listeners ...DialogueEventListener) *EventDispatcher {
	return &EventDispatcher{
		authCtx:   authCtx,
		listeners: listeners,
	}
}

// DialogueStarted 分发对话开始事件
func (d *EventDispatcher) DialogueStarted(event models.DialogueStartEvent) {
	for _, listener := range d.listeners {
		d.deliver("dialogue-start", listener, func(l DialogueEventListener) error {
			return l.OnDialogueStart(d.authCtx, event)
		})
	}
}

// TurnStarted 分发回合开始事件
func (d *EventDispatcher) TurnStarted(event models.TurnStartEvent) {
	for _, listener := range d.listeners {
		d.deliver("character-start", listener, func(l DialogueEventListener) error {
			return l.OnTurnStart(d.authCtx, event)
		})
	}
}

// TokenReceived 分发token事件
func (d *EventDispatcher) TokenReceived(event models.TokenEvent) {
	for _, listener := range d.listeners {
		d.deliver("token", listener, func(l DialogueEventListener) error {
			return l.OnToken(d.authCtx, event)
		})
	}
}

// TurnCompleted 分发回合完成事件
func (d *EventDispatcher) TurnCompleted(event models.TurnCompleteEvent) {
	for _, listener := range d.listeners {
		d.deliver("character-complete", listener, func(l DialogueEventListener) error {
			return l.OnTurnComplete(d.authCtx, event)
		})
	}
}

// DialogueCompleted 分发对话完成事件
func (d *EventDispatcher) DialogueCompleted(event models.DialogueCompleteEvent) {
	for _, listener := range d.listeners {
		d.deliver("dialogue-complete", listener, func(l DialogueEventListener) error {
			return l.OnDialogueComplete(d.authCtx, event)
		})
	}
}

// Failed 分发错误事件
func (d *EventDispatcher) Failed(event models.ErrorEvent) {
	for _, listener := range d.listeners {
		d.deliver("error", listener, func(l DialogueEventListener) error {
			return l.OnError(d.authCtx, event)
		})
	}
}

// deliver 向单个消费者投递事件，隔离error和panic
func (d *EventDispatcher) deliver(eventName string, listener DialogueEventListener, send func(DialogueEventListener) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ 事件消费者处理 %s 事件时panic: %v", eventName, r)
		}
	}()

	if err := send(listener); err != nil {
		log.Printf("⚠️ 事件消费者处理 %s 事件失败: %v", eventName, err)
	}
}
