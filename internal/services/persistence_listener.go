// internal/services/persistence_listener.go
package services

import (
	"time"

	"github.com/vvojtas/dailogi/internal/auth"
	"github.com/vvojtas/dailogi/internal/models"
)

// PersistenceListener 对持久化相关的事件做出反应：
// 回合完成时落盘消息，对话结束或出错时更新状态。
// 瞬态进度事件（开始、token）没有需要持久化的内容，一律忽略。
// 这里抛出的任何错误都会被分发器拦截，不会影响推送消费者。
type PersistenceListener struct {
	dialogueID string
	store      DialogueStore
}

// NewPersistenceListener 创建持久化消费者
func NewPersistenceListener(dialogueID string, store DialogueStore) *PersistenceListener {
	return &PersistenceListener{
		dialogueID: dialogueID,
		store:      store,
	}
}

// OnDialogueStart 无持久化动作
func (p *PersistenceListener) OnDialogueStart(_ auth.Context, _ models.DialogueStartEvent) error {
	return nil
}

// OnTurnStart 无持久化动作
func (p *PersistenceListener) OnTurnStart(_ auth.Context, _ models.TurnStartEvent) error {
	return nil
}

// OnToken 无持久化动作
func (p *PersistenceListener) OnToken(_ auth.Context, _ models.TokenEvent) error {
	return nil
}

// OnTurnComplete 持久化该回合产出的完整消息
func (p *PersistenceListener) OnTurnComplete(_ auth.Context, event models.TurnCompleteEvent) error {
	return p.store.AppendMessage(p.dialogueID, models.Message{
		TurnNumber:  event.TurnNumber,
		CharacterID: event.CharacterID,
		Content:     event.Content,
		CreatedAt:   time.Now(),
	})
}

// OnDialogueComplete 把对话状态置为已完成
func (p *PersistenceListener) OnDialogueComplete(_ auth.Context, event models.DialogueCompleteEvent) error {
	return p.store.UpdateStatus(p.dialogueID, event.Status)
}

// OnError 把对话状态置为失败
func (p *PersistenceListener) OnError(_ auth.Context, _ models.ErrorEvent) error {
	return p.store.UpdateStatus(p.dialogueID, models.DialogueStatusFailed)
}
