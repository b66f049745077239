// internal/models/event.go
package models

import "github.com/google/uuid"

// 生成事件的封闭集合：对话生成过程中每个可观察的时刻对应一个事件变体。
// 事件是不可变的值对象，每个事件携带一个全新的唯一标识，
// 客户端可据此做幂等处理。

// DialogueStartEvent 对话生成开始
// EventID 只在服务端内部传递，推送帧的字段集合不包含它
type DialogueStartEvent struct {
	DialogueID       string            `json:"dialogue_id"`
	CharacterConfigs []CharacterConfig `json:"character_configs"`
	TurnCount        int               `json:"turn_count"`
	EventID          string            `json:"-"`
}

// TurnStartEvent 某个角色的回合开始
type TurnStartEvent struct {
	CharacterConfig CharacterConfig `json:"character_config"`
	EventID         string          `json:"id"`
}

// TokenEvent 流式生成过程中到达的单个token
type TokenEvent struct {
	CharacterID string `json:"character_id"`
	Token       string `json:"token"`
	EventID     string `json:"id"`
}

// TurnCompleteEvent 某个角色的回合完成
// Content 携带该回合的完整消息文本，只在服务端内部传递，不进入推送帧
type TurnCompleteEvent struct {
	CharacterID string `json:"character_id"`
	TokenCount  int    `json:"token_count"`
	Content     string `json:"-"`
	TurnNumber  int    `json:"message_sequence_number"`
	EventID     string `json:"id"`
}

// DialogueCompleteEvent 整个对话生成结束
type DialogueCompleteEvent struct {
	Status    DialogueStatus `json:"status"`
	TurnCount int            `json:"turn_count"`
	EventID   string         `json:"id"`
}

// ErrorEvent 生成过程中发生不可恢复的错误
type ErrorEvent struct {
	DialogueID string
	Cause      error
	EventID    string
}

// NewEventID 为事件生成全新的唯一标识
func NewEventID() string {
	return uuid.NewString()
}
