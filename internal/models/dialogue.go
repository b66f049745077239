// internal/models/dialogue.go
package models

import "time"

// DialogueStatus 对话生成的生命周期状态
type DialogueStatus string

const (
	DialogueStatusInProgress DialogueStatus = "in_progress"
	DialogueStatusCompleted  DialogueStatus = "completed"
	DialogueStatusFailed     DialogueStatus = "failed"
)

// 每个对话允许的角色配置数量范围
const (
	MinCharacterConfigs = 2
	MaxCharacterConfigs = 3
)

// CharacterConfig 表示参与对话的一个(角色, 模型)配对
// 对话创建之后不可再修改
type CharacterConfig struct {
	CharacterID string `json:"character_id"`
	LLMID       string `json:"llm_id"`
}

// Message 表示一个角色回合产出的完整消息
// 每个完成的角色回合恰好创建一条，创建后不再修改
type Message struct {
	TurnNumber  int       `json:"turn_number"`
	CharacterID string    `json:"character_id"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// Dialogue 表示一次完整的多角色对话生成会话
// 生成期间唯一的变更是状态转换和消息历史的追加
type Dialogue struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id,omitempty"`
	SceneDescription string            `json:"scene_description"`
	CharacterConfigs []CharacterConfig `json:"character_configs"`
	Status           DialogueStatus    `json:"status"`
	TurnCount        int               `json:"turn_count"`
	Messages         []Message         `json:"messages"`
	CreatedAt        time.Time         `json:"created_at"`
	LastUpdated      time.Time         `json:"last_updated"`
}
