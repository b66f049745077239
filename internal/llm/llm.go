// internal/llm/llm.go
package llm

// 消息角色常量，与上游chat-completion协议一致
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 表示发送给LLM提供商的一条带角色标签的消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
