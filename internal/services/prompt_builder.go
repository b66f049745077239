// internal/services/prompt_builder.go
package services

import (
	"fmt"
	"strings"

	"github.com/vvojtas/dailogi/internal/llm"
	"github.com/vvojtas/dailogi/internal/models"
)

// BuildPromptMessages 为一个角色回合构建发给LLM的有序消息列表。
// 纯函数：相同输入永远产出相同输出。
//
// 顺序契约：首先是一条确立当前角色人设和其他参与者身份的system消息，
// 然后每条历史消息对应一条消息 —— 当前角色自己说过的话标记为assistant，
// 其他角色的发言标记为user并按名字注明说话者。
// 这个顺序和角色标记正是上游提供商期望的格式。
func BuildPromptMessages(scene string, participants []*models.Character, history []models.Message, active *models.Character) []llm.ChatMessage {
	byID := make(map[string]*models.Character, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	messages := make([]llm.ChatMessage, 0, len(history)+1)
	messages = append(messages, llm.ChatMessage{
		Role:    llm.RoleSystem,
		Content: buildPersonaPrompt(scene, participants, active),
	})

	for _, msg := range history {
		if msg.CharacterID == active.ID {
			messages = append(messages, llm.ChatMessage{
				Role:    llm.RoleAssistant,
				Content: msg.Content,
			})
			continue
		}

		speaker := msg.CharacterID
		if ch, ok := byID[msg.CharacterID]; ok {
			speaker = ch.Name
		}
		messages = append(messages, llm.ChatMessage{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("%s: %s", speaker, msg.Content),
		})
	}

	return messages
}

// buildPersonaPrompt 构建system消息文本
func buildPersonaPrompt(scene string, participants []*models.Character, active *models.Character) string {
	var prompt strings.Builder

	prompt.WriteString(fmt.Sprintf("You are %s.\n", active.Name))
	if active.Description != "" {
		prompt.WriteString(fmt.Sprintf("Description: %s\n", active.Description))
	}
	if active.Personality != "" {
		prompt.WriteString(fmt.Sprintf("Personality: %s\n", active.Personality))
	}
	if active.SpeechStyle != "" {
		prompt.WriteString(fmt.Sprintf("Speech style: %s\n", active.SpeechStyle))
	}

	others := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.ID == active.ID {
			continue
		}
		others = append(others, p.Name)
	}
	if len(others) > 0 {
		prompt.WriteString(fmt.Sprintf("\nYou are in a conversation with: %s.\n", strings.Join(others, ", ")))
	}

	if scene != "" {
		prompt.WriteString(fmt.Sprintf("\nScene: %s\n", scene))
	}

	prompt.WriteString(fmt.Sprintf("\nStay in character and reply only as %s. Do not prefix your reply with your name.", active.Name))

	return prompt.String()
}
