// internal/models/character.go
package models

import "time"

// Character 表示可参与对话的一个角色
type Character struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Personality string    `json:"personality,omitempty"`
	SpeechStyle string    `json:"speech_style,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}
