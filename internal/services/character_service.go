// internal/services/character_service.go
package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/vvojtas/dailogi/internal/errors"
	"github.com/vvojtas/dailogi/internal/models"
	"github.com/vvojtas/dailogi/internal/storage"
)

const charactersDir = "characters"

// CharacterService 管理角色数据
type CharacterService struct {
	storage *storage.FileStorage
}

// NewCharacterService 创建角色服务
func NewCharacterService(fs *storage.FileStorage) *CharacterService {
	return &CharacterService{storage: fs}
}

// CreateCharacter 保存一个新角色
func (s *CharacterService) CreateCharacter(character *models.Character) error {
	if character.Name == "" {
		return apperrors.NewValidationError("角色名称不能为空", nil)
	}

	if character.ID == "" {
		character.ID = uuid.NewString()
	}
	now := time.Now()
	character.CreatedAt = now
	character.LastUpdated = now

	return s.storage.SaveJSONFile(charactersDir, character.ID+".json", character)
}

// GetCharacter 按ID读取角色
func (s *CharacterService) GetCharacter(characterID string) (*models.Character, error) {
	if !s.storage.FileExists(charactersDir, characterID+".json") {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("角色不存在: %s", characterID), nil)
	}

	var character models.Character
	if err := s.storage.LoadJSONFile(charactersDir, characterID+".json", &character); err != nil {
		return nil, fmt.Errorf("读取角色失败: %w", err)
	}

	return &character, nil
}

// GetCharacters 按给定ID顺序读取多个角色，任何一个不存在都返回错误
func (s *CharacterService) GetCharacters(characterIDs []string) ([]*models.Character, error) {
	characters := make([]*models.Character, 0, len(characterIDs))
	for _, id := range characterIDs {
		character, err := s.GetCharacter(id)
		if err != nil {
			return nil, err
		}
		characters = append(characters, character)
	}
	return characters, nil
}

// ListCharacters 列出所有角色，按名称排序
func (s *CharacterService) ListCharacters() ([]*models.Character, error) {
	ids, err := s.storage.ListJSONFiles(charactersDir)
	if err != nil {
		return nil, fmt.Errorf("列出角色失败: %w", err)
	}

	characters := make([]*models.Character, 0, len(ids))
	for _, id := range ids {
		character, err := s.GetCharacter(id)
		if err != nil {
			continue
		}
		characters = append(characters, character)
	}

	sort.Slice(characters, func(i, j int) bool {
		return characters[i].Name < characters[j].Name
	})

	return characters, nil
}
