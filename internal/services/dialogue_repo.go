// internal/services/dialogue_repo.go
package services

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/vvojtas/dailogi/internal/errors"
	"github.com/vvojtas/dailogi/internal/models"
	"github.com/vvojtas/dailogi/internal/storage"
)

const dialoguesDir = "dialogues"

// DialogueStore 是持久化消费者使用的窄存储接口。
// 生成核心只通过这几个调用接触持久化层。
type DialogueStore interface {
	AppendMessage(dialogueID string, message models.Message) error
	UpdateStatus(dialogueID string, status models.DialogueStatus) error
}

// DialogueRepo 基于文件存储的对话仓库
type DialogueRepo struct {
	storage *storage.FileStorage

	// 对话级别锁，保护读-改-写序列 dialogueID -> *sync.Mutex
	dialogueLocks sync.Map
}

// NewDialogueRepo 创建对话仓库
func NewDialogueRepo(fs *storage.FileStorage) *DialogueRepo {
	return &DialogueRepo{storage: fs}
}

func (r *DialogueRepo) getDialogueLock(dialogueID string) *sync.Mutex {
	value, _ := r.dialogueLocks.LoadOrStore(dialogueID, &sync.Mutex{})
	return value.(*sync.Mutex)
}

// SaveDialogue 保存完整的对话记录
func (r *DialogueRepo) SaveDialogue(dialogue *models.Dialogue) error {
	return r.storage.SaveJSONFile(dialoguesDir, dialogue.ID+".json", dialogue)
}

// GetDialogue 按ID读取对话
func (r *DialogueRepo) GetDialogue(dialogueID string) (*models.Dialogue, error) {
	if !r.storage.FileExists(dialoguesDir, dialogueID+".json") {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("对话不存在: %s", dialogueID), nil)
	}

	var dialogue models.Dialogue
	if err := r.storage.LoadJSONFile(dialoguesDir, dialogueID+".json", &dialogue); err != nil {
		return nil, fmt.Errorf("读取对话失败: %w", err)
	}

	return &dialogue, nil
}

// ListDialogues 列出所有对话，最新的在前
func (r *DialogueRepo) ListDialogues() ([]*models.Dialogue, error) {
	ids, err := r.storage.ListJSONFiles(dialoguesDir)
	if err != nil {
		return nil, fmt.Errorf("列出对话失败: %w", err)
	}

	dialogues := make([]*models.Dialogue, 0, len(ids))
	for _, id := range ids {
		dialogue, err := r.GetDialogue(id)
		if err != nil {
			continue
		}
		dialogues = append(dialogues, dialogue)
	}

	sort.Slice(dialogues, func(i, j int) bool {
		return dialogues[i].CreatedAt.After(dialogues[j].CreatedAt)
	})

	return dialogues, nil
}

// AppendMessage 把一条完成的消息追加到对话历史。
// 消息历史只追加不修改，顺序由回合号与角色顺序决定。
func (r *DialogueRepo) AppendMessage(dialogueID string, message models.Message) error {
	lock := r.getDialogueLock(dialogueID)
	lock.Lock()
	defer lock.Unlock()

	dialogue, err := r.GetDialogue(dialogueID)
	if err != nil {
		return err
	}

	dialogue.Messages = append(dialogue.Messages, message)
	dialogue.LastUpdated = time.Now()

	return r.SaveDialogue(dialogue)
}

// UpdateStatus 更新对话状态
func (r *DialogueRepo) UpdateStatus(dialogueID string, status models.DialogueStatus) error {
	lock := r.getDialogueLock(dialogueID)
	lock.Lock()
	defer lock.Unlock()

	dialogue, err := r.GetDialogue(dialogueID)
	if err != nil {
		return err
	}

	dialogue.Status = status
	dialogue.LastUpdated = time.Now()

	return r.SaveDialogue(dialogue)
}
