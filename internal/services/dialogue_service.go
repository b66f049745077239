// internal/services/dialogue_service.go
package services

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vvojtas/dailogi/internal/auth"
	apperrors "github.com/vvojtas/dailogi/internal/errors"
	"github.com/vvojtas/dailogi/internal/llm"
	"github.com/vvojtas/dailogi/internal/models"
	"github.com/vvojtas/dailogi/internal/utils"
)

// 场景描述的长度上限
const maxSceneDescriptionLength = 4000

// StreamingClient 是对话服务依赖的LLM流式客户端抽象
type StreamingClient interface {
	StreamChat(modelID string, messages []llm.ChatMessage, credential string, onToken llm.TokenHandler, onComplete llm.CompleteHandler) string
	CancelGeneration(requestID string) bool
}

// StartDialogueRequest 发起一次对话生成的请求
type StartDialogueRequest struct {
	SceneDescription string                   `json:"scene_description" binding:"required"`
	CharacterConfigs []models.CharacterConfig `json:"character_configs" binding:"required"`
	TurnCount        int                      `json:"turn_count,omitempty"`
}

// DialogueService 负责对话的创建和回合制生成编排。
//
// 编排是严格顺序的状态机：同一时刻最多一个角色在生成，
// 生成顺序是配置声明顺序、每轮重复一遍。下一个角色的请求
// 只有在当前角色的流完成信号到达之后才会发出。
type DialogueService struct {
	repo       *DialogueRepo
	characters *CharacterService
	client     StreamingClient
	pool       *GenerationPool
	metrics    *utils.MetricsCollector

	defaultTurnCount int
	maxTurnCount     int
	credential       string
}

// NewDialogueService 创建对话服务
func NewDialogueService(repo *DialogueRepo, characters *CharacterService, client StreamingClient, pool *GenerationPool, defaultTurnCount, maxTurnCount int, credential string) *DialogueService {
	if defaultTurnCount < 1 {
		defaultTurnCount = 1
	}
	if maxTurnCount < defaultTurnCount {
		maxTurnCount = defaultTurnCount
	}
	return &DialogueService{
		repo:             repo,
		characters:       characters,
		client:           client,
		pool:             pool,
		metrics:          utils.GetMetricsCollector(),
		defaultTurnCount: defaultTurnCount,
		maxTurnCount:     maxTurnCount,
		credential:       credential,
	}
}

// Repo 返回底层对话仓库
func (s *DialogueService) Repo() *DialogueRepo {
	return s.repo
}

// CreateDialogue 校验请求并持久化新对话，状态为进行中。
// 这一步在请求协程上同步完成，之后的生成在后台工作池运行。
func (s *DialogueService) CreateDialogue(authCtx auth.Context, req StartDialogueRequest) (*models.Dialogue, error) {
	if strings.TrimSpace(req.SceneDescription) == "" {
		return nil, apperrors.NewValidationError("场景描述不能为空", nil)
	}
	if len(req.SceneDescription) > maxSceneDescriptionLength {
		return nil, apperrors.NewValidationError(fmt.Sprintf("场景描述超过%d字符上限", maxSceneDescriptionLength), nil)
	}

	if len(req.CharacterConfigs) < models.MinCharacterConfigs || len(req.CharacterConfigs) > models.MaxCharacterConfigs {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("角色配置数量必须在%d到%d之间", models.MinCharacterConfigs, models.MaxCharacterConfigs), nil)
	}

	for _, cfg := range req.CharacterConfigs {
		if cfg.CharacterID == "" || cfg.LLMID == "" {
			return nil, apperrors.NewValidationError("角色配置必须同时包含character_id和llm_id", nil)
		}
		if _, err := s.characters.GetCharacter(cfg.CharacterID); err != nil {
			return nil, err
		}
	}

	turnCount := s.defaultTurnCount
	if req.TurnCount > 0 {
		turnCount = req.TurnCount
		if turnCount > s.maxTurnCount {
			turnCount = s.maxTurnCount
		}
	}

	now := time.Now()
	dialogue := &models.Dialogue{
		ID:               uuid.NewString(),
		UserID:           authCtx.UserID,
		SceneDescription: req.SceneDescription,
		CharacterConfigs: req.CharacterConfigs,
		Status:           models.DialogueStatusInProgress,
		TurnCount:        turnCount,
		Messages:         []models.Message{},
		CreatedAt:        now,
		LastUpdated:      now,
	}

	if err := s.repo.SaveDialogue(dialogue); err != nil {
		return nil, apperrors.NewSetupError("创建对话失败", err)
	}

	return dialogue, nil
}

// EnqueueGeneration 把对话生成任务提交到有界工作池。
// 超出容量的请求会排队等待，而不是被拒绝。
func (s *DialogueService) EnqueueGeneration(dialogue *models.Dialogue, dispatcher *EventDispatcher) error {
	return s.pool.Submit(func() {
		s.runDialogue(dialogue, dispatcher)
	})
}

// runDialogue 驱动回合制生成循环。
// 循环中任何位置的失败都会立即中止，只发出一个错误事件，不重试不恢复。
func (s *DialogueService) runDialogue(dialogue *models.Dialogue, dispatcher *EventDispatcher) {
	s.metrics.IncrementCounter("dialogues_started")

	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ 对话 %s 生成panic: %v", dialogue.ID, r)
			s.fail(dialogue, dispatcher, fmt.Errorf("生成过程异常: %v", r))
		}
	}()

	dispatcher.DialogueStarted(models.DialogueStartEvent{
		DialogueID:       dialogue.ID,
		CharacterConfigs: dialogue.CharacterConfigs,
		TurnCount:        dialogue.TurnCount,
		EventID:          models.NewEventID(),
	})

	characterIDs := make([]string, 0, len(dialogue.CharacterConfigs))
	for _, cfg := range dialogue.CharacterConfigs {
		characterIDs = append(characterIDs, cfg.CharacterID)
	}

	participants, err := s.characters.GetCharacters(characterIDs)
	if err != nil {
		s.fail(dialogue, dispatcher, apperrors.NewOrchestrationError("读取对话角色失败", err))
		return
	}

	byID := make(map[string]*models.Character, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	// 进行中的消息历史只存在于编排器内存里；
	// 落盘由持久化消费者在回合完成事件上完成
	history := make([]models.Message, 0, dialogue.TurnCount*len(dialogue.CharacterConfigs))

	for turn := 0; turn < dialogue.TurnCount; turn++ {
		for _, cfg := range dialogue.CharacterConfigs {
			message, ok := s.runCharacterTurn(dialogue, dispatcher, cfg, byID[cfg.CharacterID], participants, history, turn)
			if !ok {
				return
			}
			// 追加后，后续角色与后续轮次都能看到这条消息
			history = append(history, message)
		}
	}

	dispatcher.DialogueCompleted(models.DialogueCompleteEvent{
		Status:    models.DialogueStatusCompleted,
		TurnCount: dialogue.TurnCount,
		EventID:   models.NewEventID(),
	})

	s.metrics.IncrementCounter("dialogues_completed")
	log.Printf("✅ 对话 %s 生成完成（%d轮 × %d角色）", dialogue.ID, dialogue.TurnCount, len(dialogue.CharacterConfigs))
}

// runCharacterTurn 执行单个角色回合：发出回合开始事件、流式生成、
// 等待完成信号、发出回合完成事件。返回该回合产出的消息。
func (s *DialogueService) runCharacterTurn(dialogue *models.Dialogue, dispatcher *EventDispatcher, cfg models.CharacterConfig, active *models.Character, participants []*models.Character, history []models.Message, turn int) (models.Message, bool) {
	if active == nil {
		s.fail(dialogue, dispatcher, apperrors.NewOrchestrationError(fmt.Sprintf("角色 %s 不在参与者列表中", cfg.CharacterID), nil))
		return models.Message{}, false
	}

	dispatcher.TurnStarted(models.TurnStartEvent{
		CharacterConfig: cfg,
		EventID:         models.NewEventID(),
	})

	// 提示词基于当前的内存历史，不包含本回合尚未完成的消息
	promptMessages := BuildPromptMessages(dialogue.SceneDescription, participants, history, active)

	// token回调运行在流式客户端的网络协程上，
	// 写入缓冲区前必须加锁；计数在每个回合的缓冲区重置为0
	var mu sync.Mutex
	var buffer strings.Builder
	tokenCount := 0
	done := make(chan struct{})

	s.client.StreamChat(cfg.LLMID, promptMessages, s.credential,
		func(token string) {
			mu.Lock()
			buffer.WriteString(token)
			tokenCount++
			mu.Unlock()

			dispatcher.TokenReceived(models.TokenEvent{
				CharacterID: cfg.CharacterID,
				Token:       token,
				EventID:     models.NewEventID(),
			})
		},
		func() {
			close(done)
		})

	// 显式顺序保证：在完成信号到达之前不开始下一个角色
	<-done

	mu.Lock()
	content := buffer.String()
	count := tokenCount
	mu.Unlock()

	// 指标按回合批量累加，不在token回调的热路径上逐个递增
	s.metrics.AddToCounter("tokens_streamed", int64(count))

	if count == 0 {
		// 提供商层面的失败表现为"零token后完成"，按当前行为照常推进，
		// 该回合产出空消息，只记录日志
		log.Printf("⚠️ 对话 %s 第%d轮角色 %s 未产出任何token", dialogue.ID, turn, cfg.CharacterID)
	}

	message := models.Message{
		TurnNumber:  turn,
		CharacterID: cfg.CharacterID,
		Content:     content,
		CreatedAt:   time.Now(),
	}

	dispatcher.TurnCompleted(models.TurnCompleteEvent{
		CharacterID: cfg.CharacterID,
		TokenCount:  count,
		Content:     content,
		TurnNumber:  turn,
		EventID:     models.NewEventID(),
	})

	return message, true
}

// fail 中止生成：发出错误事件并记录指标。
// 状态落盘由持久化消费者在错误事件上完成。
func (s *DialogueService) fail(dialogue *models.Dialogue, dispatcher *EventDispatcher, cause error) {
	s.metrics.IncrementCounter("dialogues_failed")
	log.Printf("❌ 对话 %s 生成失败: %v", dialogue.ID, cause)

	dispatcher.Failed(models.ErrorEvent{
		DialogueID: dialogue.ID,
		Cause:      cause,
		EventID:    models.NewEventID(),
	})
}
