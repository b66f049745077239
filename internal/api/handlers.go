// internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/vvojtas/dailogi/internal/errors"
	"github.com/vvojtas/dailogi/internal/models"
	"github.com/vvojtas/dailogi/internal/services"
	"github.com/vvojtas/dailogi/internal/utils"
)

// Handler 持有API层依赖的服务
type Handler struct {
	DialogueService  *services.DialogueService
	CharacterService *services.CharacterService
	Registry         *StreamRegistry
	Pool             *services.GenerationPool
	StreamTimeout    time.Duration
}

// NewHandler 创建API处理器
func NewHandler(dialogueService *services.DialogueService, characterService *services.CharacterService, registry *StreamRegistry, pool *services.GenerationPool, streamTimeout time.Duration) *Handler {
	return &Handler{
		DialogueService:  dialogueService,
		CharacterService: characterService,
		Registry:         registry,
		Pool:             pool,
		StreamTimeout:    streamTimeout,
	}
}

// StartDialogue 发起一次对话生成并通过SSE推送生成事件。
// 对话创建和连接建立在请求协程上同步完成，
// 生成循环在后台工作池上运行，事件经分发器送达推送流和持久化消费者。
func (h *Handler) StartDialogue(c *gin.Context) {
	authCtx := GetAuthContext(c)

	var req services.StartDialogueRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	// 建立流之前的失败直接以JSON错误返回，不发出任何事件
	dialogue, err := h.DialogueService.CreateDialogue(authCtx, req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	// 设置SSE响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")

	stream := NewSSEStream(c.Writer, h.StreamTimeout, func() {
		h.Registry.Deregister(dialogue.ID)
	})
	h.Registry.Register(dialogue.ID, stream)

	dispatcher := services.NewEventDispatcher(authCtx,
		stream,
		services.NewPersistenceListener(dialogue.ID, h.DialogueService.Repo()),
	)

	if err := h.DialogueService.EnqueueGeneration(dialogue, dispatcher); err != nil {
		stream.OnError(authCtx, models.ErrorEvent{
			DialogueID: dialogue.ID,
			Cause:      err,
			EventID:    models.NewEventID(),
		})
		return
	}

	// 挂起请求协程直到流结束；客户端断开不影响后台生成和持久化
	select {
	case <-stream.Done():
	case <-c.Request.Context().Done():
		stream.Abort(fmt.Errorf("客户端断开连接"))
	}
}

// StartDialogueWS 通过WebSocket发起对话生成：
// 连接上的第一条消息是生成请求，之后推送与SSE相同的事件序列
func (h *Handler) StartDialogueWS(c *gin.Context) {
	authCtx := GetAuthContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	var req services.StartDialogueRequest
	if err := conn.ReadJSON(&req); err != nil {
		conn.WriteJSON(wsFrame{Event: "error", Data: sseErrorPayload{Message: "无效的请求参数", EventID: models.NewEventID()}})
		conn.Close()
		return
	}

	dialogue, err := h.DialogueService.CreateDialogue(authCtx, req)
	if err != nil {
		conn.WriteJSON(wsFrame{Event: "error", Data: sseErrorPayload{Message: err.Error(), EventID: models.NewEventID()}})
		conn.Close()
		return
	}

	socket := NewDialogueSocket(conn, h.StreamTimeout, func() {
		h.Registry.Deregister(dialogue.ID)
	})
	h.Registry.Register(dialogue.ID, socket)

	dispatcher := services.NewEventDispatcher(authCtx,
		socket,
		services.NewPersistenceListener(dialogue.ID, h.DialogueService.Repo()),
	)

	if err := h.DialogueService.EnqueueGeneration(dialogue, dispatcher); err != nil {
		socket.OnError(authCtx, models.ErrorEvent{
			DialogueID: dialogue.ID,
			Cause:      err,
			EventID:    models.NewEventID(),
		})
		return
	}

	<-socket.Done()
}

// GetDialogue 按ID返回对话
func (h *Handler) GetDialogue(c *gin.Context) {
	dialogue, err := h.DialogueService.Repo().GetDialogue(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dialogue)
}

// ListDialogues 返回所有对话
func (h *Handler) ListDialogues(c *gin.Context) {
	dialogues, err := h.DialogueService.Repo().ListDialogues()
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"dialogues": dialogues})
}

// CloseDialogueStream 带外强制关闭某个对话的推送连接
func (h *Handler) CloseDialogueStream(c *gin.Context) {
	dialogueID := c.Param("id")

	if !h.Registry.ForceClose(dialogueID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "对话没有活跃的推送连接"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "推送连接已关闭"})
}

// CreateCharacter 创建角色
func (h *Handler) CreateCharacter(c *gin.Context) {
	var character models.Character
	if err := c.BindJSON(&character); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	if err := h.CharacterService.CreateCharacter(&character); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, character)
}

// GetCharacter 按ID返回角色
func (h *Handler) GetCharacter(c *gin.Context) {
	character, err := h.CharacterService.GetCharacter(c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, character)
}

// ListCharacters 返回所有角色
func (h *Handler) ListCharacters(c *gin.Context) {
	characters, err := h.CharacterService.ListCharacters()
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"characters": characters})
}

// GetStatus 返回服务状态：活跃连接、排队任务和生成指标
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_streams":     h.Registry.Count(),
		"queued_generations": h.Pool.QueueLen(),
		"metrics":            utils.GetMetricsCollector().Snapshot(),
	})
}

// respondError 把应用错误映射为HTTP状态码
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrorTypeValidation:
			status = http.StatusBadRequest
		case apperrors.ErrorTypeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrorTypeQueueClosed:
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
