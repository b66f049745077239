// internal/api/router.go
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/vvojtas/dailogi/internal/config"
	"github.com/vvojtas/dailogi/internal/di"
	"github.com/vvojtas/dailogi/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter(cfg *config.Config) (*gin.Engine, error) {
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	// 只从容器获取服务，不创建新实例
	container := di.GetContainer()

	dialogueService, ok := container.Get("dialogue").(*services.DialogueService)
	if !ok {
		return nil, fmt.Errorf("对话服务未正确初始化")
	}

	characterService, ok := container.Get("character").(*services.CharacterService)
	if !ok {
		return nil, fmt.Errorf("角色服务未正确初始化")
	}

	registry, ok := container.Get("registry").(*StreamRegistry)
	if !ok {
		return nil, fmt.Errorf("连接注册表未正确初始化")
	}

	pool, ok := container.Get("pool").(*services.GenerationPool)
	if !ok {
		return nil, fmt.Errorf("生成工作池未正确初始化")
	}

	handler := NewHandler(dialogueService, characterService, registry, pool, cfg.StreamTimeout)

	router := gin.Default()
	router.Use(AuthMiddleware(cfg.AuthSecret))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/dialogues", handler.StartDialogue)
		apiGroup.GET("/dialogues", handler.ListDialogues)
		apiGroup.GET("/dialogues/:id", handler.GetDialogue)
		apiGroup.POST("/dialogues/:id/close", handler.CloseDialogueStream)

		apiGroup.POST("/characters", handler.CreateCharacter)
		apiGroup.GET("/characters", handler.ListCharacters)
		apiGroup.GET("/characters/:id", handler.GetCharacter)

		apiGroup.GET("/status", handler.GetStatus)
	}

	router.GET("/ws/dialogues", handler.StartDialogueWS)

	return router, nil
}
