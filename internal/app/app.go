// internal/app/app.go
package app

import (
	"log"
	"path/filepath"

	"github.com/vvojtas/dailogi/internal/api"
	"github.com/vvojtas/dailogi/internal/config"
	"github.com/vvojtas/dailogi/internal/di"
	"github.com/vvojtas/dailogi/internal/llm"
	"github.com/vvojtas/dailogi/internal/services"
	"github.com/vvojtas/dailogi/internal/storage"
)

// InitServices 按依赖顺序初始化所有服务并注册到DI容器
func InitServices(cfg *config.Config) error {
	container := di.GetContainer()

	fileStorage, err := storage.NewFileStorage(filepath.Join(cfg.DataDir))
	if err != nil {
		return err
	}
	container.Register("storage", fileStorage)

	characterService := services.NewCharacterService(fileStorage)
	container.Register("character", characterService)

	dialogueRepo := services.NewDialogueRepo(fileStorage)
	container.Register("dialogue_repo", dialogueRepo)

	streamingClient := llm.NewStreamingClient(cfg.LLMBaseURL)
	container.Register("llm", streamingClient)

	pool := services.NewGenerationPool(cfg.WorkerCount, cfg.QueueDepth)
	container.Register("pool", pool)

	dialogueService := services.NewDialogueService(
		dialogueRepo,
		characterService,
		streamingClient,
		pool,
		cfg.DefaultTurnCount,
		cfg.MaxTurnCount,
		cfg.LLMAPIKey,
	)
	container.Register("dialogue", dialogueService)

	registry := api.NewStreamRegistry()
	container.Register("registry", registry)

	log.Printf("✅ 服务初始化完成，注册数量: %d", len(container.GetNames()))
	return nil
}

// Shutdown 停止后台组件
func Shutdown() {
	container := di.GetContainer()

	if pool, ok := container.Get("pool").(*services.GenerationPool); ok {
		pool.Shutdown()
	}

	log.Println("✅ 后台组件已停止")
}
