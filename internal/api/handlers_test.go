// internal/api/handlers_test.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vvojtas/dailogi/internal/auth"
	"github.com/vvojtas/dailogi/internal/llm"
	"github.com/vvojtas/dailogi/internal/models"
	"github.com/vvojtas/dailogi/internal/services"
	"github.com/vvojtas/dailogi/internal/storage"
)

// scriptedClient 按调用顺序回放token脚本
type scriptedClient struct {
	mu      sync.Mutex
	scripts [][]string
	calls   int
}

func (f *scriptedClient) StreamChat(_ string, _ []llm.ChatMessage, _ string, onToken llm.TokenHandler, onComplete llm.CompleteHandler) string {
	f.mu.Lock()
	index := f.calls
	f.calls++
	var script []string
	if index < len(f.scripts) {
		script = f.scripts[index]
	}
	f.mu.Unlock()

	go func() {
		for _, token := range script {
			if onToken != nil {
				onToken(token)
			}
		}
		if onComplete != nil {
			onComplete()
		}
	}()

	return fmt.Sprintf("req-%d", index)
}

func (f *scriptedClient) CancelGeneration(string) bool { return false }

// newTestRouter 用临时目录和脚本化的流式客户端搭建完整路由
func newTestRouter(t *testing.T, scripts [][]string) (*gin.Engine, *services.CharacterService, *StreamRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件存储失败: %v", err)
	}

	characterService := services.NewCharacterService(fs)
	repo := services.NewDialogueRepo(fs)
	pool := services.NewGenerationPool(2, 4)
	t.Cleanup(pool.Shutdown)

	dialogueService := services.NewDialogueService(repo, characterService, &scriptedClient{scripts: scripts}, pool, 1, 10, "test-key")
	registry := NewStreamRegistry()
	handler := NewHandler(dialogueService, characterService, registry, pool, time.Minute)

	router := gin.New()
	router.Use(AuthMiddleware(""))
	router.POST("/api/dialogues", handler.StartDialogue)
	router.GET("/api/dialogues", handler.ListDialogues)
	router.GET("/api/dialogues/:id", handler.GetDialogue)
	router.POST("/api/characters", handler.CreateCharacter)
	router.GET("/api/characters/:id", handler.GetCharacter)
	router.GET("/api/status", handler.GetStatus)

	return router, characterService, registry
}

func seedCharacters(t *testing.T, characters *services.CharacterService) (string, string) {
	t.Helper()
	alice := &models.Character{ID: "char-a", Name: "Alice", Description: "a curious scientist"}
	bob := &models.Character{ID: "char-b", Name: "Bob", Description: "a grumpy pilot"}
	if err := characters.CreateCharacter(alice); err != nil {
		t.Fatalf("创建角色失败: %v", err)
	}
	if err := characters.CreateCharacter(bob); err != nil {
		t.Fatalf("创建角色失败: %v", err)
	}
	return alice.ID, bob.ID
}

// TestStartDialogueStreamsEvents 测试发起对话后整条SSE事件序列推送到响应
func TestStartDialogueStreamsEvents(t *testing.T) {
	router, characters, registry := newTestRouter(t, [][]string{
		{"Hi", " there"},
		{"Hello"},
	})
	aliceID, bobID := seedCharacters(t, characters)

	body := fmt.Sprintf(`{"scene_description":"A space station.","character_configs":[{"character_id":%q,"llm_id":"model-a"},{"character_id":%q,"llm_id":"model-b"}],"turn_count":1}`, aliceID, bobID)
	req := httptest.NewRequest(http.MethodPost, "/api/dialogues", strings.NewReader(body))
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type应为text/event-stream，实际 %q", ct)
	}

	frames := parseFrames(t, recorder.Body.String())
	var names []string
	for _, frame := range frames {
		names = append(names, frame.Event)
	}

	expected := []string{
		"dialogue-start",
		"character-start", "token", "token", "character-complete",
		"character-start", "token", "character-complete",
		"dialogue-complete",
	}
	if strings.Join(names, ",") != strings.Join(expected, ",") {
		t.Fatalf("事件序列不正确:\n期望 %v\n实际 %v", expected, names)
	}

	// 请求协程返回意味着流已结束，连接应已从注册表移除
	if registry.Count() != 0 {
		t.Fatalf("流结束后注册表应为空，实际 %d", registry.Count())
	}
}

// TestStartDialogueValidationError 测试建流之前的失败以JSON错误返回
func TestStartDialogueValidationError(t *testing.T) {
	router, characters, _ := newTestRouter(t, nil)
	aliceID, _ := seedCharacters(t, characters)

	// 只有一个角色配置
	body := fmt.Sprintf(`{"scene_description":"scene","character_configs":[{"character_id":%q,"llm_id":"m"}]}`, aliceID)
	req := httptest.NewRequest(http.MethodPost, "/api/dialogues", strings.NewReader(body))
	recorder := httptest.NewRecorder()

	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("校验失败应返回400，实际 %d", recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("校验失败应返回JSON，实际 %q", ct)
	}
}

// TestGetDialogueAfterGeneration 测试生成完成后可按ID读取完整对话
func TestGetDialogueAfterGeneration(t *testing.T) {
	router, characters, _ := newTestRouter(t, [][]string{{"Hi"}, {"Yo"}})
	aliceID, bobID := seedCharacters(t, characters)

	body := fmt.Sprintf(`{"scene_description":"scene","character_configs":[{"character_id":%q,"llm_id":"m"},{"character_id":%q,"llm_id":"m"}]}`, aliceID, bobID)
	req := httptest.NewRequest(http.MethodPost, "/api/dialogues", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	frames := parseFrames(t, recorder.Body.String())
	var start struct {
		DialogueID string `json:"dialogue_id"`
	}
	if err := json.Unmarshal([]byte(frames[0].Data), &start); err != nil {
		t.Fatalf("解析dialogue-start失败: %v", err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/dialogues/"+start.DialogueID, nil)
	getRecorder := httptest.NewRecorder()
	router.ServeHTTP(getRecorder, getReq)

	if getRecorder.Code != http.StatusOK {
		t.Fatalf("读取对话应返回200，实际 %d", getRecorder.Code)
	}

	var dialogue models.Dialogue
	if err := json.Unmarshal(getRecorder.Body.Bytes(), &dialogue); err != nil {
		t.Fatalf("解析对话失败: %v", err)
	}
	if dialogue.Status != models.DialogueStatusCompleted {
		t.Fatalf("对话状态应为completed，实际 %s", dialogue.Status)
	}
	if len(dialogue.Messages) != 2 {
		t.Fatalf("对话应包含2条消息，实际 %d", len(dialogue.Messages))
	}
}

// TestGetDialogueNotFound 测试不存在的对话返回404
func TestGetDialogueNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/dialogues/no-such-dialogue", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusNotFound {
		t.Fatalf("不存在的对话应返回404，实际 %d", recorder.Code)
	}
}

// TestCharacterEndpoints 测试角色的创建和读取
func TestCharacterEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/characters", strings.NewReader(`{"name":"Alice","description":"a scientist"}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("创建角色应返回201，实际 %d", recorder.Code)
	}

	var character models.Character
	json.Unmarshal(recorder.Body.Bytes(), &character)
	if character.ID == "" {
		t.Fatal("创建的角色应分配ID")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/characters/"+character.ID, nil)
	getRecorder := httptest.NewRecorder()
	router.ServeHTTP(getRecorder, getReq)

	if getRecorder.Code != http.StatusOK {
		t.Fatalf("读取角色应返回200，实际 %d", getRecorder.Code)
	}
}

// TestAuthMiddlewareRequiresToken 测试配置密钥后缺少或无效的令牌被拒绝
func TestAuthMiddlewareRequiresToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(AuthMiddleware("test-secret"))
	router.GET("/probe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetAuthContext(c).UserID})
	})

	// 缺少令牌
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/probe", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("缺少令牌应返回401，实际 %d", recorder.Code)
	}

	// 无效令牌
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("无效令牌应返回401，实际 %d", recorder.Code)
	}

	// 有效令牌通过请求头
	tokenString, err := auth.GenerateToken("user-42", &auth.TokenConfig{Secret: []byte("test-secret"), Expiration: time.Hour})
	if err != nil {
		t.Fatalf("生成令牌失败: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("有效令牌应返回200，实际 %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "user-42") {
		t.Fatalf("认证上下文应携带用户ID: %s", recorder.Body.String())
	}

	// EventSource场景：令牌通过查询参数
	req = httptest.NewRequest(http.MethodGet, "/probe?token="+tokenString, nil)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("查询参数令牌应返回200，实际 %d", recorder.Code)
	}
}
