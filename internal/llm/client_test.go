// internal/llm/client_test.go
package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"
)

// sseHandler 构造一个按行输出流式协议的测试服务器处理函数
func sseHandler(t *testing.T, tokens []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			t.Error("请求应该携带Bearer凭证")
		}

		var body struct {
			Model    string        `json:"model"`
			Messages []ChatMessage `json:"messages"`
			Stream   bool          `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		if !body.Stream {
			t.Error("请求体应该设置stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		for _, token := range tokens {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", token)
			flusher.Flush()
		}
		// 结束哨兵行
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// collectStream 发起流式请求并等待完成，返回收到的token
func collectStream(t *testing.T, client *StreamingClient, credential string) ([]string, string) {
	t.Helper()

	var mu sync.Mutex
	var tokens []string
	done := make(chan struct{})

	requestID := client.StreamChat("test-model", []ChatMessage{{Role: RoleUser, Content: "hi"}}, credential,
		func(token string) {
			mu.Lock()
			tokens = append(tokens, token)
			mu.Unlock()
		},
		func() {
			close(done)
		})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("等待完成回调超时")
	}

	mu.Lock()
	defer mu.Unlock()
	return tokens, requestID
}

// TestStreamChatDeliversTokensInOrder 测试token按到达顺序投递且完成回调触发
func TestStreamChatDeliversTokensInOrder(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{"Hello", ", ", "world"}))
	defer server.Close()

	client := NewStreamingClient(server.URL)
	tokens, requestID := collectStream(t, client, "test-key")

	expected := []string{"Hello", ", ", "world"}
	if !reflect.DeepEqual(tokens, expected) {
		t.Fatalf("token顺序不正确: 期望 %v，实际 %v", expected, tokens)
	}

	// 请求完成后身份不再被跟踪
	if client.CancelGeneration(requestID) {
		t.Fatal("取消已完成的请求应该返回false")
	}
	if client.ActiveRequests() != 0 {
		t.Fatalf("完成后不应有在途请求，实际 %d", client.ActiveRequests())
	}
}

// TestStreamChatSentinelNotParsed 测试结束哨兵行不会被当作内容解析
func TestStreamChatSentinelNotParsed(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, nil))
	defer server.Close()

	client := NewStreamingClient(server.URL)
	tokens, _ := collectStream(t, client, "test-key")

	if len(tokens) != 0 {
		t.Fatalf("不应收到任何token，实际收到 %v", tokens)
	}
}

// TestStreamChatEmptyCredential 测试前置条件失败时不发网络调用但完成回调仍触发
func TestStreamChatEmptyCredential(t *testing.T) {
	requested := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = true
	}))
	defer server.Close()

	client := NewStreamingClient(server.URL)
	tokens, _ := collectStream(t, client, "")

	if requested {
		t.Fatal("凭证为空时不应发起网络调用")
	}
	if len(tokens) != 0 {
		t.Fatalf("不应收到任何token，实际收到 %v", tokens)
	}
}

// TestStreamChatEmptyMessages 测试消息为空时完成回调仍触发
func TestStreamChatEmptyMessages(t *testing.T) {
	client := NewStreamingClient("http://127.0.0.1:0")

	done := make(chan struct{})
	client.StreamChat("test-model", nil, "test-key", nil, func() {
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("消息为空时完成回调也必须触发")
	}
}

// TestStreamChatProviderError 测试提供商错误被翻译为零token的静默终止
func TestStreamChatProviderError(t *testing.T) {
	statuses := []int{http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusInternalServerError}

	for _, status := range statuses {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"provider failure"}`)
		}))

		client := NewStreamingClient(server.URL)
		tokens, _ := collectStream(t, client, "test-key")

		if len(tokens) != 0 {
			t.Fatalf("状态码%d: 不应收到任何token，实际收到 %v", status, tokens)
		}

		server.Close()
	}
}

// TestCancelGeneration 测试取消停止token投递并抑制完成回调
func TestCancelGeneration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		flusher.Flush()

		// 第一个token送出后等待客户端取消
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewStreamingClient(server.URL)

	tokenArrived := make(chan struct{})
	var once sync.Once
	completed := make(chan struct{})

	requestID := client.StreamChat("test-model", []ChatMessage{{Role: RoleUser, Content: "hi"}}, "test-key",
		func(token string) {
			once.Do(func() { close(tokenArrived) })
		},
		func() {
			close(completed)
		})

	select {
	case <-tokenArrived:
	case <-time.After(3 * time.Second):
		t.Fatal("等待第一个token超时")
	}

	if !client.CancelGeneration(requestID) {
		t.Fatal("取消活跃请求应该返回true")
	}

	// 重复取消同一ID是无操作
	if client.CancelGeneration(requestID) {
		t.Fatal("重复取消应该返回false")
	}

	// 取消后完成回调必须被抑制
	select {
	case <-completed:
		t.Fatal("取消后不应触发完成回调")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestCancelUnknownRequest 测试取消未知ID返回false
func TestCancelUnknownRequest(t *testing.T) {
	client := NewStreamingClient("")

	if client.CancelGeneration("no-such-request") {
		t.Fatal("取消未知请求应该返回false")
	}
}
