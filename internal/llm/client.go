// internal/llm/client.go
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TokenHandler 在每个内容增量到达时被调用，调用顺序与到达顺序一致
type TokenHandler func(token string)

// CompleteHandler 在流结束时被调用，无论流是正常结束还是因提供商错误终止。
// 请求被显式取消时不会被调用。
type CompleteHandler func()

// StreamingClient 向LLM提供商发起流式chat-completion请求，
// 逐token回调调用方，并支持按请求ID取消。
//
// 错误策略：认证失败、限流、提供商5xx都被翻译为"流静默终止"，
// 随后照常触发完成回调。调用方只能通过"没有token到达但完成已触发"
// 观察到这类失败。
type StreamingClient struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	active map[string]*activeRequest
}

// activeRequest 跟踪一个在途请求。请求完成或被取消后即从表中移除，
// 因此对同一ID的重复取消是无操作。
type activeRequest struct {
	cancel context.CancelFunc
}

// NewStreamingClient 创建流式客户端
func NewStreamingClient(baseURL string) *StreamingClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &StreamingClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		active:     make(map[string]*activeRequest),
	}
}

// StreamChat 发起一次流式生成请求，立即返回请求ID。
// credential或messages为空时不会发起网络调用，但完成回调仍然会触发，
// 等待完成信号的调用方不会挂起。
func (c *StreamingClient) StreamChat(modelID string, messages []ChatMessage, credential string, onToken TokenHandler, onComplete CompleteHandler) string {
	requestID := uuid.NewString()

	if credential == "" || len(messages) == 0 {
		log.Printf("⚠️ 流式请求 %s 前置条件不满足（凭证或消息为空），跳过网络调用", requestID)
		if onComplete != nil {
			onComplete()
		}
		return requestID
	}

	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.active[requestID] = &activeRequest{cancel: cancel}
	c.mu.Unlock()

	go c.stream(ctx, requestID, modelID, messages, credential, onToken, onComplete)

	return requestID
}

// CancelGeneration 取消在途请求：停止后续token投递，并抑制尚未触发的完成回调。
// 返回是否真的取消了一个活跃请求；对已完成或未知的ID返回false。
func (c *StreamingClient) CancelGeneration(requestID string) bool {
	c.mu.Lock()
	req, exists := c.active[requestID]
	if exists {
		delete(c.active, requestID)
	}
	c.mu.Unlock()

	if !exists {
		return false
	}

	req.cancel()
	log.Printf("🛑 流式请求 %s 已取消", requestID)
	return true
}

// ActiveRequests 返回当前在途请求数量
func (c *StreamingClient) ActiveRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// finish 声明请求结束。只有成功从活跃表中取走条目的一方才触发完成回调，
// 与CancelGeneration互斥，确保取消后完成回调被抑制。
func (c *StreamingClient) finish(requestID string, onComplete CompleteHandler) {
	c.mu.Lock()
	_, exists := c.active[requestID]
	if exists {
		delete(c.active, requestID)
	}
	c.mu.Unlock()

	if exists && onComplete != nil {
		onComplete()
	}
}

// stream 执行HTTP流式调用并解析行式协议
func (c *StreamingClient) stream(ctx context.Context, requestID, modelID string, messages []ChatMessage, credential string, onToken TokenHandler, onComplete CompleteHandler) {
	defer c.finish(requestID, onComplete)

	requestBody := map[string]interface{}{
		"model":    modelID,
		"messages": messages,
		"stream":   true,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		log.Printf("❌ 序列化流式请求 %s 失败: %v", requestID, err)
		return
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		c.baseURL+"/chat/completions",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		log.Printf("❌ 构建流式请求 %s 失败: %v", requestID, err)
		return
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("❌ 流式请求 %s 网络错误: %v", requestID, err)
		return
	}
	defer httpResp.Body.Close()

	// 认证失败、限流和5xx统一翻译为静默终止
	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		log.Printf("❌ 流式请求 %s 提供商错误(%d): %s", requestID, httpResp.StatusCode, string(body))
		return
	}

	reader := bufio.NewReader(httpResp.Body)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					log.Printf("❌ 流式请求 %s 读取错误: %v", requestID, err)
				}
				return
			}

			line = strings.TrimSpace(line)

			// 空行或注释
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}

			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			line = strings.TrimPrefix(line, "data: ")

			// 结束哨兵行不参与内容解析
			if line == "[DONE]" {
				return
			}

			var streamResp struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}

			if err := json.Unmarshal([]byte(line), &streamResp); err != nil {
				continue
			}

			if len(streamResp.Choices) > 0 {
				content := streamResp.Choices[0].Delta.Content
				if content != "" {
					// 投递前再检查一次取消状态
					if ctx.Err() != nil {
						return
					}
					if onToken != nil {
						onToken(content)
					}
				}
			}
		}
	}
}
