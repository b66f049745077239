// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 存储应用配置
type Config struct {
	Port      string
	DataDir   string
	DebugMode bool

	// LLM相关配置
	LLMBaseURL string
	LLMAPIKey  string

	// 生成相关配置
	DefaultTurnCount int           // 每次对话的默认轮数
	MaxTurnCount     int           // 客户端可请求的最大轮数
	WorkerCount      int           // 后台生成工作协程数量
	QueueDepth       int           // 等待队列容量
	StreamTimeout    time.Duration // 推送连接的不活动超时

	// 认证配置
	AuthSecret string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		DataDir:          getEnvPath("DATA_DIR", "data"),
		DebugMode:        getEnvBool("DEBUG_MODE", false),
		LLMBaseURL:       getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:        getEnv("LLM_API_KEY", ""),
		DefaultTurnCount: getEnvInt("DEFAULT_TURN_COUNT", 3),
		MaxTurnCount:     getEnvInt("MAX_TURN_COUNT", 10),
		WorkerCount:      getEnvInt("GENERATION_WORKERS", 4),
		QueueDepth:       getEnvInt("GENERATION_QUEUE_DEPTH", 16),
		StreamTimeout:    time.Duration(getEnvInt("STREAM_TIMEOUT_MINUTES", 30)) * time.Minute,
		AuthSecret:       getEnv("AUTH_SECRET", ""),
	}

	if config.LLMAPIKey == "" {
		// 只记录警告，不返回错误：密钥也可以随请求传入
		log.Println("警告: 未设置LLM API密钥，生成请求必须自带凭证")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("警告: 环境变量 %s 不是有效整数: %v，使用默认值 %d", key, err, defaultValue)
		return defaultValue
	}
	return n
}
