// internal/api/middleware.go
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vvojtas/dailogi/internal/auth"
)

const authContextKey = "auth_context"

// AuthMiddleware 解析Bearer令牌并把显式认证上下文挂到请求上。
// 未配置密钥时所有请求按匿名处理；配置了密钥则要求有效令牌。
// EventSource无法设置请求头，所以也接受 ?token= 查询参数。
func AuthMiddleware(secret string) gin.HandlerFunc {
	tokenConfig := &auth.TokenConfig{Secret: []byte(secret)}

	return func(c *gin.Context) {
		if secret == "" {
			c.Set(authContextKey, auth.Anonymous())
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if tokenString == "" || tokenString == c.GetHeader("Authorization") {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			return
		}

		token, err := auth.ParseToken(tokenString, tokenConfig)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "认证令牌无效"})
			return
		}

		c.Set(authContextKey, auth.FromToken(token))
		c.Next()
	}
}

// GetAuthContext 取出请求的认证上下文
func GetAuthContext(c *gin.Context) auth.Context {
	if value, exists := c.Get(authContextKey); exists {
		if authCtx, ok := value.(auth.Context); ok {
			return authCtx
		}
	}
	return auth.Anonymous()
}
