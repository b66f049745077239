// internal/auth/context.go
package auth

// Context 是请求认证状态的显式快照。
// 对话生成运行在独立的后台协程上，不能依赖请求协程的任何隐式状态，
// 所以在推送连接建立时捕获一次，之后作为显式参数传入每个事件消费者。
type Context struct {
	UserID        string
	Authenticated bool
}

// Anonymous 返回未认证的上下文
func Anonymous() Context {
	return Context{}
}

// FromToken 从已验证的令牌构建认证上下文
func FromToken(token *Token) Context {
	if token == nil {
		return Anonymous()
	}
	return Context{
		UserID:        token.UserID,
		Authenticated: true,
	}
}
