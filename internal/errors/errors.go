// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	// 生成流水线相关的错误类型
	ErrorTypeSetup         ErrorType = "setup_error"         // 流式连接建立之前的失败
	ErrorTypeProvider      ErrorType = "provider_error"      // 上游LLM提供商返回的失败
	ErrorTypeOrchestration ErrorType = "orchestration_error" // 生成循环内部的失败
	ErrorTypeTransport     ErrorType = "transport_error"     // 推送连接相关的失败
	ErrorTypeQueueClosed   ErrorType = "queue_closed"        // 工作池已关闭
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewSetupError 创建流式连接建立前的失败
func NewSetupError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeSetup, message, originalError)
}

// NewOrchestrationError 创建生成循环内部的失败
func NewOrchestrationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeOrchestration, message, originalError)
}

// IsType 检查错误链中是否存在指定类型的 AppError
func IsType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}
