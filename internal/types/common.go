// Package types provides the unified response and error types of the admin API
// 这个包提供管理 API 的统一响应与错误码定义
package types

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents unified error codes
// 统一的错误码定义
type ErrorCode string

const (
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
	ErrServiceNotFound      ErrorCode = "SERVICE_NOT_FOUND"
	ErrConflict             ErrorCode = "CONFLICT"
	ErrLifecycleUnavailable ErrorCode = "LIFECYCLE_UNAVAILABLE"
	ErrReconstruction       ErrorCode = "RECONSTRUCTION_FAILED"
	ErrDeploymentFailed     ErrorCode = "DEPLOYMENT_FAILED"
	ErrInternalError        ErrorCode = "INTERNAL_ERROR"
)

// String returns the string representation of the error code
func (e ErrorCode) String() string {
	return string(e)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error
func (e ErrorCode) HTTPStatusCode() int {
	switch e {
	case ErrInvalidRequest, ErrReconstruction:
		return http.StatusBadRequest
	case ErrServiceNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrLifecycleUnavailable:
		return http.StatusServiceUnavailable
	case ErrDeploymentFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ErrorInfo represents detailed error information
// 错误详细信息
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// Error returns a formatted error message
func (e *ErrorInfo) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ResponseMeta represents metadata included in API responses
// API 响应元数据
type ResponseMeta struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"requestId"`
	NodeID    string `json:"nodeId,omitempty"`
}

// NewResponseMeta creates a new ResponseMeta with current timestamp
func NewResponseMeta(requestID string) *ResponseMeta {
	return &ResponseMeta{
		Timestamp: time.Now().Format(time.RFC3339),
		RequestID: requestID,
	}
}

// ApiResponse represents a unified API response format
// 统一的 API 响应格式，支持泛型类型
type ApiResponse[T any] struct {
	Success  bool          `json:"success"`
	Data     T             `json:"data,omitempty"`
	Error    *ErrorInfo    `json:"error,omitempty"`
	Metadata *ResponseMeta `json:"metadata,omitempty"`
}

// NewSuccessResponse creates a successful API response
func NewSuccessResponse[T any](data T, requestID string) *ApiResponse[T] {
	return &ApiResponse[T]{
		Success:  true,
		Data:     data,
		Metadata: NewResponseMeta(requestID),
	}
}

// NewErrorResponse creates an error API response
func NewErrorResponse(code ErrorCode, message, details, requestID string) *ApiResponse[struct{}] {
	return &ApiResponse[struct{}]{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Metadata: NewResponseMeta(requestID),
	}
}

// PaginatedResponse represents a paginated API response
// 分页响应格式
type PaginatedResponse[T any] struct {
	Success  bool          `json:"success"`
	Data     []T           `json:"data"`
	Total    int           `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
	Metadata *ResponseMeta `json:"metadata,omitempty"`
}

// NewPaginatedResponse creates a paginated response
func NewPaginatedResponse[T any](data []T, total, limit, offset int, requestID string) *PaginatedResponse[T] {
	if data == nil {
		data = []T{}
	}
	return &PaginatedResponse[T]{
		Success:  true,
		Data:     data,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
		Metadata: NewResponseMeta(requestID),
	}
}
