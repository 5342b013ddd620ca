// Package api provides unified response building utilities for API handlers
// 这个包提供统一的响应构建工具，用于 API 处理器
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shepherd-project/corral/internal/gateway"
	"github.com/shepherd-project/corral/internal/registry"
	"github.com/shepherd-project/corral/internal/services"
	"github.com/shepherd-project/corral/internal/types"
)

// getRequestID gets the request ID from context, returns "unknown" if not set
func getRequestID(c *gin.Context) string {
	if requestID := c.GetString("requestId"); requestID != "" {
		return requestID
	}
	return "unknown"
}

// withNode stamps the serving node onto response metadata
func withNode(c *gin.Context, meta *types.ResponseMeta) {
	if meta != nil {
		meta.NodeID = c.GetString("nodeId")
	}
}

// Success sends a successful API response with data
// 发送成功响应，携带数据
func Success[T any](c *gin.Context, data T) {
	resp := types.NewSuccessResponse(data, getRequestID(c))
	withNode(c, resp.Metadata)
	c.JSON(http.StatusOK, resp)
}

// Created sends a 201 response with data
func Created[T any](c *gin.Context, data T) {
	resp := types.NewSuccessResponse(data, getRequestID(c))
	withNode(c, resp.Metadata)
	c.JSON(http.StatusCreated, resp)
}

// Error sends an error API response
// 发送错误响应
func Error(c *gin.Context, code types.ErrorCode, message string) {
	ErrorWithDetails(c, code, message, "")
}

// ErrorWithDetails sends an error API response with details
// 发送带详情的错误响应
func ErrorWithDetails(c *gin.Context, code types.ErrorCode, message, details string) {
	resp := types.NewErrorResponse(code, message, details, getRequestID(c))
	withNode(c, resp.Metadata)
	c.JSON(code.HTTPStatusCode(), resp)
}

// BadRequest sends a bad request error response
// 发送错误请求响应
func BadRequest(c *gin.Context, message string) {
	Error(c, types.ErrInvalidRequest, message)
}

// InternalError sends an internal server error response
// 发送内部服务器错误响应
func InternalError(c *gin.Context, err error) {
	ErrorWithDetails(c, types.ErrInternalError, "Internal server error", err.Error())
}

// Paginated sends a paginated API response
// 发送分页响应
func Paginated[T any](c *gin.Context, data []T, total, limit, offset int) {
	resp := types.NewPaginatedResponse(data, total, limit, offset, getRequestID(c))
	withNode(c, resp.Metadata)
	c.JSON(http.StatusOK, resp)
}

// FromError sends the response matching a grid operation error
// 根据错误类型发送对应的错误响应
func FromError(c *gin.Context, err error) {
	code := ErrorCodeOf(err)
	ErrorWithDetails(c, code, errorMessage(code), err.Error())
}

// ErrorCodeOf classifies err into an API error code
func ErrorCodeOf(err error) types.ErrorCode {
	var (
		argErr *services.ArgumentError
		oreErr *services.ObjectReconstructionError
		regErr *registry.RegistryError
	)
	switch {
	case errors.As(err, &argErr):
		return types.ErrInvalidRequest
	case errors.Is(err, gateway.ErrUnavailable):
		return types.ErrLifecycleUnavailable
	case errors.As(err, &oreErr):
		return types.ErrReconstruction
	case errors.As(err, &regErr):
		switch regErr.Code {
		case registry.CodeNotFound:
			return types.ErrServiceNotFound
		case registry.CodeConflict:
			return types.ErrConflict
		case registry.CodeInvalidConfiguration:
			return types.ErrInvalidRequest
		case registry.CodeNoNodes, registry.CodeDeploymentFailed:
			return types.ErrDeploymentFailed
		}
	}
	return types.ErrInternalError
}

func errorMessage(code types.ErrorCode) string {
	switch code {
	case types.ErrInvalidRequest:
		return "Invalid request"
	case types.ErrServiceNotFound:
		return "Service not found"
	case types.ErrConflict:
		return "Service name already in use"
	case types.ErrLifecycleUnavailable:
		return "Node is not started"
	case types.ErrReconstruction:
		return "Handle cannot be resolved on this node"
	case types.ErrDeploymentFailed:
		return "Deployment failed"
	default:
		return "Internal server error"
	}
}
