// Package dto holds the JSON shapes of the admin API and of s2sctl output.
package dto

import (
	"time"

	"github.com/turtacn/s2s/pkg/errors"
)

// APIResponse 通用 API 响应结构
type APIResponse struct {
	Success   bool                  `json:"success"`
	Data      interface{}           `json:"data,omitempty"`
	Error     *errors.ErrorResponse `json:"error,omitempty"`
	RequestID string                `json:"request_id,omitempty"`
	Timestamp int64                 `json:"timestamp"`
}

// SuccessResponse 创建成功响应
func SuccessResponse(data interface{}, requestID string) *APIResponse {
	return &APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}

// ErrorResponse 创建错误响应. Errors outside the taxonomy are reported as
// server_error without their text.
func ErrorResponse(err error, requestID string) *APIResponse {
	return &APIResponse{
		Success:   false,
		Error:     errors.ToErrorResponse(err),
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
