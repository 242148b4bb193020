package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/service"
)

// Response 统一响应格式
// @Description 统一响应格式,包含状态码、消息和数据
type Response struct {
	Code    int         `json:"code" example:"0"`          // 状态码: 0 表示成功,非 0 表示失败
	Message string      `json:"message" example:"success"` // 响应消息
	Data    interface{} `json:"data"`                      // 响应数据
}

// ErrorResponse 错误响应格式
// @Description 错误响应格式, 引擎错误携带类别和错误码
type ErrorResponse struct {
	Code      int    `json:"code" example:"422"`                                   // HTTP 状态码
	Kind      string `json:"kind,omitempty" example:"guard"`                       // 错误类别
	ErrorCode string `json:"error_code,omitempty" example:"SignatureNotConfirmed"` // 错误码
	Message   string `json:"message" example:"electronic signature was not confirmed"`
	Detail    string `json:"detail,omitempty"` // 错误详情(可选)
	// Data 已提交但未达成目标的结果, 如效果复审未达标
	Data interface{} `json:"data,omitempty"`
}

// PaginatedResponse 分页响应
// @Description 分页响应格式,包含数据列表和分页信息
type PaginatedResponse struct {
	Code       int                    `json:"code" example:"0"`
	Message    string                 `json:"message" example:"success"`
	Data       interface{}            `json:"data"`       // 数据列表
	Pagination service.PaginationInfo `json:"pagination"` // 分页信息
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "created",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string, detail string) {
	statusCode := http.StatusInternalServerError
	if code >= 400 && code < 600 {
		statusCode = code
	}

	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Code:    code,
		Message: message,
		Detail:  detail,
	})
}

// Paginated 分页响应
func Paginated(c *gin.Context, data interface{}, pagination service.PaginationInfo) {
	c.JSON(http.StatusOK, PaginatedResponse{
		Code:       0,
		Message:    "success",
		Data:       data,
		Pagination: pagination,
	})
}
