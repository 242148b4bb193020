package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/engine"
)

// APIError API 错误
type APIError struct {
	Code    int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	return e.Message
}

// statusByKind 引擎错误类别对应的 HTTP 状态码
var statusByKind = map[engine.Kind]int{
	engine.KindValidation:     http.StatusBadRequest,
	engine.KindGuard:          http.StatusUnprocessableEntity,
	engine.KindConcurrency:    http.StatusConflict,
	engine.KindNotFound:       http.StatusNotFound,
	engine.KindIntegrity:      http.StatusLocked,
	engine.KindInfrastructure: http.StatusInternalServerError,
}

// StatusOf 返回错误对应的 HTTP 状态码
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if status, ok := statusByKind[engine.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleError 写入错误响应
// 基础设施错误不向客户端暴露底层原因
func HandleError(c *gin.Context, err error) {
	HandleErrorWithData(c, err, nil)
}

// HandleErrorWithData 写入错误响应并附带已提交的结果
func HandleErrorWithData(c *gin.Context, err error, data interface{}) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
		return
	}

	_ = c.Error(err)
	kind := engine.KindOf(err)
	status := StatusOf(err)
	resp := ErrorResponse{
		Code:      status,
		Kind:      string(kind),
		ErrorCode: string(engine.CodeOf(err)),
		Message:   err.Error(),
		Data:      data,
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		resp.Message = engErr.Message
	}
	// 已记录待重放的转换需要告知调用方重新读取
	if kind == engine.KindInfrastructure && engine.CodeOf(err) != engine.CodeTransitionJournaled {
		resp.Message = "internal server error"
	}
	c.AbortWithStatusJSON(status, resp)
}

// bindFailure 请求体格式错误
func bindFailure(err error) error {
	return &engine.Error{
		Kind:    engine.KindValidation,
		Code:    engine.CodeInvalidPayload,
		Message: "invalid request: " + err.Error(),
	}
}

// bindError 写入请求体格式错误响应
func bindError(c *gin.Context, err error) {
	HandleError(c, bindFailure(err))
}

// ErrorHandlerMiddleware 错误处理中间件, 兜底处理未写入响应的错误
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last().Err

			var apiErr *APIError
			if errors.As(err, &apiErr) {
				Error(c, apiErr.Code, apiErr.Message, apiErr.Detail)
			} else {
				HandleError(c, err)
			}
		}
	}
}

// WrapError 包装错误
func WrapError(err error, code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Detail:  err.Error(),
	}
}
