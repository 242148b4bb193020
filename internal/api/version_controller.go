package api

import (
	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/service"
)

// VersionController 版本与审批控制器
type VersionController struct {
	recordService service.RecordService
}

// NewVersionController 创建版本控制器
func NewVersionController(recordService service.RecordService) *VersionController {
	return &VersionController{recordService: recordService}
}

// Get 版本详情
// @Summary      获取版本详情
// @Tags         版本管理
// @Produce      json
// @Param        version_id path string true "版本 ID"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /versions/{version_id} [get]
// @Security     BearerAuth
func (c *VersionController) Get(ctx *gin.Context) {
	id, ok := entityParam(ctx, "version_id")
	if !ok {
		return
	}

	v, err := c.recordService.GetVersion(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, v)
}

// Edit 编辑草稿
// @Summary      编辑草稿版本
// @Description  只有草稿状态的版本可以编辑
// @Tags         版本管理
// @Accept       json
// @Produce      json
// @Param        version_id path string true "版本 ID"
// @Param        request body service.EditDraftRequest true "草稿内容"
// @Success      200  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Failure      422  {object}  ErrorResponse
// @Router       /versions/{version_id} [patch]
// @Security     BearerAuth
func (c *VersionController) Edit(ctx *gin.Context) {
	c.mutate(ctx, func(actor, id string) (interface{}, error) {
		var req service.EditDraftRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, bindFailure(err)
		}
		return c.recordService.EditDraft(ctx.Request.Context(), actor, id, &req)
	})
}

// Submit 提交审批
// @Summary      提交审批
// @Description  指定必需签名人并进入审批
// @Tags         版本管理
// @Accept       json
// @Produce      json
// @Param        version_id path string true "版本 ID"
// @Param        request body service.SubmitRequest true "签名人"
// @Success      200  {object}  Response
// @Failure      422  {object}  ErrorResponse
// @Router       /versions/{version_id}/submit [post]
// @Security     BearerAuth
func (c *VersionController) Submit(ctx *gin.Context) {
	c.mutate(ctx, func(actor, id string) (interface{}, error) {
		var req service.SubmitRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, bindFailure(err)
		}
		return c.recordService.Submit(ctx.Request.Context(), actor, id, &req)
	})
}

// Sign 电子签名
// @Summary      签署审批
// @Description  必需签名人签署同意或驳回, 需要确认电子签名
// @Tags         版本管理
// @Accept       json
// @Produce      json
// @Param        version_id path string true "版本 ID"
// @Param        request body service.SignRequest true "签名信息"
// @Success      200  {object}  Response
// @Failure      422  {object}  ErrorResponse
// @Router       /versions/{version_id}/sign [post]
// @Security     BearerAuth
func (c *VersionController) Sign(ctx *gin.Context) {
	c.mutate(ctx, func(actor, id string) (interface{}, error) {
		var req service.SignRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, bindFailure(err)
		}
		return c.recordService.Sign(ctx.Request.Context(), actor, id, &req)
	})
}

// Activate 生效
// @Summary      版本生效
// @Tags         版本管理
// @Accept       json
// @Produce      json
// @Param        version_id path string true "版本 ID"
// @Param        request body service.ActivateRequest true "生效日期"
// @Success      200  {object}  Response
// @Failure      422  {object}  ErrorResponse
// @Router       /versions/{version_id}/activate [post]
// @Security     BearerAuth
func (c *VersionController) Activate(ctx *gin.Context) {
	c.mutate(ctx, func(actor, id string) (interface{}, error) {
		var req service.ActivateRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, bindFailure(err)
		}
		return c.recordService.Activate(ctx.Request.Context(), actor, id, &req)
	})
}

// Retire 废止
// @Summary      废止生效版本
// @Tags         版本管理
// @Accept       json
// @Produce      json
// @Param        version_id path string true "版本 ID"
// @Param        request body service.RetireRequest true "废止原因"
// @Success      200  {object}  Response
// @Failure      422  {object}  ErrorResponse
// @Router       /versions/{version_id}/retire [post]
// @Security     BearerAuth
func (c *VersionController) Retire(ctx *gin.Context) {
	c.mutate(ctx, func(actor, id string) (interface{}, error) {
		var req service.RetireRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, bindFailure(err)
		}
		return c.recordService.Retire(ctx.Request.Context(), actor, id, &req)
	})
}

// ListApprovals 签名记录
// @Summary      获取版本的签名记录
// @Tags         版本管理
// @Produce      json
// @Param        version_id path string true "版本 ID"
// @Success      200  {object}  Response
// @Router       /versions/{version_id}/approvals [get]
// @Security     BearerAuth
func (c *VersionController) ListApprovals(ctx *gin.Context) {
	id, ok := entityParam(ctx, "version_id")
	if !ok {
		return
	}

	events, err := c.recordService.ListApprovals(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, events)
}

// mutate 执行版本上的状态转换
func (c *VersionController) mutate(ctx *gin.Context, fn func(actor, versionID string) (interface{}, error)) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := entityParam(ctx, "version_id")
	if !ok {
		return
	}

	res, err := fn(actor, id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, res)
}
