package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/service"
)

// AccessController 记录授权控制器
type AccessController struct {
	accessService service.AccessService
}

// NewAccessController 创建记录授权控制器
func NewAccessController(accessService service.AccessService) *AccessController {
	return &AccessController{accessService: accessService}
}

// Grant 授予关系
// @Summary      授予记录访问关系
// @Description  记录负责人为验证人、效果复审人等授予关系, 变更写入审计历史
// @Tags         记录管理
// @Accept       json
// @Produce      json
// @Param        id path string true "记录编号"
// @Param        request body service.GrantRequest true "授权信息"
// @Success      200  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      403  {object}  ErrorResponse
// @Router       /records/{id}/grants [post]
// @Security     BearerAuth
func (c *AccessController) Grant(ctx *gin.Context) {
	c.change(ctx, c.accessService.Grant)
}

// Revoke 撤销关系
// @Summary      撤销记录访问关系
// @Tags         记录管理
// @Accept       json
// @Produce      json
// @Param        id path string true "记录编号"
// @Param        request body service.GrantRequest true "授权信息"
// @Success      200  {object}  Response
// @Router       /records/{id}/grants [delete]
// @Security     BearerAuth
func (c *AccessController) Revoke(ctx *gin.Context) {
	c.change(ctx, c.accessService.Revoke)
}

func (c *AccessController) change(ctx *gin.Context, apply func(context.Context, string, string, *service.GrantRequest) error) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := recordParam(ctx)
	if !ok {
		return
	}
	var req service.GrantRequest
	if !bindJSON(ctx, &req) {
		return
	}

	if err := apply(ctx.Request.Context(), actor, id, &req); err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, gin.H{"record_id": id, "user_id": req.UserID, "relation": req.Relation})
}
