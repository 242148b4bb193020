package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/engine"
	"github.com/mautops/qms-gin/internal/service"
)

// CapaController CAPA 控制器
type CapaController struct {
	capaService service.CapaService
}

// NewCapaController 创建 CAPA 控制器
func NewCapaController(capaService service.CapaService) *CapaController {
	return &CapaController{capaService: capaService}
}

// Get CAPA 详情
// @Summary      获取 CAPA 详情
// @Description  返回 CAPA、全部措施及其证据
// @Tags         CAPA
// @Produce      json
// @Param        id path string true "CAPA 记录编号"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /records/{id}/capa [get]
// @Security     BearerAuth
func (c *CapaController) Get(ctx *gin.Context) {
	id, ok := recordParam(ctx)
	if !ok {
		return
	}

	view, err := c.capaService.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, view)
}

// AddAction 添加措施
// @Summary      添加纠正/预防措施
// @Tags         CAPA
// @Accept       json
// @Produce      json
// @Param        id path string true "CAPA 记录编号"
// @Param        request body service.AddActionRequest true "措施"
// @Success      201  {object}  Response
// @Router       /records/{id}/capa/actions [post]
// @Security     BearerAuth
func (c *CapaController) AddAction(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := recordParam(ctx)
	if !ok {
		return
	}
	var req service.AddActionRequest
	if !bindJSON(ctx, &req) {
		return
	}

	res, err := c.capaService.AddAction(ctx.Request.Context(), actor, id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, res)
}

// Start 开始执行
// @Summary      CAPA 开始执行
// @Tags         CAPA
// @Accept       json
// @Produce      json
// @Param        id path string true "CAPA 记录编号"
// @Param        request body service.RevisionRequest false "期望修订号"
// @Success      200  {object}  Response
// @Router       /records/{id}/capa/start [post]
// @Security     BearerAuth
func (c *CapaController) Start(ctx *gin.Context) {
	c.onCapa(ctx, func(actor, id string) (*engine.Result, error) {
		var req service.RevisionRequest
		if err := bindOptional(ctx, &req); err != nil {
			return nil, err
		}
		return c.capaService.Start(ctx.Request.Context(), actor, id, &req)
	})
}

// MarkReady 提交效果复审
// @Summary      全部措施验证后进入效果复审
// @Tags         CAPA
// @Accept       json
// @Produce      json
// @Param        id path string true "CAPA 记录编号"
// @Param        request body service.RevisionRequest false "期望修订号"
// @Success      200  {object}  Response
// @Failure      422  {object}  ErrorResponse
// @Router       /records/{id}/capa/mark-ready [post]
// @Security     BearerAuth
func (c *CapaController) MarkReady(ctx *gin.Context) {
	c.onCapa(ctx, func(actor, id string) (*engine.Result, error) {
		var req service.RevisionRequest
		if err := bindOptional(ctx, &req); err != nil {
			return nil, err
		}
		return c.capaService.MarkReady(ctx.Request.Context(), actor, id, &req)
	})
}

// Close 效果复审
// @Summary      效果复审并关闭 CAPA
// @Description  评分未达标时复审结果照常保存, 返回 422 EffectivenessNotDemonstrated 并附带已保存的结果
// @Tags         CAPA
// @Accept       json
// @Produce      json
// @Param        id path string true "CAPA 记录编号"
// @Param        request body service.CloseCapaRequest true "复审结果"
// @Success      200  {object}  Response
// @Failure      422  {object}  ErrorResponse
// @Router       /records/{id}/capa/close [post]
// @Security     BearerAuth
func (c *CapaController) Close(ctx *gin.Context) {
	c.onCapa(ctx, func(actor, id string) (*engine.Result, error) {
		var req service.CloseCapaRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, bindFailure(err)
		}
		return c.capaService.Close(ctx.Request.Context(), actor, id, &req)
	})
}

// Cancel 取消 CAPA
// @Summary      取消 CAPA
// @Tags         CAPA
// @Accept       json
// @Produce      json
// @Param        id path string true "CAPA 记录编号"
// @Param        request body service.CancelCapaRequest true "取消原因"
// @Success      200  {object}  Response
// @Router       /records/{id}/capa/cancel [post]
// @Security     BearerAuth
func (c *CapaController) Cancel(ctx *gin.Context) {
	c.onCapa(ctx, func(actor, id string) (*engine.Result, error) {
		var req service.CancelCapaRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			return nil, bindFailure(err)
		}
		return c.capaService.Cancel(ctx.Request.Context(), actor, id, &req)
	})
}

// AddEvidence 添加证据
// @Summary      为措施添加证据
// @Tags         CAPA
// @Accept       json
// @Produce      json
// @Param        action_id path string true "措施 ID"
// @Param        request body service.AddEvidenceRequest true "证据"
// @Success      201  {object}  Response
// @Router       /actions/{action_id}/evidence [post]
// @Security     BearerAuth
func (c *CapaController) AddEvidence(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := entityParam(ctx, "action_id")
	if !ok {
		return
	}
	var req service.AddEvidenceRequest
	if !bindJSON(ctx, &req) {
		return
	}

	res, err := c.capaService.AddEvidence(ctx.Request.Context(), actor, id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, res)
}

// VerifyAction 验证措施
// @Summary      验证措施
// @Description  验证人不能是措施负责人
// @Tags         CAPA
// @Accept       json
// @Produce      json
// @Param        action_id path string true "措施 ID"
// @Param        request body service.VerifyActionRequest true "验证结论"
// @Success      200  {object}  Response
// @Failure      422  {object}  ErrorResponse
// @Router       /actions/{action_id}/verify [post]
// @Security     BearerAuth
func (c *CapaController) VerifyAction(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := entityParam(ctx, "action_id")
	if !ok {
		return
	}
	var req service.VerifyActionRequest
	if !bindJSON(ctx, &req) {
		return
	}

	res, err := c.capaService.VerifyAction(ctx.Request.Context(), actor, id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, res)
}

// onCapa 执行 CAPA 上的状态转换
func (c *CapaController) onCapa(ctx *gin.Context, fn func(actor, capaID string) (*engine.Result, error)) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := recordParam(ctx)
	if !ok {
		return
	}

	res, err := fn(actor, id)
	if err != nil {
		if res != nil && errors.Is(err, engine.ErrEffectivenessNotDemonstrated) {
			HandleErrorWithData(ctx, err, res)
			return
		}
		HandleError(ctx, err)
		return
	}

	Success(ctx, res)
}

// bindOptional 绑定可为空的请求体
func bindOptional(ctx *gin.Context, obj interface{}) error {
	if ctx.Request.ContentLength == 0 {
		return nil
	}
	if err := ctx.ShouldBindJSON(obj); err != nil {
		return bindFailure(err)
	}
	return nil
}
