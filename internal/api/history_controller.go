package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/service"
)

// HistoryController 审计历史与复审控制器
type HistoryController struct {
	queryService service.QueryService
	auditService service.AuditLogService
	statsService service.StatisticsService
}

// NewHistoryController 创建审计历史控制器
func NewHistoryController(queryService service.QueryService, auditService service.AuditLogService, statsService service.StatisticsService) *HistoryController {
	return &HistoryController{
		queryService: queryService,
		auditService: auditService,
		statsService: statsService,
	}
}

// History 审计历史
// @Summary      查询记录的审计历史
// @Description  按条目顺序返回, 读取时校验哈希链
// @Tags         审计
// @Produce      json
// @Param        id         path  string true  "记录编号"
// @Param        after      query int    false "只返回该条目之后的日志"
// @Param        event_type query string false "事件类型前缀"
// @Param        limit      query int    false "条数, 最大 500"
// @Success      200  {object}  Response
// @Failure      423  {object}  ErrorResponse
// @Router       /records/{id}/history [get]
// @Security     BearerAuth
func (c *HistoryController) History(ctx *gin.Context) {
	id, ok := recordParam(ctx)
	if !ok {
		return
	}
	filter := &service.HistoryFilter{
		EventType: ctx.Query("event_type"),
		Limit:     queryInt(ctx, "limit", 100),
	}
	if v := ctx.Query("after"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			bindError(ctx, err)
			return
		}
		filter.AfterEntryID = after
	}

	page, err := c.queryService.History(ctx.Request.Context(), id, filter)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, page)
}

// Verify 校验哈希链
// @Summary      校验记录的审计哈希链
// @Tags         审计
// @Produce      json
// @Param        id path string true "记录编号"
// @Success      200  {object}  Response
// @Failure      423  {object}  ErrorResponse
// @Router       /records/{id}/history/verify [post]
// @Security     BearerAuth
func (c *HistoryController) Verify(ctx *gin.Context) {
	id, ok := recordParam(ctx)
	if !ok {
		return
	}

	result, err := c.queryService.Verify(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, result)
}

// Annotate 追加审计批注
// @Summary      追加审计批注
// @Description  事件类型必须以 note. 开头
// @Tags         审计
// @Accept       json
// @Produce      json
// @Param        id path string true "记录编号"
// @Param        request body service.AnnotateRequest true "批注"
// @Success      201  {object}  Response
// @Router       /records/{id}/annotations [post]
// @Security     BearerAuth
func (c *HistoryController) Annotate(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := recordParam(ctx)
	if !ok {
		return
	}
	var req service.AnnotateRequest
	if !bindJSON(ctx, &req) {
		return
	}

	entry, err := c.auditService.Annotate(ctx.Request.Context(), actor, id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, entry)
}

// MyActivity 当前用户的操作记录
// @Summary      当前用户的审计日志
// @Tags         审计
// @Produce      json
// @Param        limit query int false "条数, 最大 200"
// @Success      200  {object}  Response
// @Router       /me/activity [get]
// @Security     BearerAuth
func (c *HistoryController) MyActivity(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}

	entries, err := c.auditService.ActorActivity(ctx.Request.Context(), actor, queryInt(ctx, "limit", 50))
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, entries)
}

// GetSchedule 复审计划
// @Summary      获取周期复审计划
// @Tags         复审
// @Produce      json
// @Param        id path string true "记录编号"
// @Success      200  {object}  Response
// @Failure      422  {object}  ErrorResponse
// @Router       /records/{id}/schedule [get]
// @Security     BearerAuth
func (c *HistoryController) GetSchedule(ctx *gin.Context) {
	id, ok := recordParam(ctx)
	if !ok {
		return
	}

	schedule, err := c.queryService.GetSchedule(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, schedule)
}

// CompleteReview 完成周期复审
// @Summary      完成周期复审
// @Tags         复审
// @Accept       json
// @Produce      json
// @Param        id path string true "记录编号"
// @Param        request body service.CompleteReviewRequest false "复审信息"
// @Success      200  {object}  Response
// @Router       /records/{id}/review [post]
// @Security     BearerAuth
func (c *HistoryController) CompleteReview(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := recordParam(ctx)
	if !ok {
		return
	}
	var req service.CompleteReviewRequest
	if err := bindOptional(ctx, &req); err != nil {
		HandleError(ctx, err)
		return
	}

	res, err := c.queryService.CompleteReview(ctx.Request.Context(), actor, id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, res)
}

// RecordStatistics 记录状态统计
// @Summary      按类别和状态统计记录
// @Tags         统计
// @Produce      json
// @Success      200  {object}  Response
// @Router       /statistics/records [get]
// @Security     BearerAuth
func (c *HistoryController) RecordStatistics(ctx *gin.Context) {
	stats, err := c.statsService.RecordsByState(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// ApprovalStatistics 签名统计
// @Summary      签名统计
// @Tags         统计
// @Produce      json
// @Success      200  {object}  Response
// @Router       /statistics/approvals [get]
// @Security     BearerAuth
func (c *HistoryController) ApprovalStatistics(ctx *gin.Context) {
	stats, err := c.statsService.ApprovalStatistics(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}

// OverdueStatistics 逾期统计
// @Summary      逾期复审和未关闭 CAPA 统计
// @Tags         统计
// @Produce      json
// @Success      200  {object}  Response
// @Router       /statistics/overdue [get]
// @Security     BearerAuth
func (c *HistoryController) OverdueStatistics(ctx *gin.Context) {
	stats, err := c.statsService.OverdueStatistics(ctx.Request.Context())
	if err != nil {
		HandleError(ctx, err)
		return
	}
	Success(ctx, stats)
}
