package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/service"
)

// RecordController 受控记录控制器
type RecordController struct {
	recordService service.RecordService
	exportService service.ExportService
}

// NewRecordController 创建受控记录控制器
func NewRecordController(recordService service.RecordService, exportService service.ExportService) *RecordController {
	return &RecordController{
		recordService: recordService,
		exportService: exportService,
	}
}

// Create 创建记录
// @Summary      创建受控记录
// @Description  分配记录编号并创建第一个草稿版本
// @Tags         记录管理
// @Accept       json
// @Produce      json
// @Param        request body service.CreateRecordRequest true "记录信息"
// @Success      201  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /records [post]
// @Security     BearerAuth
func (c *RecordController) Create(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	var req service.CreateRecordRequest
	if !bindJSON(ctx, &req) {
		return
	}

	res, err := c.recordService.Create(ctx.Request.Context(), actor, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, res)
}

// List 记录列表
// @Summary      查询记录列表
// @Tags         记录管理
// @Produce      json
// @Param        kind       query string false "记录类别"
// @Param        state      query string false "记录状态"
// @Param        owner_id   query string false "负责人"
// @Param        prefix     query string false "编号前缀"
// @Param        flagged    query bool   false "是否被完整性标记"
// @Param        page       query int    false "页码"
// @Param        page_size  query int    false "每页数量"
// @Param        sort_by    query string false "排序字段"
// @Param        order      query string false "asc/desc"
// @Success      200  {object}  PaginatedResponse
// @Router       /records [get]
// @Security     BearerAuth
func (c *RecordController) List(ctx *gin.Context) {
	filter := &service.RecordListFilter{
		Kind:     ctx.Query("kind"),
		State:    ctx.Query("state"),
		OwnerID:  ctx.Query("owner_id"),
		Prefix:   ctx.Query("prefix"),
		Page:     queryInt(ctx, "page", 1),
		PageSize: queryInt(ctx, "page_size", 20),
		SortBy:   ctx.Query("sort_by"),
		Order:    ctx.Query("order"),
	}
	if v := ctx.Query("flagged"); v != "" {
		flagged, err := strconv.ParseBool(v)
		if err != nil {
			Error(ctx, http.StatusBadRequest, "invalid flagged", err.Error())
			return
		}
		filter.Flagged = &flagged
	}

	resp, err := c.recordService.List(ctx.Request.Context(), filter)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Paginated(ctx, resp.Data, resp.Pagination)
}

// Get 记录详情
// @Summary      获取记录详情
// @Description  返回记录、当前版本、生效版本和复审计划
// @Tags         记录管理
// @Produce      json
// @Param        id path string true "记录编号"
// @Success      200  {object}  Response
// @Failure      404  {object}  ErrorResponse
// @Router       /records/{id} [get]
// @Security     BearerAuth
func (c *RecordController) Get(ctx *gin.Context) {
	id, ok := recordParam(ctx)
	if !ok {
		return
	}

	detail, err := c.recordService.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, detail)
}

// Supersede 创建新版本
// @Summary      创建新版本
// @Description  基于生效版本创建新的草稿版本
// @Tags         记录管理
// @Accept       json
// @Produce      json
// @Param        id path string true "记录编号"
// @Param        request body service.SupersedeRequest true "新版本内容"
// @Success      201  {object}  Response
// @Failure      409  {object}  ErrorResponse
// @Failure      422  {object}  ErrorResponse
// @Router       /records/{id}/versions [post]
// @Security     BearerAuth
func (c *RecordController) Supersede(ctx *gin.Context) {
	actor, ok := actorOf(ctx)
	if !ok {
		return
	}
	id, ok := recordParam(ctx)
	if !ok {
		return
	}
	var req service.SupersedeRequest
	if !bindJSON(ctx, &req) {
		return
	}

	res, err := c.recordService.Supersede(ctx.Request.Context(), actor, id, &req)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, res)
}

// ListVersions 版本列表
// @Summary      获取记录的全部版本
// @Tags         记录管理
// @Produce      json
// @Param        id path string true "记录编号"
// @Success      200  {object}  Response
// @Router       /records/{id}/versions [get]
// @Security     BearerAuth
func (c *RecordController) ListVersions(ctx *gin.Context) {
	id, ok := recordParam(ctx)
	if !ok {
		return
	}

	versions, err := c.recordService.ListVersions(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, versions)
}

// Redline 版本差异
// @Summary      比较两个版本
// @Description  返回元数据和文本内容的逐字差异
// @Tags         记录管理
// @Produce      json
// @Param        id   path  string true "记录编号"
// @Param        from query string true "旧版本 ID"
// @Param        to   query string true "新版本 ID"
// @Success      200  {object}  Response
// @Router       /records/{id}/redline [get]
// @Security     BearerAuth
func (c *RecordController) Redline(ctx *gin.Context) {
	id, ok := recordParam(ctx)
	if !ok {
		return
	}
	from, to := ctx.Query("from"), ctx.Query("to")
	if from == "" || to == "" {
		Error(ctx, http.StatusBadRequest, "from and to are required", "")
		return
	}

	redline, err := c.recordService.Redline(ctx.Request.Context(), from, to)
	if err != nil {
		HandleError(ctx, err)
		return
	}
	if redline.RecordID != id {
		Error(ctx, http.StatusBadRequest, "versions do not belong to record "+id, "")
		return
	}

	Success(ctx, redline)
}

// Export 导出记录归档
// @Summary      导出记录
// @Description  导出记录的全部版本、签名、审计日志和附件, 格式为 tar.gz
// @Tags         记录管理
// @Produce      application/gzip
// @Param        id path string true "记录编号"
// @Success      200
// @Failure      423  {object}  ErrorResponse
// @Router       /records/{id}/export [get]
// @Security     BearerAuth
func (c *RecordController) Export(ctx *gin.Context) {
	id, ok := recordParam(ctx)
	if !ok {
		return
	}

	// 先写入缓冲区, 归档失败时仍能返回错误响应
	var buf bytes.Buffer
	manifest, err := c.exportService.ExportRecord(ctx.Request.Context(), id, &buf)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".tar.gz"))
	ctx.Header("X-Audit-Last-Hash", manifest.LastHash)
	ctx.Data(http.StatusOK, "application/gzip", buf.Bytes())
}
