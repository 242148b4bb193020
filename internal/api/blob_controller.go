package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/service"
)

// BlobController 文件内容控制器
type BlobController struct {
	blobService service.BlobService
	maxSize     int64
}

// NewBlobController 创建文件内容控制器
func NewBlobController(blobService service.BlobService, maxSize int64) *BlobController {
	return &BlobController{blobService: blobService, maxSize: maxSize}
}

// Upload 上传文件
// @Summary      上传文件内容
// @Description  支持 multipart 表单字段 file 或原始请求体, 返回内容引用
// @Tags         文件
// @Accept       multipart/form-data
// @Accept       application/octet-stream
// @Produce      json
// @Param        file formData file false "文件"
// @Success      201  {object}  Response
// @Failure      400  {object}  ErrorResponse
// @Router       /blobs [post]
// @Security     BearerAuth
func (c *BlobController) Upload(ctx *gin.Context) {
	if _, ok := actorOf(ctx); !ok {
		return
	}

	data, err := c.readBody(ctx)
	if err != nil {
		Error(ctx, http.StatusBadRequest, "failed to read content", err.Error())
		return
	}

	info, err := c.blobService.Upload(ctx.Request.Context(), data)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, info)
}

// Download 下载文件
// @Summary      下载文件内容
// @Description  读取时校验摘要, 内容损坏返回 423
// @Tags         文件
// @Produce      application/octet-stream
// @Param        ref path string true "内容引用 sha256:<hex>"
// @Success      200
// @Failure      404  {object}  ErrorResponse
// @Failure      423  {object}  ErrorResponse
// @Router       /blobs/{ref} [get]
// @Security     BearerAuth
func (c *BlobController) Download(ctx *gin.Context) {
	ref := ctx.Param("ref")

	data, err := c.blobService.Download(ctx.Request.Context(), ref)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	ctx.Header("ETag", `"`+ref+`"`)
	ctx.Header("Cache-Control", "private, max-age=31536000, immutable")
	ctx.Data(http.StatusOK, "application/octet-stream", data)
}

// readBody 读取上传内容, 超过上限的部分不会读入内存
func (c *BlobController) readBody(ctx *gin.Context) ([]byte, error) {
	limit := c.maxSize + 1
	if c.maxSize <= 0 {
		limit = 32 << 20
	}

	if fh, err := ctx.FormFile("file"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, limit))
	}
	return io.ReadAll(io.LimitReader(ctx.Request.Body, limit))
}
