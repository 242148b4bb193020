package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/utils"
)

// actorOf 返回已认证的操作人, 没有时写入 401
func actorOf(ctx *gin.Context) (string, bool) {
	actor, ok := auth.ActorID(ctx)
	if !ok {
		Error(ctx, http.StatusUnauthorized, "unauthorized", auth.ErrNoIdentity.Error())
		return "", false
	}
	return actor, true
}

// recordParam 读取并校验路由中的记录编号
func recordParam(ctx *gin.Context) (string, bool) {
	id := ctx.Param("id")
	if err := utils.ValidateRecordID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid record ID", err.Error())
		return "", false
	}
	return id, true
}

// entityParam 读取并校验路由中的版本或措施 ID
func entityParam(ctx *gin.Context, name string) (string, bool) {
	id := ctx.Param(name)
	if err := utils.ValidateEntityID(id); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid "+name, err.Error())
		return "", false
	}
	return id, true
}

// bindJSON 绑定请求体, 失败时写入 400
func bindJSON(ctx *gin.Context, obj interface{}) bool {
	if err := ctx.ShouldBindJSON(obj); err != nil {
		bindError(ctx, err)
		return false
	}
	return true
}

// queryInt 读取整数查询参数
func queryInt(ctx *gin.Context, name string, def int) int {
	v := ctx.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
