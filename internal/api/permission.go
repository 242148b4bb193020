package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/qms-gin/internal/auth"
	"github.com/mautops/qms-gin/internal/service"
)

// RecordResolver 从请求中解析权限检查的记录编号
type RecordResolver func(ctx *gin.Context) (string, error)

// VersionRecord 版本路由 :version_id 所属的记录
func VersionRecord(records service.RecordService) RecordResolver {
	return func(ctx *gin.Context) (string, error) {
		v, err := records.GetVersion(ctx.Request.Context(), ctx.Param("version_id"))
		if err != nil {
			return "", err
		}
		return v.RecordID, nil
	}
}

// ActionRecord 措施路由 :action_id 所属的 CAPA 记录
func ActionRecord(capas service.CapaService) RecordResolver {
	return func(ctx *gin.Context) (string, error) {
		a, err := capas.GetAction(ctx.Request.Context(), ctx.Param("action_id"))
		if err != nil {
			return "", err
		}
		return a.CapaID, nil
	}
}

// RecordPermission 权限中间件, 先解析记录再检查关系; authz 为 nil 时放行
func RecordPermission(authz auth.Authorizer, relation string, resolve RecordResolver) gin.HandlerFunc {
	if authz == nil {
		return func(ctx *gin.Context) { ctx.Next() }
	}
	return func(ctx *gin.Context) {
		actor, ok := actorOf(ctx)
		if !ok {
			return
		}
		recordID, err := resolve(ctx)
		if err != nil {
			HandleError(ctx, err)
			return
		}
		allowed, err := authz.CheckPermission(ctx.Request.Context(), actor, relation, auth.ObjectRecord, recordID)
		if err != nil {
			Error(ctx, http.StatusInternalServerError, "permission check failed", err.Error())
			return
		}
		if !allowed {
			Error(ctx, http.StatusForbidden, "forbidden", "")
			return
		}
		ctx.Next()
	}
}

// requireRecord 记录路由 :id 的权限中间件
func requireRecord(authz auth.Authorizer, relation string) gin.HandlerFunc {
	if authz == nil {
		return func(ctx *gin.Context) { ctx.Next() }
	}
	return auth.PermissionMiddleware(authz, auth.ObjectRecord, relation)
}
