package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextActorID 上下文中操作人 ID 的键
const ContextActorID = "actor_id"

// HeaderActorID 开发模式下显式指定操作人的请求头
const HeaderActorID = "X-Actor-ID"

var (
	// ErrNoIdentity 请求没有携带身份
	ErrNoIdentity = errors.New("no identity presented")
)

// ActorResolver 从请求中解析可信的操作人 ID
// 优先使用 JWT 的 sub; 开发模式下接受 X-Actor-ID 请求头. 不存在默认操作人.
type ActorResolver struct {
	validator *KeycloakTokenValidator
	devHeader bool
}

// NewActorResolver 创建操作人解析器
func NewActorResolver(validator *KeycloakTokenValidator, devHeader bool) *ActorResolver {
	return &ActorResolver{validator: validator, devHeader: devHeader}
}

// Resolve 解析请求的操作人
func (r *ActorResolver) Resolve(req *http.Request) (*KeycloakClaims, error) {
	token := bearerToken(req.Header.Get("Authorization"))
	if token == "" {
		// 浏览器的 WebSocket 无法设置请求头
		token = req.URL.Query().Get("token")
	}
	if token != "" {
		if r.validator == nil {
			return nil, errors.New("token authentication is not configured")
		}
		return r.validator.ValidateToken(token)
	}

	if r.devHeader {
		if actor := strings.TrimSpace(req.Header.Get(HeaderActorID)); actor != "" {
			claims := &KeycloakClaims{}
			claims.Subject = actor
			return claims, nil
		}
	}
	return nil, ErrNoIdentity
}

// Middleware 认证中间件, 未通过时返回 401
func (r *ActorResolver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := r.Resolve(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    401,
				"message": "unauthorized",
				"detail":  err.Error(),
			})
			c.Abort()
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}

// ActorID 获取已认证的操作人 ID
func ActorID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextActorID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
