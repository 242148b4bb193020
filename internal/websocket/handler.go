package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/mautops/qms-gin/internal/auth"
)

// NewUpgrader 创建连接升级器, allowedOrigins 为空或包含 "*" 时不检查 Origin
func NewUpgrader(allowedOrigins []string) gorillaWS.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return gorillaWS.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
		},
	}
}

// WebSocketHandler 记录事件流处理器
// 路由参数 :id 为订阅的记录, 缺省时订阅全部记录
func WebSocketHandler(hub *Hub, resolver *auth.ActorResolver, upgrader gorillaWS.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 解析操作人
		claims, err := resolver.Resolve(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		// 2. 升级连接
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		// 3. 注册并启动读写循环
		NewClient(uuid.New().String(), claims.Subject, c.Param("id"), hub, conn).Serve()
	}
}
