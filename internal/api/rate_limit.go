package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mautops/qms-gin/internal/auth"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware 限流中间件, 按操作人限流, 未认证请求按客户端 IP
// 空闲超过 10 分钟的限流器被回收
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = 1
	}
	limiters := expirable.NewLRU[string, *rate.Limiter](10000, nil, 10*time.Minute)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if actor, ok := auth.ActorID(c); ok {
			key = "actor:" + actor
		}

		limiter, ok := limiters.Get(key)
		if !ok {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
		// 重新写入以刷新过期时间
		limiters.Add(key, limiter)

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:    http.StatusTooManyRequests,
				Message: "too many requests",
			})
			return
		}
		c.Next()
	}
}
