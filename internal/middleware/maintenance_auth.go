package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MaintenanceTokenHeader 是定时任务调用维护接口时携带的请求头。
const MaintenanceTokenHeader = "X-Maintenance-Token"

// MaintenanceAuthMiddleware 校验共享密钥。未配置密钥时维护接口一律拒绝。
func MaintenanceAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "Maintenance endpoints are disabled"})
			return
		}
		got := c.GetHeader(MaintenanceTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "Invalid maintenance token"})
			return
		}
		c.Next()
	}
}
