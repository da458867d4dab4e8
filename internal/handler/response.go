// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
)

const msgInvalidData = "Invalid data"

// statusFor 把业务错误类别映射为 HTTP 状态码。
func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindPrecondition, service.KindQuota:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindInsufficientCredit:
		return http.StatusPaymentRequired
	case service.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage 返回可以展示给用户的错误信息，内部错误不暴露细节。
func errorMessage(err error) string {
	var appErr *service.AppError
	if errors.As(err, &appErr) && appErr.Kind != service.KindInternal {
		return appErr.Message
	}
	return "Something went wrong, please try again later"
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

// respondSuccess 用于训练与消息接口，额外带上 status 字段。
func respondSuccess(c *gin.Context, fields gin.H) {
	body := gin.H{"code": http.StatusOK, "message": "success", "status": "success"}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func respondError(c *gin.Context, err error) {
	status := statusFor(service.KindOf(err))
	if status >= http.StatusInternalServerError {
		log.Errorw("请求处理失败", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"code": status, "message": errorMessage(err), "status": "error", "data": nil})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "status": "error", "data": nil})
}

// currentUserID 返回 AuthMiddleware 写入上下文的用户 ID。
func currentUserID(c *gin.Context) uint {
	return c.GetUint("userID")
}

// pathID 解析路径中的数字 ID，失败时直接写回 400。
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, msgInvalidData)
		return 0, false
	}
	return uint(id), true
}
