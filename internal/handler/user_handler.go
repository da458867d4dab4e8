package handler

import (
	"errors"
	"net/http"

	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理所有与控制台用户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterRequest 定义了用户注册 API 的请求体结构。
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		badRequest(c, msgInvalidData)
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		log.Warnf("Register: registration failed for '%s', error: %v", req.Email, err)
		respondError(c, err)
		return
	}

	log.Infof("User '%s' registered successfully", user.Email)
	respondOK(c, user)
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		badRequest(c, msgInvalidData)
		return
	}

	accessToken, user, err := h.userService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		log.Warnf("Login: authentication failed for '%s', error: %v", req.Email, err)
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": err.Error(), "data": nil})
			return
		}
		respondError(c, err)
		return
	}

	respondOK(c, gin.H{"token": accessToken, "user": user})
}

// GetProfile 返回当前用户资料，密钥只以 hasApiKey 标记体现。
func (h *UserHandler) GetProfile(c *gin.Context) {
	profile, err := h.userService.GetProfile(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, profile)
}

// SaveAPIKeyRequest 是保存 OpenAI key 的请求体，空串表示清除。
type SaveAPIKeyRequest struct {
	APIKey string `json:"apiKey"`
}

// SaveAPIKey 保存或清除当前用户的 OpenAI key。
func (h *UserHandler) SaveAPIKey(c *gin.Context) {
	var req SaveAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, msgInvalidData)
		return
	}
	if err := h.userService.SaveAPIKey(c.Request.Context(), currentUserID(c), req.APIKey); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"hasApiKey": req.APIKey != ""})
}

// GetAnalytics 返回当前用户的累计用量。
func (h *UserHandler) GetAnalytics(c *gin.Context) {
	analytics, err := h.userService.GetAnalytics(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, analytics)
}

// GetCredits 返回剩余额度与全部有效窗口。
func (h *UserHandler) GetCredits(c *gin.Context) {
	summary, err := h.userService.GetCredits(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, summary)
}
