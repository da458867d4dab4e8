package handler

import (
	"time"

	"chatfabrica-go/internal/service"
	"chatfabrica-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// PlanHandler 提供给定时任务调用的套餐维护接口。
type PlanHandler struct {
	planService service.PlanService
}

// NewPlanHandler 创建一个新的 PlanHandler 实例。
func NewPlanHandler(planService service.PlanService) *PlanHandler {
	return &PlanHandler{planService: planService}
}

// CheckExpired 为已过期的免费窗口续期并补满额度。
func (h *PlanHandler) CheckExpired(c *gin.Context) {
	renewed, err := h.planService.ResetExpiredFreeGrants(c.Request.Context(), time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	log.Infof("[PlanHandler] 免费窗口续期完成, renewed: %d", renewed)
	respondOK(c, gin.H{"renewed": renewed})
}
