package handler

import (
	"net/http"

	"github.com/blues/chamasvc/internal/logic"
	"github.com/blues/chamasvc/internal/model"
	"github.com/blues/chamasvc/internal/notify"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ContributionHandler struct {
	contributionLogic *logic.ContributionLogic
}

func NewContributionHandler(db *gorm.DB, notifier *notify.Notifier) *ContributionHandler {
	return &ContributionHandler{
		contributionLogic: logic.NewContributionLogic(db, notifier),
	}
}

// RecordContribution 记录缴款
func (h *ContributionHandler) RecordContribution(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	var req ContributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	contribution, err := h.contributionLogic.RecordContribution(
		chamaID, req.RoundID, req.Address, req.Amount, req.TxHash)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "缴款已记录", contribution)
}

// GetChamaContributions 获取储蓄圈缴款列表
func (h *ContributionHandler) GetChamaContributions(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	status := model.ContributionStatus(c.Query("status"))
	contributions, err := h.contributionLogic.GetChamaContributions(chamaID, status)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", contributions)
}

// GetContributionStats 获取储蓄圈缴款统计
func (h *ContributionHandler) GetContributionStats(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	stats, err := h.contributionLogic.GetContributionStats(chamaID)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", stats)
}

// GetRoundContributions 获取轮次缴款列表
func (h *ContributionHandler) GetRoundContributions(c *gin.Context) {
	roundID, err := parseID(c, "round_id")
	if err != nil {
		return
	}

	contributions, err := h.contributionLogic.GetRoundContributions(roundID)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", contributions)
}
