package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/chamasvc/internal/logic"
	"github.com/blues/chamasvc/internal/notify"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type RoundHandler struct {
	roundLogic *logic.RoundLogic
}

func NewRoundHandler(db *gorm.DB, notifier *notify.Notifier) *RoundHandler {
	return &RoundHandler{
		roundLogic: logic.NewRoundLogic(db, notifier),
	}
}

// CreateRound 开启新轮次
func (h *RoundHandler) CreateRound(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	roundNumber, err := strconv.Atoi(c.DefaultQuery("round_number", "0"))
	if err != nil || roundNumber <= 0 {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次号")
		return
	}

	round, err := h.roundLogic.CreateRound(chamaID, roundNumber)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "轮次已开启", round)
}

// GetRounds 获取储蓄圈全部轮次
func (h *RoundHandler) GetRounds(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	rounds, err := h.roundLogic.GetRounds(chamaID)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", rounds)
}

// GetActiveRound 获取当前进行中的轮次
func (h *RoundHandler) GetActiveRound(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	round, err := h.roundLogic.GetActiveRound(chamaID)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", round)
}

// CompleteRound 完成轮次并记录受益人
func (h *RoundHandler) CompleteRound(c *gin.Context) {
	roundID, err := parseID(c, "round_id")
	if err != nil {
		return
	}

	var req CompleteRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.roundLogic.CompleteRound(roundID, req.RecipientAddress, req.Actor); err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "轮次已完成", nil)
}
