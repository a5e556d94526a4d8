package handler

import (
	"net/http"

	"github.com/blues/chamasvc/internal/logic"
	"github.com/blues/chamasvc/internal/notify"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type MemberHandler struct {
	memberLogic *logic.MemberLogic
}

func NewMemberHandler(db *gorm.DB, notifier *notify.Notifier) *MemberHandler {
	return &MemberHandler{
		memberLogic: logic.NewMemberLogic(db, notifier),
	}
}

// RecordDeposit 记录保证金缴纳
func (h *MemberHandler) RecordDeposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.memberLogic.RecordDepositPayment(req.MemberID, req.TxHash); err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "保证金已记录", nil)
}

// MarkDefaulted 标记成员违约
func (h *MemberHandler) MarkDefaulted(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		return
	}

	actor := c.Query("actor")
	if err := h.memberLogic.MarkDefaulted(id, actor); err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "成员已标记违约", nil)
}
