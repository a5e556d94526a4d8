package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/chamasvc/internal/access"
	"github.com/blues/chamasvc/internal/logic"
	"github.com/blues/chamasvc/internal/model"
	"github.com/blues/chamasvc/internal/notify"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ChamaHandler struct {
	chamaLogic  *logic.ChamaLogic
	memberLogic *logic.MemberLogic
}

func NewChamaHandler(db *gorm.DB, notifier *notify.Notifier) *ChamaHandler {
	return &ChamaHandler{
		chamaLogic:  logic.NewChamaLogic(db, notifier),
		memberLogic: logic.NewMemberLogic(db, notifier),
	}
}

// CreateChama 创建储蓄圈
func (h *ChamaHandler) CreateChama(c *gin.Context) {
	var chama model.Chama
	if err := c.ShouldBindJSON(&chama); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if chama.CreatorAddress == "" {
		ErrorResponse(c, http.StatusBadRequest, "creator_address is required")
		return
	}

	if err := h.chamaLogic.CreateChama(chama.CreatorAddress, &chama); err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "储蓄圈创建成功", chama)
}

// GetChamas 获取储蓄圈列表
func (h *ChamaHandler) GetChamas(c *gin.Context) {
	status := c.Query("status")
	creator := c.Query("creator")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	chamas, total, err := h.chamaLogic.GetChamas(status, creator, page, pageSize)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", gin.H{
		"chamas":    chamas,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetChama 获取储蓄圈详情
func (h *ChamaHandler) GetChama(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		return
	}

	chama, err := h.chamaLogic.GetChama(id)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", chama)
}

// GetChamaStats 获取储蓄圈统计
func (h *ChamaHandler) GetChamaStats(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		return
	}

	stats, err := h.chamaLogic.GetChamaStats(id)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", stats)
}

// UpdateStatus 更新储蓄圈状态
func (h *ChamaHandler) UpdateStatus(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		return
	}

	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.chamaLogic.UpdateStatus(id, model.ChamaStatus(req.Status), req.Actor); err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "状态更新成功", nil)
}

// JoinChama 通过邀请码加入储蓄圈
func (h *ChamaHandler) JoinChama(c *gin.Context) {
	code := c.Param("code")

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	chama, err := h.chamaLogic.GetChamaByInviteCode(code)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	member, err := h.chamaLogic.AddMember(chama.ID, req.Address, model.JoinMethodInvited)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "加入成功", member)
}

// GetMembers 获取储蓄圈成员列表
func (h *ChamaHandler) GetMembers(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		return
	}

	members, err := h.memberLogic.GetMembers(id)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "", members)
}

// GetAccessLevel 计算调用方对储蓄圈的访问权限等级
func (h *ChamaHandler) GetAccessLevel(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		return
	}

	addr := c.Query("address")

	chama, err := h.chamaLogic.GetChama(id)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	members, err := h.memberLogic.GetMembers(id)
	if err != nil {
		logicErrorResponse(c, err)
		return
	}

	var membership *model.Member
	if addr != "" {
		if m, err := h.memberLogic.GetMemberByAddress(id, addr); err == nil {
			membership = m
		}
	}

	level := access.Evaluate(addr != "", membership, chama, len(members))
	SuccessResponse(c, http.StatusOK, "", gin.H{"level": level})
}

// parseID 解析路径中的数字ID，失败时直接写入错误响应
func parseID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的ID")
		return 0, err
	}
	return uint(id), nil
}
