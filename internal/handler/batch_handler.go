package handler

import (
	"errors"
	"net/http"

	"github.com/blues/chamasvc/internal/batch"
	"github.com/blues/chamasvc/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BatchHandler struct {
	db   *gorm.DB
	pool *batch.Pool
}

func NewBatchHandler(db *gorm.DB, pool *batch.Pool) *BatchHandler {
	return &BatchHandler{
		db:   db,
		pool: pool,
	}
}

// EnqueueIntent 把一个操作意图放入批处理池
func (h *BatchHandler) EnqueueIntent(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	var req BatchIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	batchType := model.BatchType(req.Type)
	switch batchType {
	case model.BatchTypeDeploy, model.BatchTypeJoin, model.BatchTypeContribute,
		model.BatchTypeStart, model.BatchTypeCompleteRound:
	default:
		ErrorResponse(c, http.StatusBadRequest, "无效的批量操作类型")
		return
	}

	intent := model.BatchIntent{
		IntentID: uuid.New().String(),
		Address:  req.Address,
		Amount:   req.Amount,
		RoundID:  req.RoundID,
		MemberID: req.MemberID,
		Status:   "pending",
	}

	batchID, err := h.pool.Enqueue(chamaID, batchType, intent)
	if err != nil {
		if errors.Is(err, batch.ErrPoolStopped) {
			ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	SuccessResponse(c, http.StatusAccepted, "操作已入池", gin.H{
		"batch_id":  batchID,
		"intent_id": intent.IntentID,
	})
}

// GetBatch 查询批次状态
func (h *BatchHandler) GetBatch(c *gin.Context) {
	batchID := c.Param("batch_id")

	var record model.BatchOperation
	err := h.db.Where("batch_id = ?", batchID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		ErrorResponse(c, http.StatusNotFound, "批次不存在")
		return
	}
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	SuccessResponse(c, http.StatusOK, "", record)
}

// GetChamaBatches 查询储蓄圈的批次列表
func (h *BatchHandler) GetChamaBatches(c *gin.Context) {
	chamaID, err := parseID(c, "id")
	if err != nil {
		return
	}

	var records []model.BatchOperation
	query := h.db.Where("chama_id = ?", chamaID).Order("created_at DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&records).Error; err != nil {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	SuccessResponse(c, http.StatusOK, "", records)
}
