package batch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/blues/chamasvc/internal/model"
	"gorm.io/gorm"
)

// FinalizeBatch 将已上链成功的批次落为完成态：批次与各操作意图
// 标记完成并盖上交易哈希，对应缓存记录按类型回写。
// 已完成的批次直接返回，可安全重复调用。
func FinalizeBatch(tx *gorm.DB, record *model.BatchOperation, txHash string) error {
	if record.Status == model.BatchStatusCompleted {
		return nil
	}

	var intents []model.BatchIntent
	if err := json.Unmarshal([]byte(record.Operations), &intents); err != nil {
		return fmt.Errorf("解码批次操作失败: %w", err)
	}
	for i := range intents {
		intents[i].Status = "completed"
		intents[i].TxHash = txHash
	}
	ops, err := json.Marshal(intents)
	if err != nil {
		return fmt.Errorf("序列化批次操作失败: %w", err)
	}

	now := time.Now()
	if err := tx.Model(record).Updates(map[string]interface{}{
		"status":           model.BatchStatusCompleted,
		"transaction_hash": txHash,
		"operations":       string(ops),
		"completed_at":     &now,
	}).Error; err != nil {
		return fmt.Errorf("标记批次完成失败: %w", err)
	}

	if err := applyIntentEffects(tx, record, intents, txHash); err != nil {
		return err
	}

	event := model.ChamaEvent{
		ChamaID:   record.ChamaID,
		EventType: model.EventBatchExecuted,
		Actor:     "batch-processor",
		Data:      fmt.Sprintf(`{"batch_id":%q,"type":%q,"count":%d}`, record.BatchID, record.Type, len(intents)),
		TxHash:    txHash,
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("写入审计事件失败: %w", err)
	}

	return nil
}

// applyIntentEffects 按批次类型将提交结果回写到缓存记录
func applyIntentEffects(tx *gorm.DB, record *model.BatchOperation, intents []model.BatchIntent, txHash string) error {
	switch record.Type {
	case model.BatchTypeContribute:
		for _, intent := range intents {
			if err := tx.Model(&model.Contribution{}).
				Where("round_id = ? AND member_id = ?", intent.RoundID, intent.MemberID).
				Updates(map[string]interface{}{
					"status":  model.ContributionStatusPaid,
					"tx_hash": txHash,
				}).Error; err != nil {
				return fmt.Errorf("回写缴款记录失败: %w", err)
			}
		}
	case model.BatchTypeJoin:
		for _, intent := range intents {
			if err := tx.Model(&model.Member{}).
				Where("chama_id = ? AND address = ?", record.ChamaID, intent.Address).
				Update("status", model.MemberStatusConfirmed).Error; err != nil {
				return fmt.Errorf("回写成员记录失败: %w", err)
			}
		}
	case model.BatchTypeDeploy:
		if err := tx.Model(&model.Chama{}).
			Where("id = ?", record.ChamaID).
			Update("transaction_hash", txHash).Error; err != nil {
			return fmt.Errorf("回写储蓄圈交易哈希失败: %w", err)
		}
	}
	return nil
}
