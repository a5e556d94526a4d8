package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/blues/chamasvc/internal/batch"
	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/config"
	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/logic"
	"github.com/blues/chamasvc/internal/model"
	"github.com/blues/chamasvc/internal/notify"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
)

// DefaultMaxRetries 回执查询默认最大重试次数
const DefaultMaxRetries = 10

// Reconciler 链上对账器。链是权威数据源：已确认或失败的缓存记录
// 必须与链上状态一致，差异以链为准修正。
type Reconciler struct {
	db         *gorm.DB
	ledger     chain.Ledger
	chamaLogic *logic.ChamaLogic
	notifier   *notify.Notifier
	maxRetries int
	startBlock int64
	workers    *ants.Pool
}

// NewReconciler 创建对账器
func NewReconciler(db *gorm.DB, ledger chain.Ledger, chamaLogic *logic.ChamaLogic, notifier *notify.Notifier, cfg *config.Config) (*Reconciler, error) {
	maxRetries := cfg.Sync.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	workerPoolSize := cfg.Sync.WorkerPoolSize
	if workerPoolSize <= 0 {
		workerPoolSize = 4
	}

	workers, err := ants.NewPool(workerPoolSize)
	if err != nil {
		return nil, fmt.Errorf("创建对账协程池失败: %w", err)
	}

	return &Reconciler{
		db:         db,
		ledger:     ledger,
		chamaLogic: chamaLogic,
		notifier:   notifier,
		maxRetries: maxRetries,
		startBlock: cfg.Chain.StartBlock,
		workers:    workers,
	}, nil
}

// Stop 释放协程池
func (r *Reconciler) Stop() {
	r.workers.Release()
}

// ProcessSyncOperation 查询一条待确认操作的交易回执并推进其状态。
// 回执未决时保持 pending 等待下一轮，超过重试预算转为终态失败。
func (r *Reconciler) ProcessSyncOperation(ctx context.Context, op *model.SyncOperation) error {
	receipt, err := r.ledger.GetReceipt(ctx, op.TxHash)
	if err != nil {
		return r.recordRetry(op, err)
	}

	switch receipt.Status {
	case chain.ReceiptStatusPending:
		return r.recordRetry(op, nil)
	case chain.ReceiptStatusSuccess:
		return r.confirm(op, receipt)
	case chain.ReceiptStatusReverted:
		return r.fail(op, "transaction reverted")
	default:
		return fmt.Errorf("未知回执状态: %s", receipt.Status)
	}
}

// ProcessRetryQueue 处理回执重试队列。离线时整体跳过，
// 单条操作的失败只记录日志，不影响其他操作。
func (r *Reconciler) ProcessRetryQueue(ctx context.Context, network chain.NetworkStatus) error {
	if !network.Online {
		logger.Debug("Network offline, skipping receipt retry queue")
		return nil
	}

	var ops []model.SyncOperation
	if err := r.db.Where("status = ?", model.SyncStatusPending).
		Order("created_at ASC").
		Limit(100).
		Find(&ops).Error; err != nil {
		return fmt.Errorf("获取待确认操作失败: %w", err)
	}

	for i := range ops {
		if err := r.ProcessSyncOperation(ctx, &ops[i]); err != nil {
			logger.Error("Failed to process sync operation %d (tx %s): %v",
				ops[i].ID, ops[i].TxHash, err)
		}
	}

	return nil
}

// recordRetry 记录一次未决，超过重试预算后丢弃并标记永久失败
func (r *Reconciler) recordRetry(op *model.SyncOperation, cause error) error {
	if op.RetryCount >= r.maxRetries {
		msg := "receipt never arrived"
		if cause != nil {
			msg = cause.Error()
		}
		logger.Warn("Sync operation %d (tx %s) exceeded %d retries, marking failed",
			op.ID, op.TxHash, r.maxRetries)
		return r.fail(op, msg)
	}

	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
	}
	if cause != nil {
		// 权限错误重试不可能成功，直接终态
		if !batch.IsRetryable(cause) {
			return r.fail(op, cause.Error())
		}
		updates["last_error"] = cause.Error()
	}

	if err := r.db.Model(op).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新重试计数失败: %w", err)
	}
	return nil
}

// confirm 链上确认：推进同步操作及其底层缓存记录
func (r *Reconciler) confirm(op *model.SyncOperation, receipt *chain.Receipt) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(op).Update("status", model.SyncStatusConfirmed).Error; err != nil {
			return fmt.Errorf("更新同步操作状态失败: %w", err)
		}
		return r.applyConfirmation(tx, op, receipt)
	})
	if err != nil {
		return err
	}

	r.publish(op.ChamaID, "sync_operation")
	return nil
}

// fail 终态失败：同步操作与底层缓存记录都标记失败，绝不无限重试
func (r *Reconciler) fail(op *model.SyncOperation, reason string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(op).Updates(map[string]interface{}{
			"status":     model.SyncStatusFailed,
			"last_error": reason,
		}).Error; err != nil {
			return fmt.Errorf("更新同步操作状态失败: %w", err)
		}
		return r.applyFailure(tx, op)
	})
	if err != nil {
		return err
	}

	r.publish(op.ChamaID, "sync_operation")
	return nil
}

// applyConfirmation 按操作类型将链上确认回写到缓存记录
func (r *Reconciler) applyConfirmation(tx *gorm.DB, op *model.SyncOperation, receipt *chain.Receipt) error {
	now := time.Now()
	switch op.Type {
	case model.SyncTypeContribution:
		return tx.Model(&model.Contribution{}).
			Where("id = ?", op.RefID).
			Updates(map[string]interface{}{
				"status":       model.ContributionStatusConfirmed,
				"block_num":    receipt.BlockNumber,
				"confirmed_at": &now,
			}).Error
	case model.SyncTypeDeposit:
		return tx.Model(&model.Member{}).
			Where("id = ?", op.RefID).
			Update("deposit_status", model.DepositStatusConfirmed).Error
	case model.SyncTypeBatch:
		return r.confirmBatch(tx, op.RefID, receipt)
	default:
		return fmt.Errorf("未知同步操作类型: %s", op.Type)
	}
}

// confirmBatch 批次确认：缴款批次中的已支付记录推进为已确认，
// 部署批次推进储蓄圈状态
func (r *Reconciler) confirmBatch(tx *gorm.DB, batchRefID uint, receipt *chain.Receipt) error {
	var record model.BatchOperation
	if err := tx.First(&record, batchRefID).Error; err != nil {
		return fmt.Errorf("获取批次失败: %w", err)
	}

	// 执行器有界等待超时后批次仍在执行中，由这里收尾
	if record.Status == model.BatchStatusExecuting {
		if err := batch.FinalizeBatch(tx, &record, record.TransactionHash); err != nil {
			return err
		}
	}

	now := time.Now()
	switch record.Type {
	case model.BatchTypeContribute:
		if err := tx.Model(&model.Contribution{}).
			Where("tx_hash = ? AND status = ?", record.TransactionHash, model.ContributionStatusPaid).
			Updates(map[string]interface{}{
				"status":       model.ContributionStatusConfirmed,
				"block_num":    receipt.BlockNumber,
				"confirmed_at": &now,
			}).Error; err != nil {
			return fmt.Errorf("确认批次缴款失败: %w", err)
		}
	case model.BatchTypeJoin:
		if err := tx.Model(&model.Member{}).
			Where("chama_id = ? AND status = ?", record.ChamaID, model.MemberStatusConfirmed).
			Update("status", model.MemberStatusActive).Error; err != nil {
			return fmt.Errorf("确认批次成员失败: %w", err)
		}
	case model.BatchTypeDeploy:
		// 部署上链确认后推进生命周期状态，非法转换说明已被链上事件推进过。
		// 必须在当前事务内推进，FinalizeBatch 刚写过的圈子行还被本事务锁着
		if err := r.chamaLogic.UpdateStatusTx(tx, record.ChamaID, model.ChamaStatusRegistered, "reconciler"); err != nil &&
			!logic.IsValidationError(err) {
			return err
		}
	}
	return nil
}

// applyFailure 按操作类型将终态失败回写到缓存记录
func (r *Reconciler) applyFailure(tx *gorm.DB, op *model.SyncOperation) error {
	switch op.Type {
	case model.SyncTypeContribution:
		return tx.Model(&model.Contribution{}).
			Where("id = ?", op.RefID).
			Update("status", model.ContributionStatusFailed).Error
	case model.SyncTypeDeposit:
		// 保证金上链失败：支付状态回退的同时撤销乐观推进的活跃状态
		return tx.Model(&model.Member{}).
			Where("id = ?", op.RefID).
			Updates(map[string]interface{}{
				"deposit_status": model.DepositStatusPending,
				"status":         model.MemberStatusPending,
			}).Error
	case model.SyncTypeBatch:
		return tx.Model(&model.BatchOperation{}).
			Where("id = ?", op.RefID).
			Updates(map[string]interface{}{
				"status":        model.BatchStatusFailed,
				"error_message": "transaction reverted or dropped",
			}).Error
	default:
		return fmt.Errorf("未知同步操作类型: %s", op.Type)
	}
}

func (r *Reconciler) publish(chamaID uint, table string) {
	if r.notifier != nil {
		r.notifier.Publish(notify.Change{ChamaID: chamaID, Table: table, Action: "update"})
	}
}
