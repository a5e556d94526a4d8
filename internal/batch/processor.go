package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/model"
	"github.com/blues/chamasvc/internal/notify"
	"gorm.io/gorm"
)

var (
	ErrChamaBusy = errors.New("同一储蓄圈已有批次在执行")
	ErrOffline   = errors.New("网络离线，跳过执行")
)

// 回执有界等待默认参数：超时后批次保持执行中，交由对账器收尾
const (
	DefaultReceiptPollInterval = 3 * time.Second
	DefaultReceiptWaitTimeout  = 15 * time.Second
)

// Result 批次执行结果。终态批次重复执行时返回存量结果。
type Result struct {
	BatchID         string            `json:"batch_id"`
	Status          model.BatchStatus `json:"status"`
	TransactionHash string            `json:"transaction_hash,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
}

// Processor 批次执行器。同一储蓄圈同时只允许一个批次在途，
// 避免单账户交易的nonce顺序冲突；不同储蓄圈可并发执行。
type Processor struct {
	db       *gorm.DB
	ledger   chain.Ledger
	notifier *notify.Notifier

	receiptPoll time.Duration
	receiptWait time.Duration

	mu       sync.Mutex
	inflight map[uint]bool // chamaID -> 是否有在途批次
}

// ProcessorOption 执行器配置项
type ProcessorOption func(*Processor)

// WithReceiptWait 设置回执轮询间隔与有界等待时长
func WithReceiptWait(poll, wait time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.receiptPoll = poll
		p.receiptWait = wait
	}
}

// NewProcessor 创建批次执行器
func NewProcessor(db *gorm.DB, ledger chain.Ledger, notifier *notify.Notifier, opts ...ProcessorOption) *Processor {
	p := &Processor{
		db:          db,
		ledger:      ledger,
		notifier:    notifier,
		receiptPoll: DefaultReceiptPollInterval,
		receiptWait: DefaultReceiptWaitTimeout,
		inflight:    make(map[uint]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessBatch 执行一个批次。终态批次不会被重复执行，
// 直接返回存量结果。
func (p *Processor) ProcessBatch(ctx context.Context, batchID string, network chain.NetworkStatus) (*Result, error) {
	if !network.Online {
		return nil, ErrOffline
	}

	var record model.BatchOperation
	if err := p.db.Where("batch_id = ?", batchID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("批次不存在: %s", batchID)
		}
		return nil, fmt.Errorf("获取批次失败: %w", err)
	}

	// 幂等：终态批次直接返回存量结果
	if record.Status.IsTerminal() {
		return &Result{
			BatchID:         record.BatchID,
			Status:          record.Status,
			TransactionHash: record.TransactionHash,
			ErrorMessage:    record.ErrorMessage,
		}, nil
	}

	// 按储蓄圈串行化
	if !p.acquire(record.ChamaID) {
		return nil, ErrChamaBusy
	}
	defer p.release(record.ChamaID)

	return p.execute(ctx, &record)
}

// execute 执行批次主体，调用方已持有该储蓄圈的在途锁
func (p *Processor) execute(ctx context.Context, record *model.BatchOperation) (*Result, error) {
	var intents []model.BatchIntent
	if err := json.Unmarshal([]byte(record.Operations), &intents); err != nil {
		return nil, fmt.Errorf("解码批次操作失败: %w", err)
	}

	now := time.Now()
	if err := p.db.Model(record).Updates(map[string]interface{}{
		"status":      model.BatchStatusExecuting,
		"executed_at": &now,
	}).Error; err != nil {
		return nil, fmt.Errorf("更新批次状态失败: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"batch_id": record.BatchID,
		"chama_id": record.ChamaID,
		"intents":  intents,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化批次载荷失败: %w", err)
	}

	txHash, err := p.ledger.Submit(ctx, intentTypeFor(record.Type), payload)
	if err != nil {
		return p.handleSubmitError(record, err)
	}

	if err := p.db.Model(record).Update("transaction_hash", txHash).Error; err != nil {
		return nil, fmt.Errorf("记录交易哈希失败: %w", err)
	}

	// 有界等待回执，避免阻塞工作循环
	receipt := p.waitReceipt(ctx, txHash)

	switch receipt.Status {
	case chain.ReceiptStatusSuccess:
		if err := p.complete(record, txHash); err != nil {
			return nil, err
		}
		logger.Info("Batch %s executed for chama %d. TxHash: %s", record.BatchID, record.ChamaID, txHash)
		p.publish(record.ChamaID)
		return &Result{
			BatchID:         record.BatchID,
			Status:          model.BatchStatusCompleted,
			TransactionHash: txHash,
		}, nil

	case chain.ReceiptStatusReverted:
		// 链上回滚：批次终态失败，各操作意图保持原状，不自动重建
		if err := p.db.Model(record).Updates(map[string]interface{}{
			"status":        model.BatchStatusFailed,
			"error_message": "transaction reverted",
		}).Error; err != nil {
			return nil, fmt.Errorf("标记批次失败状态失败: %w", err)
		}
		logger.Error("Batch %s reverted on chain. TxHash: %s", record.BatchID, txHash)
		p.publish(record.ChamaID)
		return &Result{
			BatchID:         record.BatchID,
			Status:          model.BatchStatusFailed,
			TransactionHash: txHash,
			ErrorMessage:    "transaction reverted",
		}, nil

	default:
		// 回执未决：入队回执确认，由对账器收尾
		op := model.SyncOperation{
			ChamaID: record.ChamaID,
			Type:    model.SyncTypeBatch,
			RefID:   record.ID,
			TxHash:  txHash,
			Status:  model.SyncStatusPending,
		}
		if err := p.db.Create(&op).Error; err != nil {
			return nil, fmt.Errorf("入队回执确认操作失败: %w", err)
		}
		logger.Info("Batch %s submitted, receipt pending. TxHash: %s", record.BatchID, txHash)
		return &Result{
			BatchID:         record.BatchID,
			Status:          model.BatchStatusExecuting,
			TransactionHash: txHash,
		}, nil
	}
}

// waitReceipt 有界轮询交易回执，超时返回 pending
func (p *Processor) waitReceipt(ctx context.Context, txHash string) *chain.Receipt {
	deadline := time.Now().Add(p.receiptWait)
	for {
		receipt, err := p.ledger.GetReceipt(ctx, txHash)
		if err == nil && receipt.Status != chain.ReceiptStatusPending {
			return receipt
		}
		if err != nil {
			logger.Warn("Receipt lookup failed for %s: %v", txHash, err)
		}

		if time.Now().After(deadline) {
			return &chain.Receipt{Status: chain.ReceiptStatusPending}
		}
		select {
		case <-ctx.Done():
			return &chain.Receipt{Status: chain.ReceiptStatusPending}
		case <-time.After(p.receiptPoll):
		}
	}
}

// handleSubmitError 处理提交失败。可重试错误在重试预算内回退为待执行，
// 权限错误和预算耗尽则转为终态失败。
func (p *Processor) handleSubmitError(record *model.BatchOperation, submitErr error) (*Result, error) {
	if IsRetryable(submitErr) && record.RetryCount < record.MaxRetries {
		if err := p.db.Model(record).Updates(map[string]interface{}{
			"status":      model.BatchStatusPending,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error; err != nil {
			return nil, fmt.Errorf("回退批次状态失败: %w", err)
		}
		logger.Warn("Batch %s submit failed (retry %d/%d): %v",
			record.BatchID, record.RetryCount+1, record.MaxRetries, submitErr)
		return nil, submitErr
	}

	if err := p.db.Model(record).Updates(map[string]interface{}{
		"status":        model.BatchStatusFailed,
		"error_message": submitErr.Error(),
	}).Error; err != nil {
		return nil, fmt.Errorf("标记批次失败状态失败: %w", err)
	}

	logger.Error("Batch %s permanently failed: %v", record.BatchID, submitErr)
	p.publish(record.ChamaID)

	return &Result{
		BatchID:      record.BatchID,
		Status:       model.BatchStatusFailed,
		ErrorMessage: submitErr.Error(),
	}, nil
}

// complete 批次上链成功后的收尾，并入队回执确认以补齐区块信息
func (p *Processor) complete(record *model.BatchOperation, txHash string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := FinalizeBatch(tx, record, txHash); err != nil {
			return err
		}

		op := model.SyncOperation{
			ChamaID: record.ChamaID,
			Type:    model.SyncTypeBatch,
			RefID:   record.ID,
			TxHash:  txHash,
			Status:  model.SyncStatusPending,
		}
		if err := tx.Create(&op).Error; err != nil {
			return fmt.Errorf("入队回执确认操作失败: %w", err)
		}
		return nil
	})
}

func (p *Processor) acquire(chamaID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[chamaID] {
		return false
	}
	p.inflight[chamaID] = true
	return true
}

func (p *Processor) release(chamaID uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, chamaID)
}

func (p *Processor) publish(chamaID uint) {
	if p.notifier != nil {
		p.notifier.Publish(notify.Change{ChamaID: chamaID, Table: "batch_operation", Action: "update"})
	}
}

// intentTypeFor 批次类型到上链意图类型的映射
func intentTypeFor(batchType model.BatchType) chain.IntentType {
	switch batchType {
	case model.BatchTypeDeploy:
		return chain.IntentDeploy
	case model.BatchTypeJoin:
		return chain.IntentBatchJoin
	case model.BatchTypeContribute:
		return chain.IntentBatchContrib
	case model.BatchTypeStart:
		return chain.IntentStart
	case model.BatchTypeCompleteRound:
		return chain.IntentCompleteRound
	default:
		return chain.IntentType(batchType)
	}
}

// IsRetryable 判断错误是否可重试。权限类错误重试不可能成功，
// 直接视为终态。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission denied") || strings.Contains(msg, "unauthorized") {
		return false
	}
	for _, hint := range []string{"timeout", "connection", "temporarily", "unavailable", "reset by peer"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
