package model

import (
	"time"

	"gorm.io/gorm"
)

// BatchOperation 批量上链操作模型，由批处理调度器独占管理
type BatchOperation struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	BatchID string    `json:"batch_id" gorm:"uniqueIndex;not null"`
	ChamaID uint      `json:"chama_id" gorm:"not null;index"`
	Type    BatchType `json:"type" gorm:"not null"`

	// 包含的操作列表（JSON编码）
	Operations     string `json:"operations" gorm:"type:text"`
	OperationCount int    `json:"operation_count" gorm:"default:0"`

	// Gas预估（仅供调用方参考）
	GasEstimate uint64 `json:"gas_estimate" gorm:"default:0"`

	// 状态
	Status     BatchStatus `json:"status" gorm:"default:'pending';index"`
	RetryCount int         `json:"retry_count" gorm:"default:0"`
	MaxRetries int         `json:"max_retries" gorm:"default:3"`

	// 执行结果
	TransactionHash string     `json:"transaction_hash"`
	ErrorMessage    string     `json:"error_message" gorm:"type:text"`
	ExecutedAt      *time.Time `json:"executed_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// TableName 指定表名
func (BatchOperation) TableName() string {
	return "batch_operation"
}

// BatchType 批量操作类型
type BatchType string

const (
	BatchTypeDeploy        BatchType = "deploy"         // 部署合约
	BatchTypeJoin          BatchType = "batch_join"     // 批量加入
	BatchTypeContribute    BatchType = "batch_contrib"  // 批量缴款
	BatchTypeStart         BatchType = "start"          // 启动储蓄圈
	BatchTypeCompleteRound BatchType = "complete_round" // 完成轮次
)

// BatchStatus 批量操作状态
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"   // 待执行
	BatchStatusExecuting BatchStatus = "executing" // 执行中
	BatchStatusCompleted BatchStatus = "completed" // 已完成
	BatchStatusFailed    BatchStatus = "failed"    // 失败
	BatchStatusCancelled BatchStatus = "cancelled" // 已取消
)

// IsTerminal 是否为终态
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed || s == BatchStatusCancelled
}

// BatchIntent 批次中的单个操作意图
type BatchIntent struct {
	IntentID string  `json:"intent_id"`
	Address  string  `json:"address"`
	Amount   float64 `json:"amount,omitempty"`
	RoundID  uint    `json:"round_id,omitempty"`
	MemberID uint    `json:"member_id,omitempty"`
	Status   string  `json:"status"`
	TxHash   string  `json:"tx_hash,omitempty"`
}
