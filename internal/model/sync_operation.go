package model

import (
	"time"

	"gorm.io/gorm"
)

// SyncOperation 回执轮询队列中的一条待确认操作
type SyncOperation struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	ChamaID uint     `json:"chama_id" gorm:"index"`
	Type    SyncType `json:"type" gorm:"not null"`

	// 关联的缓存记录ID（按Type解释）
	RefID  uint   `json:"ref_id" gorm:"not null"`
	TxHash string `json:"tx_hash" gorm:"not null;index"`

	// 状态
	Status     SyncStatus `json:"status" gorm:"default:'pending';index"`
	RetryCount int        `json:"retry_count" gorm:"default:0"`
	LastError  string     `json:"last_error" gorm:"type:text"`
}

// TableName 指定表名
func (SyncOperation) TableName() string {
	return "sync_operation"
}

// SyncType 同步操作类型
type SyncType string

const (
	SyncTypeContribution SyncType = "contribution" // 缴款确认
	SyncTypeDeposit      SyncType = "deposit"      // 保证金确认
	SyncTypeBatch        SyncType = "batch"        // 批次确认
)

// SyncStatus 同步操作状态
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"   // 等待回执
	SyncStatusConfirmed SyncStatus = "confirmed" // 链上确认
	SyncStatusFailed    SyncStatus = "failed"    // 终态失败
)
