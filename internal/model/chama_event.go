package model

import (
	"time"
)

// ChamaEvent 储蓄圈审计事件，只追加不修改
type ChamaEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	ChamaID   uint   `json:"chama_id" gorm:"index"`
	EventType string `json:"event_type" gorm:"not null;index"`
	Actor     string `json:"actor"`
	Data      string `json:"data" gorm:"type:text"`

	// 区块链信息（链上事件才有）
	TxHash   string `json:"tx_hash" gorm:"index"`
	BlockNum uint64 `json:"block_num"`
	LogIndex uint   `json:"log_index"`
}

// TableName 指定表名
func (ChamaEvent) TableName() string {
	return "chama_event"
}

// 审计事件类型
const (
	EventChamaCreated     = "ChamaCreated"
	EventMemberJoined     = "MemberJoined"
	EventStatusChanged    = "StatusChanged"
	EventDepositPaid      = "DepositPaid"
	EventRoundStarted     = "RoundStarted"
	EventRoundCompleted   = "RoundCompleted"
	EventContributionMade = "ContributionMade"
	EventBatchExecuted    = "BatchExecuted"
	EventReconciled       = "Reconciled"
)
