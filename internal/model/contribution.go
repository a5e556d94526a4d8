package model

import (
	"time"

	"gorm.io/gorm"
)

// Contribution 缴款记录模型
type Contribution struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	ChamaID  uint `json:"chama_id" gorm:"not null;index"`
	RoundID  uint `json:"round_id" gorm:"not null;uniqueIndex:idx_contribution_round_member"`
	MemberID uint `json:"member_id" gorm:"not null;uniqueIndex:idx_contribution_round_member"`

	Address string  `json:"address" gorm:"not null;index"`
	Amount  float64 `json:"amount" gorm:"not null"`

	// 状态
	Status ContributionStatus `json:"status" gorm:"default:'pending';index"`

	// 逾期信息
	IsLate  bool    `json:"is_late" gorm:"default:false"`
	Penalty float64 `json:"penalty" gorm:"default:0"`

	// 区块链信息
	TxHash      string     `json:"tx_hash" gorm:"index"`
	BlockNum    uint64     `json:"block_num"`
	ConfirmedAt *time.Time `json:"confirmed_at"`

	// 关联
	Round  Round  `json:"round,omitempty" gorm:"foreignKey:RoundID"`
	Member Member `json:"member,omitempty" gorm:"foreignKey:MemberID"`
}

// TableName 指定表名
func (Contribution) TableName() string {
	return "contribution"
}

// ContributionStatus 缴款状态
type ContributionStatus string

const (
	ContributionStatusPending   ContributionStatus = "pending"   // 待支付
	ContributionStatusPaid      ContributionStatus = "paid"      // 已支付待确认
	ContributionStatusConfirmed ContributionStatus = "confirmed" // 已确认
	ContributionStatusFailed    ContributionStatus = "failed"    // 失败
	ContributionStatusRefunded  ContributionStatus = "refunded"  // 已退款
)
