package model

import (
	"time"

	"gorm.io/gorm"
)

// Member 储蓄圈成员模型
type Member struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	ChamaID uint   `json:"chama_id" gorm:"not null;uniqueIndex:idx_member_chama_addr"`
	Address string `json:"address" gorm:"not null;uniqueIndex:idx_member_chama_addr"`

	// 状态
	Status        MemberStatus  `json:"status" gorm:"default:'invited'"`
	DepositStatus DepositStatus `json:"deposit_status" gorm:"default:'pending'"`
	JoinMethod    JoinMethod    `json:"join_method" gorm:"default:'direct'"`

	// 累计统计
	TotalContributions float64 `json:"total_contributions" gorm:"default:0"`
	RoundsContributed  int     `json:"rounds_contributed" gorm:"default:0"`
	RoundsMissed       int     `json:"rounds_missed" gorm:"default:0"`

	// 派彩信息
	PayoutRound   int     `json:"payout_round" gorm:"default:0"`
	PayoutAmount  float64 `json:"payout_amount" gorm:"default:0"`
	PayoutTxHash  string  `json:"payout_tx_hash"`
	DepositTxHash string  `json:"deposit_tx_hash"`

	// 关联
	Chama Chama `json:"chama,omitempty" gorm:"foreignKey:ChamaID"`
}

// TableName 指定表名
func (Member) TableName() string {
	return "member"
}

// MemberStatus 成员状态
type MemberStatus string

const (
	MemberStatusInvited   MemberStatus = "invited"   // 已邀请
	MemberStatusPending   MemberStatus = "pending"   // 待确认
	MemberStatusConfirmed MemberStatus = "confirmed" // 已确认
	MemberStatusActive    MemberStatus = "active"    // 活跃
	MemberStatusDefaulted MemberStatus = "defaulted" // 违约
	MemberStatusCompleted MemberStatus = "completed" // 已完成
	MemberStatusWithdrawn MemberStatus = "withdrawn" // 已退出
)

// DepositStatus 保证金状态
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"   // 待支付
	DepositStatusPaid      DepositStatus = "paid"      // 已支付
	DepositStatusConfirmed DepositStatus = "confirmed" // 已确认
	DepositStatusForfeited DepositStatus = "forfeited" // 已没收
)

// JoinMethod 加入方式
type JoinMethod string

const (
	JoinMethodInvited JoinMethod = "invited" // 受邀加入
	JoinMethodDirect  JoinMethod = "direct"  // 直接加入
	JoinMethodCreator JoinMethod = "creator" // 创建者
)
