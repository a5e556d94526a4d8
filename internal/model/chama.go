package model

import (
	"time"

	"gorm.io/gorm"
)

// Chama 轮转储蓄圈模型
type Chama struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	// 基本信息
	Name           string `json:"name" gorm:"not null" binding:"required"`
	Description    string `json:"description" gorm:"type:text"`
	CreatorAddress string `json:"creator_address" gorm:"not null;index"`
	InviteCode     string `json:"invite_code" gorm:"uniqueIndex"`

	// 规则配置
	ContributionAmount float64 `json:"contribution_amount" gorm:"not null" binding:"required,min=0"`
	SecurityDeposit    float64 `json:"security_deposit" gorm:"default:0"`
	MemberTarget       int     `json:"member_target" gorm:"not null"`
	RoundDuration      int64   `json:"round_duration" gorm:"not null"` // 秒

	// 标志位
	IsPrivate     bool `json:"is_private" gorm:"default:false"`
	AutoStart     bool `json:"auto_start" gorm:"default:false"`
	AllowLateJoin bool `json:"allow_late_join" gorm:"default:false"`

	// 状态
	Status       ChamaStatus `json:"status" gorm:"default:'draft';index"`
	CurrentRound int         `json:"current_round" gorm:"default:0"`

	// 时间信息
	RecruitmentDeadline *time.Time `json:"recruitment_deadline"`
	StartedAt           *time.Time `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at"`

	// 区块链信息
	ContractAddress string `json:"contract_address"`
	TransactionHash string `json:"transaction_hash"`

	// 关联
	Members []Member     `json:"members,omitempty" gorm:"foreignKey:ChamaID"`
	Rounds  []Round      `json:"rounds,omitempty" gorm:"foreignKey:ChamaID"`
	Events  []ChamaEvent `json:"events,omitempty" gorm:"foreignKey:ChamaID"`
}

// TableName 指定表名
func (Chama) TableName() string {
	return "chama"
}

// ChamaStatus 储蓄圈状态
type ChamaStatus string

const (
	ChamaStatusDraft      ChamaStatus = "draft"      // 草稿
	ChamaStatusRecruiting ChamaStatus = "recruiting" // 招募中
	ChamaStatusWaiting    ChamaStatus = "waiting"    // 满员待部署
	ChamaStatusRegistered ChamaStatus = "registered" // 已上链
	ChamaStatusActive     ChamaStatus = "active"     // 进行中
	ChamaStatusCompleted  ChamaStatus = "completed"  // 已完成
	ChamaStatusCancelled  ChamaStatus = "cancelled"  // 已取消
)

// IsTerminal 是否为终态
func (s ChamaStatus) IsTerminal() bool {
	return s == ChamaStatusCompleted || s == ChamaStatusCancelled
}
