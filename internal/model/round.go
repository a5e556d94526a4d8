package model

import (
	"time"

	"gorm.io/gorm"
)

// Round 轮次模型
type Round struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`

	ChamaID     uint `json:"chama_id" gorm:"not null;uniqueIndex:idx_round_chama_number"`
	RoundNumber int  `json:"round_number" gorm:"not null;uniqueIndex:idx_round_chama_number"`

	// 时间窗口
	StartTime time.Time `json:"start_time" gorm:"not null"`
	EndTime   time.Time `json:"end_time" gorm:"not null"`

	// 状态
	Status RoundStatus `json:"status" gorm:"default:'pending';index"`

	// 缴款统计
	ExpectedContributions int     `json:"expected_contributions" gorm:"default:0"`
	ReceivedContributions int     `json:"received_contributions" gorm:"default:0"`
	TotalPot              float64 `json:"total_pot" gorm:"default:0"`

	// 本轮收款人
	RecipientAddress string `json:"recipient_address"`

	// 关联
	Chama         Chama          `json:"chama,omitempty" gorm:"foreignKey:ChamaID"`
	Contributions []Contribution `json:"contributions,omitempty" gorm:"foreignKey:RoundID"`
}

// TableName 指定表名
func (Round) TableName() string {
	return "round"
}

// RoundStatus 轮次状态
type RoundStatus string

const (
	RoundStatusPending   RoundStatus = "pending"   // 待开始
	RoundStatusActive    RoundStatus = "active"    // 进行中
	RoundStatusCompleted RoundStatus = "completed" // 已完成
	RoundStatusExpired   RoundStatus = "expired"   // 已过期
	RoundStatusCancelled RoundStatus = "cancelled" // 已取消
)
