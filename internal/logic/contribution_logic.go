package logic

import (
	"errors"
	"fmt"
	"time"

	"github.com/blues/chamasvc/internal/model"
	"github.com/blues/chamasvc/internal/notify"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LatePenaltyRate 逾期缴款罚金比例
const LatePenaltyRate = 0.05

// ContributionLogic 缴款业务逻辑
type ContributionLogic struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

// NewContributionLogic 创建缴款业务逻辑
func NewContributionLogic(db *gorm.DB, notifier *notify.Notifier) *ContributionLogic {
	return &ContributionLogic{db: db, notifier: notifier}
}

// RecordContribution 记录一笔缴款。缴款插入、成员累计、轮次统计
// 在同一事务内完成，外部不可能观察到部分更新。
func (l *ContributionLogic) RecordContribution(chamaID, roundID uint, memberAddr string, amount float64, txHash string) (*model.Contribution, error) {
	var contribution model.Contribution

	err := l.db.Transaction(func(tx *gorm.DB) error {
		var chama model.Chama
		if err := tx.First(&chama, chamaID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChamaNotFound
			}
			return fmt.Errorf("获取储蓄圈失败: %w", err)
		}

		var member model.Member
		if err := tx.Where("chama_id = ? AND address = ?", chamaID, memberAddr).
			First(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return fmt.Errorf("获取成员失败: %w", err)
		}

		var round model.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND chama_id = ?", roundID, chamaID).
			First(&round).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoundNotFound
			}
			return fmt.Errorf("获取轮次失败: %w", err)
		}

		var existing model.Contribution
		err := tx.Where("round_id = ? AND member_id = ?", roundID, member.ID).
			First(&existing).Error
		if err == nil {
			return ErrAlreadyContributed
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询缴款记录失败: %w", err)
		}

		now := time.Now()
		isLate := now.After(round.EndTime)
		penalty := float64(0)
		if isLate {
			if !chama.AllowLateJoin {
				return ErrRoundClosed
			}
			penalty = amount * LatePenaltyRate
		}

		contribution = model.Contribution{
			ChamaID:  chamaID,
			RoundID:  roundID,
			MemberID: member.ID,
			Address:  memberAddr,
			Amount:   amount,
			Status:   model.ContributionStatusPending,
			IsLate:   isLate,
			Penalty:  penalty,
			TxHash:   txHash,
		}
		if err := tx.Create(&contribution).Error; err != nil {
			return fmt.Errorf("创建缴款记录失败: %w", err)
		}

		// 成员累计统计
		memberUpdates := map[string]interface{}{
			"total_contributions": gorm.Expr("total_contributions + ?", amount),
			"rounds_contributed":  gorm.Expr("rounds_contributed + 1"),
		}
		if err := tx.Model(&member).Updates(memberUpdates).Error; err != nil {
			return fmt.Errorf("更新成员累计统计失败: %w", err)
		}

		// 轮次统计
		roundUpdates := map[string]interface{}{
			"received_contributions": gorm.Expr("received_contributions + 1"),
			"total_pot":              gorm.Expr("total_pot + ?", amount),
		}
		if err := tx.Model(&round).Updates(roundUpdates).Error; err != nil {
			return fmt.Errorf("更新轮次统计失败: %w", err)
		}

		// 已有交易哈希的缴款直接入队回执确认
		if txHash != "" {
			op := model.SyncOperation{
				ChamaID: chamaID,
				Type:    model.SyncTypeContribution,
				RefID:   contribution.ID,
				TxHash:  txHash,
				Status:  model.SyncStatusPending,
			}
			if err := tx.Create(&op).Error; err != nil {
				return fmt.Errorf("入队回执确认操作失败: %w", err)
			}
		}

		return appendEvent(tx, chamaID, model.EventContributionMade, memberAddr, map[string]interface{}{
			"round_id": roundID,
			"amount":   amount,
			"is_late":  isLate,
		})
	})
	if err != nil {
		return nil, err
	}

	if l.notifier != nil {
		l.notifier.Publish(notify.Change{ChamaID: chamaID, Table: "contribution", Action: "insert"})
	}
	return &contribution, nil
}

// GetRoundContributions 获取轮次缴款记录
func (l *ContributionLogic) GetRoundContributions(roundID uint) ([]model.Contribution, error) {
	var contributions []model.Contribution
	if err := l.db.Where("round_id = ?", roundID).
		Order("created_at ASC").
		Find(&contributions).Error; err != nil {
		return nil, fmt.Errorf("获取轮次缴款记录失败: %w", err)
	}
	return contributions, nil
}

// GetChamaContributions 按状态获取储蓄圈缴款记录
func (l *ContributionLogic) GetChamaContributions(chamaID uint, status model.ContributionStatus) ([]model.Contribution, error) {
	query := l.db.Where("chama_id = ?", chamaID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var contributions []model.Contribution
	if err := query.Order("created_at ASC").Find(&contributions).Error; err != nil {
		return nil, fmt.Errorf("获取储蓄圈缴款记录失败: %w", err)
	}
	return contributions, nil
}

// GetContributionStats 获取缴款统计信息
func (l *ContributionLogic) GetContributionStats(chamaID uint) (map[string]interface{}, error) {
	var stats struct {
		TotalContributions int64   `json:"total_contributions"`
		TotalAmount        float64 `json:"total_amount"`
		ConfirmedCount     int64   `json:"confirmed_count"`
		LateCount          int64   `json:"late_count"`
	}

	base := l.db.Model(&model.Contribution{}).Where("chama_id = ?", chamaID)

	if err := base.Session(&gorm.Session{}).Count(&stats.TotalContributions).Error; err != nil {
		return nil, fmt.Errorf("获取缴款总数失败: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Select("COALESCE(SUM(amount), 0)").Scan(&stats.TotalAmount).Error; err != nil {
		return nil, fmt.Errorf("获取缴款总额失败: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("status = ?", model.ContributionStatusConfirmed).Count(&stats.ConfirmedCount).Error; err != nil {
		return nil, fmt.Errorf("获取已确认缴款数失败: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("is_late = ?", true).Count(&stats.LateCount).Error; err != nil {
		return nil, fmt.Errorf("获取逾期缴款数失败: %w", err)
	}

	return map[string]interface{}{
		"total_contributions": stats.TotalContributions,
		"total_amount":        stats.TotalAmount,
		"confirmed_count":     stats.ConfirmedCount,
		"late_count":          stats.LateCount,
	}, nil
}
