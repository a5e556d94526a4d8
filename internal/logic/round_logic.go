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

// RoundLogic 轮次业务逻辑
type RoundLogic struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

// NewRoundLogic 创建轮次业务逻辑
func NewRoundLogic(db *gorm.DB, notifier *notify.Notifier) *RoundLogic {
	return &RoundLogic{db: db, notifier: notifier}
}

// CreateRound 创建并激活新轮次。同一储蓄圈同时只能有一个进行中的轮次，
// current_round 只增不减。
func (l *RoundLogic) CreateRound(chamaID uint, roundNumber int) (*model.Round, error) {
	var round model.Round

	err := l.db.Transaction(func(tx *gorm.DB) error {
		var chama model.Chama
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&chama, chamaID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChamaNotFound
			}
			return fmt.Errorf("获取储蓄圈失败: %w", err)
		}

		var activeCount int64
		if err := tx.Model(&model.Round{}).
			Where("chama_id = ? AND status = ?", chamaID, model.RoundStatusActive).
			Count(&activeCount).Error; err != nil {
			return fmt.Errorf("查询进行中轮次失败: %w", err)
		}
		if activeCount > 0 {
			return ErrRoundAlreadyActive
		}

		expected, err := countedMembers(tx, chamaID)
		if err != nil {
			return err
		}

		now := time.Now()
		round = model.Round{
			ChamaID:               chamaID,
			RoundNumber:           roundNumber,
			StartTime:             now,
			EndTime:               now.Add(time.Duration(chama.RoundDuration) * time.Second),
			Status:                model.RoundStatusActive,
			ExpectedContributions: int(expected),
		}
		if err := tx.Create(&round).Error; err != nil {
			return fmt.Errorf("创建轮次失败: %w", err)
		}

		// current_round 只增不减
		if roundNumber > chama.CurrentRound {
			if err := tx.Model(&chama).Update("current_round", roundNumber).Error; err != nil {
				return fmt.Errorf("更新当前轮次失败: %w", err)
			}
		}

		return appendEvent(tx, chamaID, model.EventRoundStarted, chama.CreatorAddress, map[string]interface{}{
			"round_number": roundNumber,
			"end_time":     round.EndTime,
		})
	})
	if err != nil {
		return nil, err
	}

	if l.notifier != nil {
		l.notifier.Publish(notify.Change{ChamaID: chamaID, Table: "round", Action: "insert"})
	}
	return &round, nil
}

// GetActiveRound 获取进行中的轮次
func (l *RoundLogic) GetActiveRound(chamaID uint) (*model.Round, error) {
	var round model.Round
	if err := l.db.Where("chama_id = ? AND status = ?", chamaID, model.RoundStatusActive).
		First(&round).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("获取进行中轮次失败: %w", err)
	}
	return &round, nil
}

// GetRounds 获取储蓄圈全部轮次
func (l *RoundLogic) GetRounds(chamaID uint) ([]model.Round, error) {
	var rounds []model.Round
	if err := l.db.Where("chama_id = ?", chamaID).
		Order("round_number ASC").
		Find(&rounds).Error; err != nil {
		return nil, fmt.Errorf("获取轮次列表失败: %w", err)
	}
	return rounds, nil
}

// CompleteRound 完成轮次并记录收款人
func (l *RoundLogic) CompleteRound(roundID uint, recipientAddr string, actor string) error {
	var round model.Round

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&round, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoundNotFound
			}
			return fmt.Errorf("获取轮次失败: %w", err)
		}

		if round.Status != model.RoundStatusActive {
			return fmt.Errorf("%w: 轮次状态为 %s", ErrInvalidTransition, round.Status)
		}

		updates := map[string]interface{}{
			"status":            model.RoundStatusCompleted,
			"recipient_address": recipientAddr,
		}
		if err := tx.Model(&round).Updates(updates).Error; err != nil {
			return fmt.Errorf("更新轮次状态失败: %w", err)
		}

		return appendEvent(tx, round.ChamaID, model.EventRoundCompleted, actor, map[string]interface{}{
			"round_number": round.RoundNumber,
			"recipient":    recipientAddr,
			"total_pot":    round.TotalPot,
		})
	})
	if err != nil {
		return err
	}

	if l.notifier != nil {
		l.notifier.Publish(notify.Change{ChamaID: round.ChamaID, Table: "round", Action: "update"})
	}
	return nil
}

// ExpireOverdueRounds 将超过截止时间仍未完成的轮次标记为过期
func (l *RoundLogic) ExpireOverdueRounds() (int64, error) {
	result := l.db.Model(&model.Round{}).
		Where("status = ? AND end_time < ?", model.RoundStatusActive, time.Now()).
		Update("status", model.RoundStatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("过期轮次处理失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}
