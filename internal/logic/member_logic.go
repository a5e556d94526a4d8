package logic

import (
	"errors"
	"fmt"

	"github.com/blues/chamasvc/internal/model"
	"github.com/blues/chamasvc/internal/notify"
	"gorm.io/gorm"
)

// MemberLogic 成员业务逻辑
type MemberLogic struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

// NewMemberLogic 创建成员业务逻辑
func NewMemberLogic(db *gorm.DB, notifier *notify.Notifier) *MemberLogic {
	return &MemberLogic{db: db, notifier: notifier}
}

// RecordDepositPayment 记录保证金支付，成员转为活跃状态。
// 带交易哈希时同时入队回执确认操作。
func (l *MemberLogic) RecordDepositPayment(memberID uint, txHash string) error {
	var member model.Member

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&member, memberID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return fmt.Errorf("获取成员失败: %w", err)
		}

		updates := map[string]interface{}{
			"deposit_status": model.DepositStatusPaid,
			"status":         model.MemberStatusActive,
		}
		if txHash != "" {
			updates["deposit_tx_hash"] = txHash
		}
		if err := tx.Model(&member).Updates(updates).Error; err != nil {
			return fmt.Errorf("更新保证金状态失败: %w", err)
		}

		if txHash != "" {
			op := model.SyncOperation{
				ChamaID: member.ChamaID,
				Type:    model.SyncTypeDeposit,
				RefID:   member.ID,
				TxHash:  txHash,
				Status:  model.SyncStatusPending,
			}
			if err := tx.Create(&op).Error; err != nil {
				return fmt.Errorf("入队回执确认操作失败: %w", err)
			}
		}

		return appendEvent(tx, member.ChamaID, model.EventDepositPaid, member.Address, map[string]interface{}{
			"member_id": member.ID,
			"tx_hash":   txHash,
		})
	})
	if err != nil {
		return err
	}

	if l.notifier != nil {
		l.notifier.Publish(notify.Change{ChamaID: member.ChamaID, Table: "member", Action: "update"})
	}
	return nil
}

// GetMembers 获取储蓄圈成员列表
func (l *MemberLogic) GetMembers(chamaID uint) ([]model.Member, error) {
	var members []model.Member
	if err := l.db.Where("chama_id = ?", chamaID).
		Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("获取成员列表失败: %w", err)
	}
	return members, nil
}

// GetMemberByAddress 根据地址获取成员
func (l *MemberLogic) GetMemberByAddress(chamaID uint, addr string) (*model.Member, error) {
	var member model.Member
	if err := l.db.Where("chama_id = ? AND address = ?", chamaID, addr).
		First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("获取成员失败: %w", err)
	}
	return &member, nil
}

// MarkDefaulted 将连续缺缴的成员标记为违约，保证金转为没收
func (l *MemberLogic) MarkDefaulted(memberID uint, actor string) error {
	var member model.Member

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&member, memberID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return fmt.Errorf("获取成员失败: %w", err)
		}

		updates := map[string]interface{}{
			"status":         model.MemberStatusDefaulted,
			"deposit_status": model.DepositStatusForfeited,
		}
		if err := tx.Model(&member).Updates(updates).Error; err != nil {
			return fmt.Errorf("更新成员状态失败: %w", err)
		}

		return appendEvent(tx, member.ChamaID, model.EventStatusChanged, actor, map[string]interface{}{
			"member_id": member.ID,
			"to":        model.MemberStatusDefaulted,
		})
	})
	if err != nil {
		return err
	}

	if l.notifier != nil {
		l.notifier.Publish(notify.Change{ChamaID: member.ChamaID, Table: "member", Action: "update"})
	}
	return nil
}
