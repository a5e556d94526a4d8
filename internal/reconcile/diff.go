package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/model"
	"gorm.io/gorm"
)

// ledgerContribution 链上一笔缴款的摘要，用于和缓存比对
type ledgerContribution struct {
	Address     string
	Amount      float64
	RoundNumber int
	BlockNumber uint64
	TxHash      string
}

// ReconcileData 对单个圈子做全量缴款对账，链是权威数据源：
//   - 链上有、缓存没有：补建已确认记录
//   - 两边都有但字段不一致：以链上值覆盖
//   - 缓存已确认、链上查不到：降级为 failed
//
// 返回实际修正的记录数。无差异时不产生任何写入，可安全重复执行。
func (r *Reconciler) ReconcileData(ctx context.Context, chamaID uint) (int, error) {
	var chama model.Chama
	if err := r.db.First(&chama, chamaID).Error; err != nil {
		return 0, fmt.Errorf("查询圈子失败, chamaId: %d: %w", chamaID, err)
	}

	latest, err := r.ledger.LatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("查询最新区块失败: %w", err)
	}

	events, err := r.ledger.GetEventLogs(ctx, "ContributionMade", r.startBlock, latest)
	if err != nil {
		return 0, fmt.Errorf("拉取缴款事件失败: %w", err)
	}

	// 以交易哈希为键建立链上视图
	onChain := make(map[string]ledgerContribution)
	for _, ev := range events {
		if eventUint(ev.Data["chamaId"]) != chamaID {
			continue
		}
		onChain[ev.TxHash] = ledgerContribution{
			Address:     eventAddress(ev.Data["member"]),
			Amount:      eventAmount(ev.Data["amount"]),
			RoundNumber: int(eventUint64(ev.Data["round"])),
			BlockNumber: ev.BlockNumber,
			TxHash:      ev.TxHash,
		}
	}

	var cached []model.Contribution
	if err := r.db.Where("chama_id = ? AND tx_hash != ''", chamaID).Find(&cached).Error; err != nil {
		return 0, fmt.Errorf("查询缓存缴款失败: %w", err)
	}

	cachedByTx := make(map[string]*model.Contribution, len(cached))
	for i := range cached {
		cachedByTx[cached[i].TxHash] = &cached[i]
	}

	mutations := 0
	err = r.db.Transaction(func(tx *gorm.DB) error {
		for txHash, lc := range onChain {
			record, ok := cachedByTx[txHash]
			if !ok {
				// 链上有、缓存没有：补建
				changed, createErr := r.createFromLedger(tx, chamaID, lc)
				if createErr != nil {
					return createErr
				}
				if changed {
					mutations++
				}
				continue
			}

			// 两边都有：字段不一致时以链上值覆盖
			updates := map[string]interface{}{}
			if record.Amount != lc.Amount {
				updates["amount"] = lc.Amount
			}
			if record.BlockNum != lc.BlockNumber {
				updates["block_num"] = lc.BlockNumber
			}
			if record.Status != model.ContributionStatusConfirmed {
				now := time.Now()
				updates["status"] = model.ContributionStatusConfirmed
				updates["confirmed_at"] = &now
			}
			if len(updates) > 0 {
				if err := tx.Model(&model.Contribution{}).Where("id = ?", record.ID).
					Updates(updates).Error; err != nil {
					return err
				}
				mutations++
			}
		}

		// 缓存已确认、链上查不到：降级为 failed
		for txHash, record := range cachedByTx {
			if _, ok := onChain[txHash]; ok {
				continue
			}
			if record.Status != model.ContributionStatusConfirmed {
				continue
			}
			if err := tx.Model(&model.Contribution{}).Where("id = ?", record.ID).
				Update("status", model.ContributionStatusFailed).Error; err != nil {
				return err
			}
			mutations++
		}

		if mutations > 0 {
			return tx.Create(&model.ChamaEvent{
				ChamaID:   chamaID,
				EventType: model.EventReconciled,
				Actor:     "reconciler",
				Data:      fmt.Sprintf(`{"mutations":%d}`, mutations),
			}).Error
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if mutations > 0 {
		logger.Info("Reconciled chama data, chamaId: %d, mutations: %d", chamaID, mutations)
		r.publish(chamaID, "contribution")
	}
	return mutations, nil
}

// createFromLedger 按链上缴款补建缓存记录，成员或轮次缺失时跳过并记日志
func (r *Reconciler) createFromLedger(tx *gorm.DB, chamaID uint, lc ledgerContribution) (bool, error) {
	var member model.Member
	err := tx.Where("chama_id = ? AND address = ?", chamaID, lc.Address).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn("On-chain contribution from unknown member, chamaId: %d, addr: %s, tx: %s",
			chamaID, lc.Address, lc.TxHash)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	round, err := r.ensureRound(tx, chamaID, lc.RoundNumber)
	if err != nil {
		return false, err
	}

	now := time.Now()
	err = tx.Create(&model.Contribution{
		ChamaID:     chamaID,
		RoundID:     round.ID,
		MemberID:    member.ID,
		Address:     lc.Address,
		Amount:      lc.Amount,
		Status:      model.ContributionStatusConfirmed,
		TxHash:      lc.TxHash,
		BlockNum:    lc.BlockNumber,
		ConfirmedAt: &now,
	}).Error
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReconcileAll 对所有已上链圈子并行对账，单个圈子失败不影响其他圈子
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	var chamas []model.Chama
	err := r.db.Where("status IN ?", []model.ChamaStatus{
		model.ChamaStatusRegistered,
		model.ChamaStatusActive,
		model.ChamaStatusCompleted,
	}).Find(&chamas).Error
	if err != nil {
		return fmt.Errorf("查询待对账圈子失败: %w", err)
	}
	if len(chamas) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, chama := range chamas {
		chamaID := chama.ID
		wg.Add(1)
		submitErr := r.workers.Submit(func() {
			defer wg.Done()
			if _, err := r.ReconcileData(ctx, chamaID); err != nil {
				logger.Error("Failed to reconcile chama, chamaId: %d, error: %v", chamaID, err)
			}
		})
		if submitErr != nil {
			wg.Done()
			logger.Error("Failed to submit reconcile task, chamaId: %d, error: %v", chamaID, submitErr)
		}
	}
	wg.Wait()

	return nil
}
