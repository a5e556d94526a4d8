package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/logic"
	"github.com/blues/chamasvc/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// syncedEventNames 需要同步的合约事件，按依赖顺序排列：
// 圈子部署先于成员加入，成员先于缴款
var syncedEventNames = []string{
	"ChamaDeployed",
	"MemberJoined",
	"RoundStarted",
	"ContributionMade",
	"RoundCompleted",
}

// LatestBlock 返回链上最新区块号
func (r *Reconciler) LatestBlock(ctx context.Context) (int64, error) {
	return r.ledger.LatestBlock(ctx)
}

// LastSyncedBlock 返回已落库链上事件的最大区块号，没有记录时返回起始区块
func (r *Reconciler) LastSyncedBlock() (int64, error) {
	var maxBlock int64
	err := r.db.Model(&model.ChamaEvent{}).
		Where("block_num > 0").
		Select("COALESCE(MAX(block_num), 0)").
		Scan(&maxBlock).Error
	if err != nil {
		return 0, fmt.Errorf("查询已同步区块失败: %w", err)
	}
	if maxBlock < r.startBlock {
		return r.startBlock, nil
	}
	return maxBlock, nil
}

// SyncFromChainEvents 按区块范围拉取合约事件并应用到缓存。
// 缓存中已有对应记录时按交易哈希匹配并确认，没有时直接从事件
// 构造新记录。每个事件独立事务，失败只影响自身。
func (r *Reconciler) SyncFromChainEvents(ctx context.Context, fromBlock, toBlock int64) error {
	if fromBlock > toBlock {
		return nil
	}

	logger.Info("Syncing chain events, from: %d, to: %d", fromBlock, toBlock)

	for _, name := range syncedEventNames {
		events, err := r.ledger.GetEventLogs(ctx, name, fromBlock, toBlock)
		if err != nil {
			return fmt.Errorf("拉取 %s 事件失败: %w", name, err)
		}

		for _, ev := range events {
			if err := r.applyEvent(ev); err != nil {
				logger.Error("Failed to apply chain event, name: %s, tx: %s, error: %v",
					ev.Name, ev.TxHash, err)
			}
		}
	}

	return nil
}

// applyEvent 把一条链上事件应用到缓存（幂等）
func (r *Reconciler) applyEvent(ev chain.Event) error {
	// 按 (交易哈希, 日志序号) 去重，已处理过的事件直接跳过
	var seen int64
	if err := r.db.Model(&model.ChamaEvent{}).
		Where("tx_hash = ? AND log_index = ? AND event_type = ?", ev.TxHash, ev.LogIndex, ev.Name).
		Count(&seen).Error; err != nil {
		return err
	}
	if seen > 0 {
		return nil
	}

	chamaID := eventUint(ev.Data["chamaId"])
	if chamaID == 0 {
		return fmt.Errorf("事件缺少 chamaId: %s", ev.TxHash)
	}

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var applyErr error
		switch ev.Name {
		case "ChamaDeployed":
			applyErr = r.applyDeployedEvent(tx, chamaID, ev)
		case "MemberJoined":
			applyErr = r.applyJoinedEvent(tx, chamaID, ev)
		case "ContributionMade":
			applyErr = r.applyContributionEvent(tx, chamaID, ev)
		case "RoundStarted":
			applyErr = r.applyRoundStartedEvent(tx, chamaID, ev)
		case "RoundCompleted":
			applyErr = r.applyRoundCompletedEvent(tx, chamaID, ev)
		default:
			return nil
		}
		if applyErr != nil {
			return applyErr
		}

		// 落库审计记录，同时以 block_num 作为同步水位
		return tx.Create(&model.ChamaEvent{
			ChamaID:   chamaID,
			EventType: ev.Name,
			Actor:     eventAddress(ev.Data["member"]),
			TxHash:    ev.TxHash,
			BlockNum:  ev.BlockNumber,
			LogIndex:  ev.LogIndex,
		}).Error
	})
	if err != nil {
		return err
	}

	r.publish(chamaID, "chama_event")
	return nil
}

// applyDeployedEvent 部署事件：圈子进入已上链状态
func (r *Reconciler) applyDeployedEvent(tx *gorm.DB, chamaID uint, ev chain.Event) error {
	var chama model.Chama
	if err := tx.First(&chama, chamaID).Error; err != nil {
		// 链上存在但缓存没有的圈子无法凭事件重建全部配置，记日志后跳过
		logger.Warn("Deployed chama not found in cache, chamaId: %d, tx: %s", chamaID, ev.TxHash)
		return nil
	}

	if chama.TransactionHash == "" {
		if err := tx.Model(&model.Chama{}).Where("id = ?", chamaID).
			Update("transaction_hash", ev.TxHash).Error; err != nil {
			return err
		}
	}

	// 在事件事务内推进，另起事务会撞上本事务已持有的行锁
	err := r.chamaLogic.UpdateStatusTx(tx, chamaID, model.ChamaStatusRegistered, "chain")
	if err != nil && !logic.IsValidationError(err) {
		return err
	}
	return nil
}

// applyJoinedEvent 成员加入事件：缓存成员确认为 active，缺失则补建
func (r *Reconciler) applyJoinedEvent(tx *gorm.DB, chamaID uint, ev chain.Event) error {
	addr := eventAddress(ev.Data["member"])
	if addr == "" {
		return fmt.Errorf("MemberJoined 事件缺少成员地址: %s", ev.TxHash)
	}

	var member model.Member
	err := tx.Where("chama_id = ? AND address = ?", chamaID, addr).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 链上有、缓存没有：直接按事件补建记录
		return tx.Create(&model.Member{
			ChamaID:    chamaID,
			Address:    addr,
			Status:     model.MemberStatusActive,
			JoinMethod: model.JoinMethodDirect,
		}).Error
	}
	if err != nil {
		return err
	}

	if member.Status == model.MemberStatusActive {
		return nil
	}
	return tx.Model(&model.Member{}).Where("id = ?", member.ID).
		Update("status", model.MemberStatusActive).Error
}

// applyContributionEvent 缴款事件：按交易哈希匹配确认，缺失则补建
func (r *Reconciler) applyContributionEvent(tx *gorm.DB, chamaID uint, ev chain.Event) error {
	var contribution model.Contribution
	err := tx.Where("tx_hash = ?", ev.TxHash).First(&contribution).Error
	if err == nil {
		if contribution.Status == model.ContributionStatusConfirmed {
			return nil
		}
		now := time.Now()
		return tx.Model(&model.Contribution{}).Where("id = ?", contribution.ID).
			Updates(map[string]interface{}{
				"status":       model.ContributionStatusConfirmed,
				"block_num":    ev.BlockNumber,
				"confirmed_at": &now,
			}).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	addr := eventAddress(ev.Data["member"])
	roundNumber := int(eventUint64(ev.Data["round"]))
	amount := eventAmount(ev.Data["amount"])

	var member model.Member
	if err := tx.Where("chama_id = ? AND address = ?", chamaID, addr).First(&member).Error; err != nil {
		return fmt.Errorf("缴款事件对应成员不存在, chamaId: %d, addr: %s: %w", chamaID, addr, err)
	}

	round, err := r.ensureRound(tx, chamaID, roundNumber)
	if err != nil {
		return err
	}

	now := time.Now()
	return tx.Create(&model.Contribution{
		ChamaID:     chamaID,
		RoundID:     round.ID,
		MemberID:    member.ID,
		Address:     addr,
		Amount:      amount,
		Status:      model.ContributionStatusConfirmed,
		TxHash:      ev.TxHash,
		BlockNum:    ev.BlockNumber,
		ConfirmedAt: &now,
	}).Error
}

// applyRoundStartedEvent 轮次开始事件：缺失时补建轮次并推进 current_round
func (r *Reconciler) applyRoundStartedEvent(tx *gorm.DB, chamaID uint, ev chain.Event) error {
	roundNumber := int(eventUint64(ev.Data["round"]))
	if roundNumber <= 0 {
		return fmt.Errorf("RoundStarted 事件缺少轮次号: %s", ev.TxHash)
	}
	_, err := r.ensureRound(tx, chamaID, roundNumber)
	return err
}

// applyRoundCompletedEvent 轮次完成事件：标记完成并记录受益人
func (r *Reconciler) applyRoundCompletedEvent(tx *gorm.DB, chamaID uint, ev chain.Event) error {
	roundNumber := int(eventUint64(ev.Data["round"]))
	recipient := eventAddress(ev.Data["recipient"])

	round, err := r.ensureRound(tx, chamaID, roundNumber)
	if err != nil {
		return err
	}
	if round.Status == model.RoundStatusCompleted {
		return nil
	}

	return tx.Model(&model.Round{}).Where("id = ?", round.ID).
		Updates(map[string]interface{}{
			"status":            model.RoundStatusCompleted,
			"recipient_address": recipient,
		}).Error
}

// ensureRound 查找轮次，不存在时按链上事件补建，并保证 current_round 只增不减
func (r *Reconciler) ensureRound(tx *gorm.DB, chamaID uint, roundNumber int) (*model.Round, error) {
	if roundNumber <= 0 {
		return nil, fmt.Errorf("非法轮次号: %d", roundNumber)
	}

	var round model.Round
	err := tx.Where("chama_id = ? AND round_number = ?", chamaID, roundNumber).First(&round).Error
	if err == nil {
		return &round, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var chama model.Chama
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&chama, chamaID).Error; err != nil {
		return nil, fmt.Errorf("补建轮次时圈子不存在, chamaId: %d: %w", chamaID, err)
	}

	now := time.Now()
	round = model.Round{
		ChamaID:               chamaID,
		RoundNumber:           roundNumber,
		Status:                model.RoundStatusActive,
		StartTime:             now,
		EndTime:               now.Add(time.Duration(chama.RoundDuration) * time.Second),
		ExpectedContributions: chama.MemberTarget,
	}
	if err := tx.Create(&round).Error; err != nil {
		return nil, err
	}

	if roundNumber > chama.CurrentRound {
		if err := tx.Model(&model.Chama{}).Where("id = ?", chamaID).
			Update("current_round", roundNumber).Error; err != nil {
			return nil, err
		}
	}
	return &round, nil
}

// eventUint 从事件负载中读取 uint 值
func eventUint(v interface{}) uint {
	return uint(eventUint64(v))
}

func eventUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case float64:
		return uint64(n)
	case *big.Int:
		return n.Uint64()
	default:
		return 0
	}
}

// eventAddress 从事件负载中读取地址字符串
func eventAddress(v interface{}) string {
	s, _ := v.(string)
	return s
}

// eventAmount 从事件负载中读取金额，链上以 wei 计价，缓存以 ether 计
func eventAmount(v interface{}) float64 {
	switch n := v.(type) {
	case *big.Int:
		f := new(big.Float).SetInt(n)
		f.Quo(f, big.NewFloat(1e18))
		amount, _ := f.Float64()
		return amount
	case float64:
		return n
	case uint64:
		return float64(n) / 1e18
	default:
		return 0
	}
}
