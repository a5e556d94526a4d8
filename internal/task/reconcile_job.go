package task

import (
	"context"
	"time"

	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/config"
	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/reconcile"
	"github.com/go-co-op/gocron/v2"
)

// ReconcileJob 对账任务：同步链上事件并做全量数据比对
type ReconcileJob struct {
	config     *config.Config
	reconciler *reconcile.Reconciler
	probe      *chain.NetworkProbe
}

// NewReconcileJob 创建对账任务
func NewReconcileJob(cfg *config.Config, reconciler *reconcile.Reconciler, probe *chain.NetworkProbe) *ReconcileJob {
	return &ReconcileJob{
		config:     cfg,
		reconciler: reconciler,
		probe:      probe,
	}
}

// GetName 获取任务名称
func (j *ReconcileJob) GetName() string {
	return "chain_reconciler"
}

// GetSchedule 获取调度配置
func (j *ReconcileJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Sync.ReconcileInterval) * time.Second)
}

// Execute 执行任务
func (j *ReconcileJob) Execute() {
	ctx := context.Background()

	network := j.probe.Check(ctx)
	if !network.Online {
		logger.Warn("Network offline, skipping reconcile")
		return
	}

	if err := j.syncEvents(ctx); err != nil {
		logger.Error("Failed to sync chain events: %v", err)
	}

	if err := j.reconciler.ReconcileAll(ctx); err != nil {
		logger.Error("Failed to reconcile chamas: %v", err)
	}
}

// syncEvents 从上次水位拉取新产生的链上事件
func (j *ReconcileJob) syncEvents(ctx context.Context) error {
	fromBlock, err := j.reconciler.LastSyncedBlock()
	if err != nil {
		return err
	}

	toBlock, err := j.reconciler.LatestBlock(ctx)
	if err != nil {
		return err
	}
	// 只同步已达确认数的区块，避免回滚
	toBlock -= int64(j.config.Chain.Confirmations)
	if toBlock <= fromBlock {
		return nil
	}

	return j.reconciler.SyncFromChainEvents(ctx, fromBlock+1, toBlock)
}
