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

// ReceiptRetryJob 回执重试任务：处理同步队列中的未决交易
type ReceiptRetryJob struct {
	config     *config.Config
	reconciler *reconcile.Reconciler
	probe      *chain.NetworkProbe
}

// NewReceiptRetryJob 创建回执重试任务
func NewReceiptRetryJob(cfg *config.Config, reconciler *reconcile.Reconciler, probe *chain.NetworkProbe) *ReceiptRetryJob {
	return &ReceiptRetryJob{
		config:     cfg,
		reconciler: reconciler,
		probe:      probe,
	}
}

// GetName 获取任务名称
func (j *ReceiptRetryJob) GetName() string {
	return "receipt_retrier"
}

// GetSchedule 获取调度配置
func (j *ReceiptRetryJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Sync.RetryInterval) * time.Second)
}

// Execute 执行任务
func (j *ReceiptRetryJob) Execute() {
	ctx := context.Background()

	network := j.probe.Check(ctx)
	if err := j.reconciler.ProcessRetryQueue(ctx, network); err != nil {
		logger.Error("Failed to process retry queue: %v", err)
	}
}
