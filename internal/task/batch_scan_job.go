package task

import (
	"context"
	"errors"
	"time"

	"github.com/blues/chamasvc/internal/batch"
	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/config"
	"github.com/blues/chamasvc/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

// BatchScanJob 批次扫描任务：把达到数量或时间阈值的批次提交上链
type BatchScanJob struct {
	config    *config.Config
	pool      *batch.Pool
	processor *batch.Processor
	probe     *chain.NetworkProbe
}

// NewBatchScanJob 创建批次扫描任务
func NewBatchScanJob(cfg *config.Config, pool *batch.Pool, processor *batch.Processor, probe *chain.NetworkProbe) *BatchScanJob {
	return &BatchScanJob{
		config:    cfg,
		pool:      pool,
		processor: processor,
		probe:     probe,
	}
}

// GetName 获取任务名称
func (j *BatchScanJob) GetName() string {
	return "batch_scanner"
}

// GetSchedule 获取调度配置
func (j *BatchScanJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Batch.ScanInterval) * time.Second)
}

// Execute 执行任务
func (j *BatchScanJob) Execute() {
	ctx := context.Background()

	network := j.probe.Check(ctx)
	if !network.Online {
		logger.Warn("Network offline, skipping batch scan")
		return
	}

	// 把提交失败后回退为待执行、但已不在池中的批次重新装载，
	// 否则它们会搁浅到进程重启
	if err := j.pool.Recover(); err != nil {
		logger.Error("Failed to reload pending batches: %v", err)
	}

	eligible, err := j.pool.TakeEligible(time.Now())
	if err != nil {
		logger.Error("Failed to take eligible batches: %v", err)
		return
	}
	if len(eligible) == 0 {
		return
	}

	logger.Info("Processing eligible batches, count: %d", len(eligible))

	for _, pending := range eligible {
		_, err := j.processor.ProcessBatch(ctx, pending.BatchID, network)
		if err != nil {
			// 同圈批次冲突和可重试的提交失败都放回池中，下一轮扫描重试
			if errors.Is(err, batch.ErrChamaBusy) || batch.IsRetryable(err) {
				if requeueErr := j.pool.Requeue(pending); requeueErr != nil {
					logger.Error("Failed to requeue batch %s: %v", pending.BatchID, requeueErr)
				}
				continue
			}
			logger.Error("Failed to process batch %s: %v", pending.BatchID, err)
		}
	}
}
