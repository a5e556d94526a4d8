package task

import (
	"time"

	"github.com/blues/chamasvc/internal/config"
	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/logic"
	"github.com/go-co-op/gocron/v2"
)

// RoundExpireJob 轮次过期任务：把超过截止时间仍未完成的轮次标记为过期
type RoundExpireJob struct {
	config     *config.Config
	roundLogic *logic.RoundLogic
}

// NewRoundExpireJob 创建轮次过期任务
func NewRoundExpireJob(cfg *config.Config, roundLogic *logic.RoundLogic) *RoundExpireJob {
	return &RoundExpireJob{
		config:     cfg,
		roundLogic: roundLogic,
	}
}

// GetName 获取任务名称
func (j *RoundExpireJob) GetName() string {
	return "round_expirer"
}

// GetSchedule 获取调度配置
func (j *RoundExpireJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Sync.ReconcileInterval) * time.Second)
}

// Execute 执行任务
func (j *RoundExpireJob) Execute() {
	expired, err := j.roundLogic.ExpireOverdueRounds()
	if err != nil {
		logger.Error("Failed to expire overdue rounds: %v", err)
		return
	}
	if expired > 0 {
		logger.Info("Expired overdue rounds, count: %d", expired)
	}
}
