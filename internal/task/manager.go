package task

import (
	"github.com/blues/chamasvc/internal/batch"
	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/config"
	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/logic"
	"github.com/blues/chamasvc/internal/reconcile"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Job 定时任务接口
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 任务管理器
type Manager struct {
	scheduler gocron.Scheduler
}

// NewManager 创建新的任务管理器
func NewManager() *Manager {
	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("Failed to create scheduler: %v", err)
	}

	return &Manager{scheduler: s}
}

// Start 注册全部同步任务并启动调度器
func Start(db *gorm.DB, cfg *config.Config, pool *batch.Pool, processor *batch.Processor,
	probe *chain.NetworkProbe, reconciler *reconcile.Reconciler, roundLogic *logic.RoundLogic) *Manager {
	manager := NewManager()

	manager.RegisterJob(NewBatchScanJob(cfg, pool, processor, probe))
	manager.RegisterJob(NewReceiptRetryJob(cfg, reconciler, probe))
	manager.RegisterJob(NewReconcileJob(cfg, reconciler, probe))
	manager.RegisterJob(NewRoundExpireJob(cfg, roundLogic))

	manager.scheduler.Start()
	logger.Info("Task manager started successfully")

	return manager
}

// RegisterJob 注册单个任务
func (m *Manager) RegisterJob(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}
