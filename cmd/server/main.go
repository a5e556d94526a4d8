package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/chamasvc/internal/batch"
	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/config"
	"github.com/blues/chamasvc/internal/database"
	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/logic"
	"github.com/blues/chamasvc/internal/notify"
	"github.com/blues/chamasvc/internal/reconcile"
	"github.com/blues/chamasvc/internal/router"
	"github.com/blues/chamasvc/internal/task"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	level := logger.ParseLogLevel(cfg.Log.Level)
	var appLogger *logger.Logger
	var err error
	if cfg.Log.Output == "file" {
		appLogger, err = logger.NewWithRotation(level, logger.RotationConfig{Filename: cfg.Log.File})
	} else {
		appLogger, err = logger.New(level)
	}
	if err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化链客户端
	ledger, err := chain.Init(cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to initialize chain client: %v", err)
	}
	probe := chain.NewNetworkProbe(ledger)

	// 变更通知
	notifier := notify.NewNotifier()

	// 批处理池：恢复崩溃前未提交的批次
	pool := batch.NewPool(db,
		batch.WithSizeThreshold(cfg.Batch.SizeThreshold),
		batch.WithMaxAge(time.Duration(cfg.Batch.MaxAgeSeconds)*time.Second),
	)
	if err := pool.Recover(); err != nil {
		logger.Error("Failed to recover pending batches: %v", err)
	}

	processor := batch.NewProcessor(db, ledger, notifier)

	// 链上对账器
	chamaLogic := logic.NewChamaLogic(db, notifier)
	reconciler, err := reconcile.NewReconciler(db, ledger, chamaLogic, notifier, cfg)
	if err != nil {
		logger.Fatal("Failed to create reconciler: %v", err)
	}
	roundLogic := logic.NewRoundLogic(db, notifier)

	// 启动定时任务
	manager := task.Start(db, cfg, pool, processor, probe, reconciler, roundLogic)

	// 启动HTTP服务
	r := router.Setup(db, notifier, pool, cfg)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server: %v", err)
		}
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}

	manager.Stop()
	pool.Stop()
	reconciler.Stop()
	logger.Info("Server exited")
}
