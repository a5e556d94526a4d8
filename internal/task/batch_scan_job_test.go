package task

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blues/chamasvc/internal/batch"
	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/config"
	"github.com/blues/chamasvc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// stubLedger 前 submitFails 次提交返回瞬时错误，之后成功，回执始终成功
type stubLedger struct {
	mu          sync.Mutex
	submitFails int
	submitCount int
}

func (s *stubLedger) Submit(ctx context.Context, intentType chain.IntentType, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCount++
	if s.submitCount <= s.submitFails {
		return "", fmt.Errorf("connection refused")
	}
	return fmt.Sprintf("0xtx%d", s.submitCount), nil
}

func (s *stubLedger) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	return &chain.Receipt{Status: chain.ReceiptStatusSuccess, BlockNumber: 100}, nil
}

func (s *stubLedger) GetEventLogs(ctx context.Context, eventName string, fromBlock, toBlock int64) ([]chain.Event, error) {
	return nil, nil
}

func (s *stubLedger) LatestBlock(ctx context.Context) (int64, error) {
	return 1000, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Chama{},
		&model.Member{},
		&model.Round{},
		&model.Contribution{},
		&model.BatchOperation{},
		&model.ChamaEvent{},
		&model.SyncOperation{},
	))
	return db
}

func newScanJob(t *testing.T, db *gorm.DB, ledger chain.Ledger) (*BatchScanJob, *batch.Pool) {
	t.Helper()

	pool := batch.NewPool(db, batch.WithSizeThreshold(1))
	t.Cleanup(pool.Stop)
	processor := batch.NewProcessor(db, ledger, nil,
		batch.WithReceiptWait(time.Millisecond, 10*time.Millisecond))
	probe := chain.NewNetworkProbe(ledger)
	cfg := &config.Config{Batch: config.BatchConfig{ScanInterval: 5}}
	return NewBatchScanJob(cfg, pool, processor, probe), pool
}

func scanChama(t *testing.T, db *gorm.DB) *model.Chama {
	t.Helper()

	chama := &model.Chama{
		Name:               "scan chama",
		ContributionAmount: 0.1,
		MemberTarget:       3,
		RoundDuration:      3600,
		Status:             model.ChamaStatusActive,
	}
	require.NoError(t, db.Create(chama).Error)
	return chama
}

func TestBatchScanRetryableFailureRetriesNextScan(t *testing.T) {
	db := setupTestDB(t)
	ledger := &stubLedger{submitFails: 1}
	job, pool := newScanJob(t, db, ledger)

	chama := scanChama(t, db)
	batchID, err := pool.Enqueue(chama.ID, model.BatchTypeContribute,
		model.BatchIntent{Address: "0xaaa", Amount: 0.1})
	require.NoError(t, err)

	// 第一轮扫描：提交遇到瞬时错误，批次回退为待执行并留在池中
	job.Execute()

	var record model.BatchOperation
	require.NoError(t, db.Where("batch_id = ?", batchID).First(&record).Error)
	assert.Equal(t, model.BatchStatusPending, record.Status)
	assert.Equal(t, 1, record.RetryCount)

	// 第二轮扫描重新提交成功，无需等到进程重启
	job.Execute()

	require.NoError(t, db.Where("batch_id = ?", batchID).First(&record).Error)
	assert.Equal(t, model.BatchStatusCompleted, record.Status)
}

func TestBatchScanReloadsStrandedPending(t *testing.T) {
	db := setupTestDB(t)
	ledger := &stubLedger{}
	job, _ := newScanJob(t, db, ledger)

	chama := scanChama(t, db)

	// 数据库里遗留、但不在任何池中的待执行批次
	record := &model.BatchOperation{
		BatchID:        "stranded-1",
		ChamaID:        chama.ID,
		Type:           model.BatchTypeContribute,
		Operations:     `[{"intent_id":"i1","address":"0xaaa","amount":0.1,"status":"pending"}]`,
		OperationCount: 1,
		Status:         model.BatchStatusPending,
	}
	require.NoError(t, db.Create(record).Error)

	job.Execute()

	var got model.BatchOperation
	require.NoError(t, db.Where("batch_id = ?", "stranded-1").First(&got).Error)
	assert.Equal(t, model.BatchStatusCompleted, got.Status)
}
