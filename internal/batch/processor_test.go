package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeLedger 可编排的账本客户端
type fakeLedger struct {
	mu            sync.Mutex
	submitErr     error
	receiptStatus chain.ReceiptStatus
	submitCount   int
	blockHeight   int64
}

func (f *fakeLedger) Submit(ctx context.Context, intentType chain.IntentType, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCount++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "0xfaketx", nil
}

func (f *fakeLedger) GetReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &chain.Receipt{Status: f.receiptStatus, BlockNumber: 100}, nil
}

func (f *fakeLedger) GetEventLogs(ctx context.Context, eventName string, fromBlock, toBlock int64) ([]chain.Event, error) {
	return nil, nil
}

func (f *fakeLedger) LatestBlock(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockHeight, nil
}

var online = chain.NetworkStatus{Online: true, CheckedAt: time.Now()}

func newTestProcessor(db *gorm.DB, ledger chain.Ledger) *Processor {
	return NewProcessor(db, ledger, nil,
		WithReceiptWait(time.Millisecond, 10*time.Millisecond))
}

func enqueueOne(t *testing.T, db *gorm.DB, chamaID uint, batchType model.BatchType, intent model.BatchIntent) string {
	t.Helper()
	pool := newTestPool(t, db)
	batchID, err := pool.Enqueue(chamaID, batchType, intent)
	require.NoError(t, err)
	return batchID
}

func TestProcessBatchSuccess(t *testing.T) {
	db := setupTestDB(t)
	ledger := &fakeLedger{receiptStatus: chain.ReceiptStatusSuccess}
	processor := newTestProcessor(db, ledger)

	// 缴款记录等待批次确认
	require.NoError(t, db.Create(&model.Contribution{
		ChamaID: 1, RoundID: 10, MemberID: 20, Address: "0xaaa",
		Amount: 0.1, Status: model.ContributionStatusPending,
	}).Error)

	batchID := enqueueOne(t, db, 1, model.BatchTypeContribute,
		model.BatchIntent{Address: "0xaaa", Amount: 0.1, RoundID: 10, MemberID: 20})

	result, err := processor.ProcessBatch(context.Background(), batchID, online)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, result.Status)
	assert.Equal(t, "0xfaketx", result.TransactionHash)

	var record model.BatchOperation
	require.NoError(t, db.Where("batch_id = ?", batchID).First(&record).Error)
	assert.Equal(t, model.BatchStatusCompleted, record.Status)
	assert.NotNil(t, record.CompletedAt)

	// 缴款记录被回写
	var contribution model.Contribution
	require.NoError(t, db.Where("round_id = ? AND member_id = ?", 10, 20).First(&contribution).Error)
	assert.Equal(t, model.ContributionStatusPaid, contribution.Status)
	assert.Equal(t, "0xfaketx", contribution.TxHash)

	// 完成后仍入队回执确认，由对账器补齐区块信息
	var op model.SyncOperation
	require.NoError(t, db.Where("type = ?", model.SyncTypeBatch).First(&op).Error)
	assert.Equal(t, record.ID, op.RefID)
}

func TestProcessBatchTerminalIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ledger := &fakeLedger{receiptStatus: chain.ReceiptStatusSuccess}
	processor := newTestProcessor(db, ledger)

	batchID := enqueueOne(t, db, 1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})

	_, err := processor.ProcessBatch(context.Background(), batchID, online)
	require.NoError(t, err)
	firstSubmits := ledger.submitCount

	// 重复执行终态批次不再提交
	result, err := processor.ProcessBatch(context.Background(), batchID, online)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, result.Status)
	assert.Equal(t, firstSubmits, ledger.submitCount)
}

func TestProcessBatchReverted(t *testing.T) {
	db := setupTestDB(t)
	ledger := &fakeLedger{receiptStatus: chain.ReceiptStatusReverted}
	processor := newTestProcessor(db, ledger)

	require.NoError(t, db.Create(&model.Contribution{
		ChamaID: 1, RoundID: 10, MemberID: 20, Address: "0xaaa",
		Amount: 0.1, Status: model.ContributionStatusPending,
	}).Error)

	batchID := enqueueOne(t, db, 1, model.BatchTypeContribute,
		model.BatchIntent{Address: "0xaaa", Amount: 0.1, RoundID: 10, MemberID: 20})

	result, err := processor.ProcessBatch(context.Background(), batchID, online)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusFailed, result.Status)

	var record model.BatchOperation
	require.NoError(t, db.Where("batch_id = ?", batchID).First(&record).Error)
	assert.Equal(t, model.BatchStatusFailed, record.Status)
	assert.Equal(t, "transaction reverted", record.ErrorMessage)

	// 回滚的批次不回写缓存记录
	var contribution model.Contribution
	require.NoError(t, db.Where("round_id = ? AND member_id = ?", 10, 20).First(&contribution).Error)
	assert.Equal(t, model.ContributionStatusPending, contribution.Status)
}

func TestProcessBatchReceiptTimeout(t *testing.T) {
	db := setupTestDB(t)
	ledger := &fakeLedger{receiptStatus: chain.ReceiptStatusPending}
	processor := newTestProcessor(db, ledger)

	batchID := enqueueOne(t, db, 1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})

	result, err := processor.ProcessBatch(context.Background(), batchID, online)
	require.NoError(t, err)

	// 回执未决：批次保持执行中，留给对账器收尾
	assert.Equal(t, model.BatchStatusExecuting, result.Status)

	var op model.SyncOperation
	require.NoError(t, db.Where("type = ? AND tx_hash = ?", model.SyncTypeBatch, "0xfaketx").First(&op).Error)
	assert.Equal(t, model.SyncStatusPending, op.Status)
}

func TestProcessBatchOffline(t *testing.T) {
	db := setupTestDB(t)
	ledger := &fakeLedger{receiptStatus: chain.ReceiptStatusSuccess}
	processor := newTestProcessor(db, ledger)

	batchID := enqueueOne(t, db, 1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})

	_, err := processor.ProcessBatch(context.Background(), batchID, chain.NetworkStatus{Online: false})
	assert.ErrorIs(t, err, ErrOffline)
	assert.Equal(t, 0, ledger.submitCount)
}

func TestProcessBatchRetryableSubmitError(t *testing.T) {
	db := setupTestDB(t)
	ledger := &fakeLedger{submitErr: errors.New("connection refused")}
	processor := newTestProcessor(db, ledger)

	batchID := enqueueOne(t, db, 1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})

	_, err := processor.ProcessBatch(context.Background(), batchID, online)
	require.Error(t, err)

	// 可重试错误回退为待执行并累计重试次数
	var record model.BatchOperation
	require.NoError(t, db.Where("batch_id = ?", batchID).First(&record).Error)
	assert.Equal(t, model.BatchStatusPending, record.Status)
	assert.Equal(t, 1, record.RetryCount)
}

func TestProcessBatchPermissionError(t *testing.T) {
	db := setupTestDB(t)
	ledger := &fakeLedger{submitErr: errors.New("permission denied")}
	processor := newTestProcessor(db, ledger)

	batchID := enqueueOne(t, db, 1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})

	result, err := processor.ProcessBatch(context.Background(), batchID, online)
	require.NoError(t, err)

	// 权限错误不重试，直接终态失败
	assert.Equal(t, model.BatchStatusFailed, result.Status)

	var record model.BatchOperation
	require.NoError(t, db.Where("batch_id = ?", batchID).First(&record).Error)
	assert.Equal(t, model.BatchStatusFailed, record.Status)
	assert.Equal(t, 0, record.RetryCount)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
	}{
		{errors.New("connection refused"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("service temporarily unavailable"), true},
		{errors.New("connection reset by peer"), true},
		{context.DeadlineExceeded, true},
		{errors.New("permission denied"), false},
		{errors.New("unauthorized caller"), false},
		{errors.New("execution reverted"), false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.retryable, IsRetryable(tc.err), "%v", tc.err)
	}
}
