package batch

import (
	"testing"
	"time"

	"github.com/blues/chamasvc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

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

func newTestPool(t *testing.T, db *gorm.DB, opts ...PoolOption) *Pool {
	t.Helper()
	p := NewPool(db, opts...)
	t.Cleanup(p.Stop)
	return p
}

func TestEnqueueCreatesBatch(t *testing.T) {
	db := setupTestDB(t)
	pool := newTestPool(t, db)

	batchID, err := pool.Enqueue(1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	// 同键追加进同一批次
	batchID2, err := pool.Enqueue(1, model.BatchTypeJoin, model.BatchIntent{Address: "0xbbb"})
	require.NoError(t, err)
	assert.Equal(t, batchID, batchID2)

	count, err := pool.PendingCount(1, model.BatchTypeJoin)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// 批次同步持久化
	var record model.BatchOperation
	require.NoError(t, db.Where("batch_id = ?", batchID).First(&record).Error)
	assert.Equal(t, model.BatchStatusPending, record.Status)
	assert.Equal(t, 2, record.OperationCount)
	assert.Equal(t, EstimateGas(model.BatchTypeJoin, 2), record.GasEstimate)
}

func TestEnqueueSeparateKeys(t *testing.T) {
	db := setupTestDB(t)
	pool := newTestPool(t, db)

	joinID, err := pool.Enqueue(1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})
	require.NoError(t, err)
	contribID, err := pool.Enqueue(1, model.BatchTypeContribute, model.BatchIntent{Address: "0xaaa", Amount: 0.1})
	require.NoError(t, err)
	otherID, err := pool.Enqueue(2, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})
	require.NoError(t, err)

	// 不同圈或不同类型各自独立批次
	assert.NotEqual(t, joinID, contribID)
	assert.NotEqual(t, joinID, otherID)
}

func TestShouldAutoProcess(t *testing.T) {
	db := setupTestDB(t)
	pool := newTestPool(t, db, WithSizeThreshold(5), WithMaxAge(5*time.Minute))

	now := time.Now()

	// 数量边界：4不触发，5触发
	assert.False(t, pool.ShouldAutoProcess(4, now, now))
	assert.True(t, pool.ShouldAutoProcess(5, now, now))
	assert.True(t, pool.ShouldAutoProcess(6, now, now))

	// 时间边界：不足5分钟不触发，到达触发
	assert.False(t, pool.ShouldAutoProcess(1, now.Add(-4*time.Minute), now))
	assert.True(t, pool.ShouldAutoProcess(1, now.Add(-5*time.Minute), now))

	// 空批次永不触发
	assert.False(t, pool.ShouldAutoProcess(0, now.Add(-time.Hour), now))
}

func TestTakeEligible(t *testing.T) {
	db := setupTestDB(t)
	pool := newTestPool(t, db, WithSizeThreshold(2), WithMaxAge(time.Hour))

	_, err := pool.Enqueue(1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})
	require.NoError(t, err)

	// 未达阈值不释放
	eligible, err := pool.TakeEligible(time.Now())
	require.NoError(t, err)
	assert.Empty(t, eligible)

	_, err = pool.Enqueue(1, model.BatchTypeJoin, model.BatchIntent{Address: "0xbbb"})
	require.NoError(t, err)

	eligible, err = pool.TakeEligible(time.Now())
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Len(t, eligible[0].Intents, 2)

	// 已取出的批次从池中移除
	count, err := pool.PendingCount(1, model.BatchTypeJoin)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRequeue(t *testing.T) {
	db := setupTestDB(t)
	pool := newTestPool(t, db, WithSizeThreshold(1), WithMaxAge(time.Hour))

	_, err := pool.Enqueue(1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})
	require.NoError(t, err)

	eligible, err := pool.TakeEligible(time.Now())
	require.NoError(t, err)
	require.Len(t, eligible, 1)

	require.NoError(t, pool.Requeue(eligible[0]))

	count, err := pool.PendingCount(1, model.BatchTypeJoin)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecover(t *testing.T) {
	db := setupTestDB(t)

	// 第一个池写入后停止，模拟进程重启
	first := NewPool(db)
	_, err := first.Enqueue(1, model.BatchTypeContribute, model.BatchIntent{Address: "0xaaa", Amount: 0.1})
	require.NoError(t, err)
	first.Stop()

	second := newTestPool(t, db)
	require.NoError(t, second.Recover())

	count, err := second.PendingCount(1, model.BatchTypeContribute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPoolStopped(t *testing.T) {
	db := setupTestDB(t)
	pool := NewPool(db)
	pool.Stop()

	_, err := pool.Enqueue(1, model.BatchTypeJoin, model.BatchIntent{Address: "0xaaa"})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestEstimateGas(t *testing.T) {
	// 基础开销加按操作数线性增长
	single := EstimateGas(model.BatchTypeContribute, 1)
	double := EstimateGas(model.BatchTypeContribute, 2)
	assert.Greater(t, double, single)
	assert.Greater(t, single, uint64(0))
}
