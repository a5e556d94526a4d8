package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blues/chamasvc/internal/logger"
	"github.com/blues/chamasvc/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 触发策略默认值
const (
	DefaultSizeThreshold = 5
	DefaultMaxAge        = 5 * time.Minute
)

var ErrPoolStopped = errors.New("批处理池已停止")

// poolKey 待处理操作池的键
type poolKey struct {
	ChamaID uint
	Type    model.BatchType
}

// PendingBatch 池中一个未提交的批次
type PendingBatch struct {
	BatchID   string
	ChamaID   uint
	Type      model.BatchType
	Intents   []model.BatchIntent
	CreatedAt time.Time
}

// Pool 待处理操作池。池状态由单一goroutine独占持有，
// 所有读写都通过命令信箱串行化，调用方不会接触到共享可变状态。
type Pool struct {
	db            *gorm.DB
	sizeThreshold int
	maxAge        time.Duration

	commands chan poolCommand
	done     chan struct{}
	stopOnce sync.Once
}

type poolCommand struct {
	run   func(state map[poolKey]*PendingBatch)
	reply chan struct{}
}

// PoolOption 池配置项
type PoolOption func(*Pool)

// WithSizeThreshold 设置触发批量提交的操作数
func WithSizeThreshold(n int) PoolOption {
	return func(p *Pool) { p.sizeThreshold = n }
}

// WithMaxAge 设置批次最大等待时间
func WithMaxAge(d time.Duration) PoolOption {
	return func(p *Pool) { p.maxAge = d }
}

// NewPool 创建并启动待处理操作池
func NewPool(db *gorm.DB, opts ...PoolOption) *Pool {
	p := &Pool{
		db:            db,
		sizeThreshold: DefaultSizeThreshold,
		maxAge:        DefaultMaxAge,
		commands:      make(chan poolCommand),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.run()
	return p
}

// run 池主循环，独占持有池状态
func (p *Pool) run() {
	state := make(map[poolKey]*PendingBatch)
	for {
		select {
		case cmd := <-p.commands:
			cmd.run(state)
			close(cmd.reply)
		case <-p.done:
			return
		}
	}
}

// exec 向信箱投递命令并等待执行完成
func (p *Pool) exec(run func(state map[poolKey]*PendingBatch)) error {
	cmd := poolCommand{run: run, reply: make(chan struct{})}
	select {
	case p.commands <- cmd:
		<-cmd.reply
		return nil
	case <-p.done:
		return ErrPoolStopped
	}
}

// Stop 停止池，之后的调用返回 ErrPoolStopped
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

// Enqueue 将一个操作意图追加到对应批次，批次不存在时创建。
// 批次同时持久化为 BatchOperation 行。
func (p *Pool) Enqueue(chamaID uint, batchType model.BatchType, intent model.BatchIntent) (string, error) {
	var batchID string
	var enqueueErr error

	err := p.exec(func(state map[poolKey]*PendingBatch) {
		key := poolKey{ChamaID: chamaID, Type: batchType}
		pending, ok := state[key]
		if !ok {
			pending = &PendingBatch{
				BatchID:   uuid.NewString(),
				ChamaID:   chamaID,
				Type:      batchType,
				CreatedAt: time.Now(),
			}
			state[key] = pending
		}

		if intent.IntentID == "" {
			intent.IntentID = uuid.NewString()
		}
		intent.Status = "pending"
		pending.Intents = append(pending.Intents, intent)
		batchID = pending.BatchID

		if enqueueErr = p.persist(pending, ok); enqueueErr != nil {
			// 持久化失败，回滚本次追加
			pending.Intents = pending.Intents[:len(pending.Intents)-1]
			if !ok {
				delete(state, key)
			}
		}
	})
	if err != nil {
		return "", err
	}
	if enqueueErr != nil {
		return "", enqueueErr
	}
	return batchID, nil
}

// persist 将批次写入或更新到 batch_operation 表
func (p *Pool) persist(pending *PendingBatch, exists bool) error {
	ops, err := json.Marshal(pending.Intents)
	if err != nil {
		return fmt.Errorf("序列化批次操作失败: %w", err)
	}

	if !exists {
		record := model.BatchOperation{
			BatchID:        pending.BatchID,
			ChamaID:        pending.ChamaID,
			Type:           pending.Type,
			Operations:     string(ops),
			OperationCount: len(pending.Intents),
			GasEstimate:    EstimateGas(pending.Type, len(pending.Intents)),
			Status:         model.BatchStatusPending,
		}
		if err := p.db.Create(&record).Error; err != nil {
			return fmt.Errorf("创建批次记录失败: %w", err)
		}
		return nil
	}

	updates := map[string]interface{}{
		"operations":      string(ops),
		"operation_count": len(pending.Intents),
		"gas_estimate":    EstimateGas(pending.Type, len(pending.Intents)),
	}
	if err := p.db.Model(&model.BatchOperation{}).
		Where("batch_id = ?", pending.BatchID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("更新批次记录失败: %w", err)
	}
	return nil
}

// ShouldAutoProcess 触发策略：操作数达到阈值或批次达到最大等待时间
func (p *Pool) ShouldAutoProcess(count int, createdAt, now time.Time) bool {
	if count >= p.sizeThreshold {
		return true
	}
	return count > 0 && now.Sub(createdAt) >= p.maxAge
}

// TakeEligible 取出所有满足触发策略的批次并从池中移除，
// 由调用方（扫描任务）交给处理器执行。
func (p *Pool) TakeEligible(now time.Time) ([]PendingBatch, error) {
	var eligible []PendingBatch

	err := p.exec(func(state map[poolKey]*PendingBatch) {
		for key, pending := range state {
			if p.ShouldAutoProcess(len(pending.Intents), pending.CreatedAt, now) {
				eligible = append(eligible, *pending)
				delete(state, key)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	if len(eligible) > 0 {
		logger.Debug("Pool released %d eligible batches", len(eligible))
	}
	return eligible, nil
}

// Requeue 将批次放回池中（例如同圈已有批次在执行时）。
// 已有同键批次时不覆盖，由恢复扫描兜底。
func (p *Pool) Requeue(pending PendingBatch) error {
	return p.exec(func(state map[poolKey]*PendingBatch) {
		key := poolKey{ChamaID: pending.ChamaID, Type: pending.Type}
		if _, ok := state[key]; !ok {
			state[key] = &pending
		}
	})
}

// Recover 启动时将数据库中遗留的待执行批次重新装载进池
func (p *Pool) Recover() error {
	var records []model.BatchOperation
	if err := p.db.Where("status = ?", model.BatchStatusPending).
		Find(&records).Error; err != nil {
		return fmt.Errorf("装载待执行批次失败: %w", err)
	}

	return p.exec(func(state map[poolKey]*PendingBatch) {
		for _, record := range records {
			var intents []model.BatchIntent
			if err := json.Unmarshal([]byte(record.Operations), &intents); err != nil {
				logger.Error("Failed to decode operations for batch %s: %v", record.BatchID, err)
				continue
			}
			key := poolKey{ChamaID: record.ChamaID, Type: record.Type}
			if _, ok := state[key]; ok {
				continue
			}
			state[key] = &PendingBatch{
				BatchID:   record.BatchID,
				ChamaID:   record.ChamaID,
				Type:      record.Type,
				Intents:   intents,
				CreatedAt: record.CreatedAt,
			}
		}
	})
}

// PendingCount 查询某个键当前的待处理操作数
func (p *Pool) PendingCount(chamaID uint, batchType model.BatchType) (int, error) {
	var count int
	err := p.exec(func(state map[poolKey]*PendingBatch) {
		if pending, ok := state[poolKey{ChamaID: chamaID, Type: batchType}]; ok {
			count = len(pending.Intents)
		}
	})
	return count, err
}
