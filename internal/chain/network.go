package chain

import (
	"context"
	"sync"
	"time"

	"github.com/blues/chamasvc/internal/logger"
)

// NetworkStatus 网络状态，作为调度决策的显式输入
type NetworkStatus struct {
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
}

// NetworkProbe 网络探测器。后台任务在每次调度前探测一次，
// 离线时跳过执行，避免无谓的链上调用。
type NetworkProbe struct {
	ledger  Ledger
	timeout time.Duration

	mu   sync.RWMutex
	last NetworkStatus
}

// NewNetworkProbe 创建网络探测器
func NewNetworkProbe(ledger Ledger) *NetworkProbe {
	return &NetworkProbe{
		ledger:  ledger,
		timeout: 5 * time.Second,
		last:    NetworkStatus{Online: true, CheckedAt: time.Now()},
	}
}

// Check 探测链连接并刷新状态
func (p *NetworkProbe) Check(ctx context.Context) NetworkStatus {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.ledger.LatestBlock(probeCtx)
	status := NetworkStatus{Online: err == nil, CheckedAt: time.Now()}
	if err != nil {
		logger.Warn("Network probe failed: %v", err)
	}

	p.mu.Lock()
	p.last = status
	p.mu.Unlock()

	return status
}

// Status 返回最近一次探测结果
func (p *NetworkProbe) Status() NetworkStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
