package notify

import (
	"sync"

	"github.com/blues/chamasvc/internal/logger"
)

// Change 行级变更通知，作为订阅方（UI层）的失效/刷新信号
type Change struct {
	ChamaID uint   `json:"chama_id"`
	Table   string `json:"table"`
	Action  string `json:"action"` // insert, update
}

// Subscription 订阅句柄
type Subscription struct {
	id      uint64
	chamaID uint
	C       chan Change
}

// Notifier 变更通知分发器。按储蓄圈ID订阅，
// 投递为非阻塞：订阅方消费不及时则丢弃通知，绝不阻塞写入方。
type Notifier struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint]map[uint64]*Subscription // chamaID -> subID -> sub
}

// NewNotifier 创建通知分发器
func NewNotifier() *Notifier {
	return &Notifier{
		subs: make(map[uint]map[uint64]*Subscription),
	}
}

// Subscribe 订阅指定储蓄圈的变更，chamaID 为 0 时订阅所有变更
func (n *Notifier) Subscribe(chamaID uint) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub := &Subscription{
		id:      n.nextID,
		chamaID: chamaID,
		C:       make(chan Change, 16),
	}
	if n.subs[chamaID] == nil {
		n.subs[chamaID] = make(map[uint64]*Subscription)
	}
	n.subs[chamaID][sub.id] = sub
	return sub
}

// Unsubscribe 取消订阅并关闭通道
func (n *Notifier) Unsubscribe(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if group, ok := n.subs[sub.chamaID]; ok {
		if _, ok := group[sub.id]; ok {
			delete(group, sub.id)
			close(sub.C)
		}
		if len(group) == 0 {
			delete(n.subs, sub.chamaID)
		}
	}
}

// Publish 向订阅方分发变更通知
func (n *Notifier) Publish(change Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	deliver := func(sub *Subscription) {
		select {
		case sub.C <- change:
		default:
			// 订阅方消费不及时，丢弃本条通知
			logger.Debug("Dropping change notification for chama %d (slow subscriber)", change.ChamaID)
		}
	}

	for _, sub := range n.subs[change.ChamaID] {
		deliver(sub)
	}
	// 通配订阅
	for _, sub := range n.subs[0] {
		deliver(sub)
	}
}

// SubscriberCount 当前订阅方数量
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	total := 0
	for _, group := range n.subs {
		total += len(group)
	}
	return total
}
