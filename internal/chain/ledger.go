package chain

import "context"

// ReceiptStatus 交易回执状态
type ReceiptStatus string

const (
	ReceiptStatusSuccess  ReceiptStatus = "success"  // 成功
	ReceiptStatusReverted ReceiptStatus = "reverted" // 回滚
	ReceiptStatusPending  ReceiptStatus = "pending"  // 未决
)

// Receipt 交易回执
type Receipt struct {
	Status      ReceiptStatus `json:"status"`
	BlockNumber uint64        `json:"block_number,omitempty"`
}

// Event 链上事件日志（已解析）
type Event struct {
	Name        string                 `json:"name"`
	TxHash      string                 `json:"tx_hash"`
	BlockNumber uint64                 `json:"block_number"`
	LogIndex    uint                   `json:"log_index"`
	Data        map[string]interface{} `json:"data"`
}

// IntentType 上链意图类型
type IntentType string

const (
	IntentDeploy        IntentType = "deploy"
	IntentBatchJoin     IntentType = "batch_join"
	IntentBatchContrib  IntentType = "batch_contrib"
	IntentStart         IntentType = "start"
	IntentCompleteRound IntentType = "complete_round"
)

// Ledger 账本客户端接口。链是权威数据源，本服务只通过该接口读写。
type Ledger interface {
	// Submit 提交一笔交易，返回交易哈希
	Submit(ctx context.Context, intentType IntentType, payload []byte) (string, error)

	// GetReceipt 根据交易哈希查询回执，交易未决时返回 pending 回执
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// GetEventLogs 按区块范围查询事件日志，实现方负责按 provider 限制分块
	GetEventLogs(ctx context.Context, eventName string, fromBlock, toBlock int64) ([]Event, error)

	// LatestBlock 获取最新区块号
	LatestBlock(ctx context.Context) (int64, error)
}
