package handler

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JoinRequest 加入储蓄圈请求
type JoinRequest struct {
	Address string `json:"address" binding:"required"`
}

// DepositRequest 保证金缴纳请求
type DepositRequest struct {
	MemberID uint   `json:"member_id" binding:"required"`
	TxHash   string `json:"tx_hash"`
}

// ContributionRequest 缴款请求
type ContributionRequest struct {
	RoundID uint    `json:"round_id" binding:"required"`
	Address string  `json:"address" binding:"required"`
	Amount  float64 `json:"amount" binding:"required"`
	TxHash  string  `json:"tx_hash"`
}

// StatusRequest 状态变更请求
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
	Actor  string `json:"actor"`
}

// CompleteRoundRequest 轮次完成请求
type CompleteRoundRequest struct {
	RecipientAddress string `json:"recipient_address" binding:"required"`
	Actor            string `json:"actor"`
}

// BatchIntentRequest 批量操作入池请求
type BatchIntentRequest struct {
	Type     string  `json:"type" binding:"required"`
	Address  string  `json:"address"`
	Amount   float64 `json:"amount"`
	RoundID  uint    `json:"round_id"`
	MemberID uint    `json:"member_id"`
}
