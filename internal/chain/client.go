package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/blues/chamasvc/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Chama工厂合约ABI定义（简化版）
const factoryABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "chamaId", "type": "uint256"},
			{"indexed": true, "name": "creator", "type": "address"},
			{"indexed": false, "name": "memberTarget", "type": "uint256"}
		],
		"name": "ChamaDeployed",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "chamaId", "type": "uint256"},
			{"indexed": true, "name": "member", "type": "address"}
		],
		"name": "MemberJoined",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "chamaId", "type": "uint256"},
			{"indexed": true, "name": "member", "type": "address"},
			{"indexed": false, "name": "round", "type": "uint256"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "ContributionMade",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "chamaId", "type": "uint256"},
			{"indexed": false, "name": "round", "type": "uint256"}
		],
		"name": "RoundStarted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "chamaId", "type": "uint256"},
			{"indexed": false, "name": "round", "type": "uint256"},
			{"indexed": true, "name": "recipient", "type": "address"}
		],
		"name": "RoundCompleted",
		"type": "event"
	}
]`

// Client 基于以太坊客户端的账本实现
type Client struct {
	client        *ethclient.Client
	privateKey    *ecdsa.PrivateKey
	chainID       *big.Int
	FactoryAddr   common.Address
	startBlock    int64
	confirmations int
	logChunkSize  int64
	contractABI   abi.ABI
}

// Init 连接链并初始化客户端
func Init(cfg config.ChainConfig) (*Client, error) {
	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain client: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	parsedABI, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}

	chunkSize := cfg.LogChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	return &Client{
		client:        client,
		privateKey:    privateKey,
		chainID:       big.NewInt(cfg.ChainId),
		FactoryAddr:   common.HexToAddress(cfg.FactoryAddr),
		startBlock:    cfg.StartBlock,
		confirmations: cfg.Confirmations,
		logChunkSize:  chunkSize,
		contractABI:   parsedABI,
	}, nil
}

// Submit 向工厂合约提交一笔交易
func (c *Client) Submit(ctx context.Context, intentType IntentType, payload []byte) (string, error) {
	fromAddr := crypto.PubkeyToAddress(c.privateKey.PublicKey)

	nonce, err := c.client.PendingNonceAt(ctx, fromAddr)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: fromAddr,
		To:   &c.FactoryAddr,
		Data: payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas for %s: %w", intentType, err)
	}

	tx := types.NewTransaction(nonce, c.FactoryAddr, big.NewInt(0), gasLimit, gasPrice, payload)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send %s transaction: %w", intentType, err)
	}

	return signedTx.Hash().Hex(), nil
}

// GetReceipt 查询交易回执，未决交易返回 pending 而不是错误
func (c *Client) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return &Receipt{Status: ReceiptStatusPending}, nil
		}
		return nil, fmt.Errorf("failed to get receipt for %s: %w", txHash, err)
	}

	status := ReceiptStatusReverted
	if receipt.Status == types.ReceiptStatusSuccessful {
		status = ReceiptStatusSuccess
	}

	return &Receipt{
		Status:      status,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// GetEventLogs 按区块范围查询事件日志，按 logChunkSize 分块以符合节点限制
func (c *Client) GetEventLogs(ctx context.Context, eventName string, fromBlock, toBlock int64) ([]Event, error) {
	eventDef, ok := c.contractABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("unknown event: %s", eventName)
	}

	var events []Event
	for chunkFrom := fromBlock; chunkFrom <= toBlock; chunkFrom += c.logChunkSize {
		chunkTo := chunkFrom + c.logChunkSize - 1
		if chunkTo > toBlock {
			chunkTo = toBlock
		}

		query := ethereum.FilterQuery{
			FromBlock: big.NewInt(chunkFrom),
			ToBlock:   big.NewInt(chunkTo),
			Addresses: []common.Address{c.FactoryAddr},
			Topics:    [][]common.Hash{{eventDef.ID}},
		}

		logs, err := c.client.FilterLogs(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to filter logs [%d, %d]: %w", chunkFrom, chunkTo, err)
		}

		for _, l := range logs {
			event, err := c.parseLog(eventName, l)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s log: %w", eventName, err)
			}
			events = append(events, event)
		}
	}

	return events, nil
}

// LatestBlock 获取最新区块号
func (c *Client) LatestBlock(ctx context.Context) (int64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Int64(), nil
}

// GetStartBlock 获取配置的起始区块号
func (c *Client) GetStartBlock() int64 {
	return c.startBlock
}

// IsConfirmed 检查交易是否达到确认深度
func (c *Client) IsConfirmed(ctx context.Context, txHash string) (bool, error) {
	receipt, err := c.GetReceipt(ctx, txHash)
	if err != nil {
		return false, err
	}
	if receipt.Status == ReceiptStatusPending {
		return false, nil
	}

	latest, err := c.LatestBlock(ctx)
	if err != nil {
		return false, err
	}

	return latest >= int64(receipt.BlockNumber)+int64(c.confirmations), nil
}

// parseLog 解析事件日志
func (c *Client) parseLog(eventName string, l types.Log) (Event, error) {
	data := make(map[string]interface{})

	switch eventName {
	case "ChamaDeployed":
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("invalid ChamaDeployed event: insufficient topics")
		}
		data["chamaId"] = new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()
		data["creator"] = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
		if len(l.Data) > 0 {
			data["memberTarget"] = new(big.Int).SetBytes(l.Data).Uint64()
		}
	case "MemberJoined":
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("invalid MemberJoined event: insufficient topics")
		}
		data["chamaId"] = new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()
		data["member"] = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
	case "ContributionMade":
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("invalid ContributionMade event: insufficient topics")
		}
		data["chamaId"] = new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()
		data["member"] = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
		if len(l.Data) >= 64 {
			data["round"] = new(big.Int).SetBytes(l.Data[:32]).Uint64()
			data["amount"] = new(big.Int).SetBytes(l.Data[32:64])
		}
	case "RoundStarted":
		if len(l.Topics) < 2 {
			return Event{}, fmt.Errorf("invalid RoundStarted event: insufficient topics")
		}
		data["chamaId"] = new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()
		if len(l.Data) > 0 {
			data["round"] = new(big.Int).SetBytes(l.Data).Uint64()
		}
	case "RoundCompleted":
		if len(l.Topics) < 3 {
			return Event{}, fmt.Errorf("invalid RoundCompleted event: insufficient topics")
		}
		data["chamaId"] = new(big.Int).SetBytes(l.Topics[1].Bytes()).Uint64()
		data["recipient"] = common.BytesToAddress(l.Topics[2].Bytes()).Hex()
		if len(l.Data) > 0 {
			data["round"] = new(big.Int).SetBytes(l.Data).Uint64()
		}
	default:
		return Event{}, fmt.Errorf("unknown event: %s", eventName)
	}

	return Event{
		Name:        eventName,
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		Data:        data,
	}, nil
}
