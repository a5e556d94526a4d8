package batch

import "github.com/blues/chamasvc/internal/model"

// 各操作类型的Gas常量。仅作为调用方的成本提示，
// 实际提交时由节点重新估算。
var gasTable = map[model.BatchType]struct {
	base  uint64
	perOp uint64
}{
	model.BatchTypeDeploy:        {base: 1_200_000, perOp: 0},
	model.BatchTypeJoin:          {base: 80_000, perOp: 45_000},
	model.BatchTypeContribute:    {base: 90_000, perOp: 55_000},
	model.BatchTypeStart:         {base: 120_000, perOp: 0},
	model.BatchTypeCompleteRound: {base: 150_000, perOp: 30_000},
}

// EstimateGas 估算批次Gas消耗: base(type) + perOperation(type) * count
func EstimateGas(batchType model.BatchType, count int) uint64 {
	entry, ok := gasTable[batchType]
	if !ok {
		return 0
	}
	return entry.base + entry.perOp*uint64(count)
}
