package reconcile

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/blues/chamasvc/internal/chain"
	"github.com/blues/chamasvc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileDataCreatesMissing(t *testing.T) {
	db := setupTestDB(t)
	ledger := newFakeLedger()
	r := newTestReconciler(t, db, ledger)

	chama, member, round := setupActiveChama(t, db)

	ledger.events["ContributionMade"] = []chain.Event{{
		Name:        "ContributionMade",
		TxHash:      "0xledgeronly",
		BlockNumber: 70,
		LogIndex:    0,
		Data: map[string]interface{}{
			"chamaId": uint64(chama.ID),
			"member":  member.Address,
			"round":   uint64(round.RoundNumber),
			"amount":  big.NewInt(100000000000000000),
		},
	}}

	mutations, err := r.ReconcileData(context.Background(), chama.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, mutations)

	var got model.Contribution
	require.NoError(t, db.Where("tx_hash = ?", "0xledgeronly").First(&got).Error)
	assert.Equal(t, model.ContributionStatusConfirmed, got.Status)
}

func TestReconcileDataLedgerWins(t *testing.T) {
	db := setupTestDB(t)
	ledger := newFakeLedger()
	r := newTestReconciler(t, db, ledger)

	chama, member, round := setupActiveChama(t, db)

	// 缓存金额与链上不一致
	now := time.Now()
	contribution := &model.Contribution{
		ChamaID:     chama.ID,
		RoundID:     round.ID,
		MemberID:    member.ID,
		Address:     member.Address,
		Amount:      0.2,
		Status:      model.ContributionStatusConfirmed,
		TxHash:      "0xtx1",
		BlockNum:    70,
		ConfirmedAt: &now,
	}
	require.NoError(t, db.Create(contribution).Error)

	ledger.events["ContributionMade"] = []chain.Event{{
		Name:        "ContributionMade",
		TxHash:      "0xtx1",
		BlockNumber: 70,
		LogIndex:    0,
		Data: map[string]interface{}{
			"chamaId": uint64(chama.ID),
			"member":  member.Address,
			"round":   uint64(round.RoundNumber),
			"amount":  big.NewInt(100000000000000000), // 链上是 0.1
		},
	}}

	mutations, err := r.ReconcileData(context.Background(), chama.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, mutations)

	var got model.Contribution
	require.NoError(t, db.First(&got, contribution.ID).Error)
	assert.InDelta(t, 0.1, got.Amount, 1e-9)
}

func TestReconcileDataDemotesGhostConfirmed(t *testing.T) {
	db := setupTestDB(t)
	ledger := newFakeLedger()
	r := newTestReconciler(t, db, ledger)

	chama, member, round := setupActiveChama(t, db)

	// 缓存声称已确认，但链上根本查不到这笔交易
	now := time.Now()
	ghost := &model.Contribution{
		ChamaID:     chama.ID,
		RoundID:     round.ID,
		MemberID:    member.ID,
		Address:     member.Address,
		Amount:      0.1,
		Status:      model.ContributionStatusConfirmed,
		TxHash:      "0xghost",
		ConfirmedAt: &now,
	}
	require.NoError(t, db.Create(ghost).Error)

	mutations, err := r.ReconcileData(context.Background(), chama.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, mutations)

	var got model.Contribution
	require.NoError(t, db.First(&got, ghost.ID).Error)
	assert.Equal(t, model.ContributionStatusFailed, got.Status)
}

func TestReconcileDataIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ledger := newFakeLedger()
	r := newTestReconciler(t, db, ledger)

	chama, member, round := setupActiveChama(t, db)

	ledger.events["ContributionMade"] = []chain.Event{{
		Name:        "ContributionMade",
		TxHash:      "0xtx1",
		BlockNumber: 70,
		LogIndex:    0,
		Data: map[string]interface{}{
			"chamaId": uint64(chama.ID),
			"member":  member.Address,
			"round":   uint64(round.RoundNumber),
			"amount":  big.NewInt(100000000000000000),
		},
	}}

	mutations, err := r.ReconcileData(context.Background(), chama.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, mutations)

	// 无差异的第二轮不产生任何修正
	mutations, err = r.ReconcileData(context.Background(), chama.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, mutations)
}

func TestReconcileAll(t *testing.T) {
	db := setupTestDB(t)
	ledger := newFakeLedger()
	r := newTestReconciler(t, db, ledger)

	chama, member, round := setupActiveChama(t, db)
	require.NoError(t, db.Model(&model.Chama{}).Where("id = ?", chama.ID).
		Update("status", model.ChamaStatusActive).Error)

	ledger.events["ContributionMade"] = []chain.Event{{
		Name:        "ContributionMade",
		TxHash:      "0xtx1",
		BlockNumber: 70,
		LogIndex:    0,
		Data: map[string]interface{}{
			"chamaId": uint64(chama.ID),
			"member":  member.Address,
			"round":   uint64(round.RoundNumber),
			"amount":  big.NewInt(100000000000000000),
		},
	}}

	require.NoError(t, r.ReconcileAll(context.Background()))

	var got model.Contribution
	require.NoError(t, db.Where("tx_hash = ?", "0xtx1").First(&got).Error)
	assert.Equal(t, model.ContributionStatusConfirmed, got.Status)
}
