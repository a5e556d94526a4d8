package logic

import (
	"testing"
	"time"

	"github.com/blues/chamasvc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordContribution(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	round, err := NewRoundLogic(db, nil).CreateRound(chama.ID, 1)
	require.NoError(t, err)

	l := NewContributionLogic(db, nil)
	contribution, err := l.RecordContribution(chama.ID, round.ID, "0xcreator", 0.1, "0xtx1")
	require.NoError(t, err)
	assert.Equal(t, model.ContributionStatusPending, contribution.Status)
	assert.False(t, contribution.IsLate)

	// 成员累计与轮次统计在同一事务内更新
	var member model.Member
	require.NoError(t, db.Where("chama_id = ? AND address = ?", chama.ID, "0xcreator").First(&member).Error)
	assert.Equal(t, 0.1, member.TotalContributions)
	assert.Equal(t, 1, member.RoundsContributed)

	var gotRound model.Round
	require.NoError(t, db.First(&gotRound, round.ID).Error)
	assert.Equal(t, 1, gotRound.ReceivedContributions)
	assert.Equal(t, 0.1, gotRound.TotalPot)

	// 带交易哈希的缴款自动入队回执确认
	var op model.SyncOperation
	require.NoError(t, db.Where("tx_hash = ?", "0xtx1").First(&op).Error)
	assert.Equal(t, model.SyncTypeContribution, op.Type)
	assert.Equal(t, contribution.ID, op.RefID)
	assert.Equal(t, model.SyncStatusPending, op.Status)
}

func TestRecordContributionDuplicate(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	round, err := NewRoundLogic(db, nil).CreateRound(chama.ID, 1)
	require.NoError(t, err)

	l := NewContributionLogic(db, nil)
	_, err = l.RecordContribution(chama.ID, round.ID, "0xcreator", 0.1, "0xtx1")
	require.NoError(t, err)

	_, err = l.RecordContribution(chama.ID, round.ID, "0xcreator", 0.1, "0xtx2")
	assert.ErrorIs(t, err, ErrAlreadyContributed)

	// 重复缴款被拒绝后统计保持不变
	var member model.Member
	require.NoError(t, db.Where("chama_id = ? AND address = ?", chama.ID, "0xcreator").First(&member).Error)
	assert.Equal(t, 0.1, member.TotalContributions)
	assert.Equal(t, 1, member.RoundsContributed)
}

func TestRecordContributionUnknownMember(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	round, err := NewRoundLogic(db, nil).CreateRound(chama.ID, 1)
	require.NoError(t, err)

	l := NewContributionLogic(db, nil)
	_, err = l.RecordContribution(chama.ID, round.ID, "0xstranger", 0.1, "")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestRecordContributionLate(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	round, err := NewRoundLogic(db, nil).CreateRound(chama.ID, 1)
	require.NoError(t, err)

	require.NoError(t, db.Model(&model.Round{}).Where("id = ?", round.ID).
		Update("end_time", time.Now().Add(-time.Hour)).Error)

	l := NewContributionLogic(db, nil)

	// 不允许逾期时直接拒绝
	_, err = l.RecordContribution(chama.ID, round.ID, "0xcreator", 0.1, "")
	assert.ErrorIs(t, err, ErrRoundClosed)

	// 允许逾期时记录罚金
	require.NoError(t, db.Model(&model.Chama{}).Where("id = ?", chama.ID).
		Update("allow_late_join", true).Error)

	contribution, err := l.RecordContribution(chama.ID, round.ID, "0xcreator", 0.1, "")
	require.NoError(t, err)
	assert.True(t, contribution.IsLate)
	assert.InDelta(t, 0.1*LatePenaltyRate, contribution.Penalty, 1e-9)
}

func TestGetContributionStats(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	round, err := NewRoundLogic(db, nil).CreateRound(chama.ID, 1)
	require.NoError(t, err)

	l := NewContributionLogic(db, nil)
	_, err = l.RecordContribution(chama.ID, round.ID, "0xcreator", 0.1, "0xtx1")
	require.NoError(t, err)

	stats, err := l.GetContributionStats(chama.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stats)
}

func TestRecordDepositPayment(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	cl := NewChamaLogic(db, nil)

	member, err := cl.AddMember(chama.ID, "0xaaa", model.JoinMethodDirect)
	require.NoError(t, err)
	assert.Equal(t, model.MemberStatusPending, member.Status)

	ml := NewMemberLogic(db, nil)
	require.NoError(t, ml.RecordDepositPayment(member.ID, "0xdeposit"))

	got, err := ml.GetMemberByAddress(chama.ID, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, model.MemberStatusActive, got.Status)
	assert.Equal(t, model.DepositStatusPaid, got.DepositStatus)
	assert.Equal(t, "0xdeposit", got.DepositTxHash)

	// 保证金交易进入回执确认队列
	var op model.SyncOperation
	require.NoError(t, db.Where("tx_hash = ?", "0xdeposit").First(&op).Error)
	assert.Equal(t, model.SyncTypeDeposit, op.Type)
}

func TestMarkDefaulted(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	cl := NewChamaLogic(db, nil)

	member, err := cl.AddMember(chama.ID, "0xaaa", model.JoinMethodDirect)
	require.NoError(t, err)

	ml := NewMemberLogic(db, nil)
	require.NoError(t, ml.RecordDepositPayment(member.ID, ""))
	require.NoError(t, ml.MarkDefaulted(member.ID, "system"))

	got, err := ml.GetMemberByAddress(chama.ID, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, model.MemberStatusDefaulted, got.Status)
	assert.Equal(t, model.DepositStatusForfeited, got.DepositStatus)
}
