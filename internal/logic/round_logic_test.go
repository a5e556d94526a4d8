package logic

import (
	"testing"
	"time"

	"github.com/blues/chamasvc/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupChamaWithMembers(t *testing.T, db *gorm.DB, target int) *model.Chama {
	t.Helper()

	l := NewChamaLogic(db, nil)
	chama := testChama(target)
	require.NoError(t, l.CreateChama("0xcreator", chama))
	require.NoError(t, l.UpdateStatus(chama.ID, model.ChamaStatusRecruiting, "0xcreator"))
	return chama
}

func TestCreateRound(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	l := NewRoundLogic(db, nil)

	round, err := l.CreateRound(chama.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.RoundStatusActive, round.Status)
	assert.Equal(t, 1, round.RoundNumber)
	assert.Equal(t, 1, round.ExpectedContributions) // 只有创建者

	got, err := NewChamaLogic(db, nil).GetChama(chama.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentRound)
}

func TestCreateRoundOnlyOneActive(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	l := NewRoundLogic(db, nil)

	_, err := l.CreateRound(chama.ID, 1)
	require.NoError(t, err)

	_, err = l.CreateRound(chama.ID, 2)
	assert.ErrorIs(t, err, ErrRoundAlreadyActive)
}

func TestCurrentRoundMonotonic(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	l := NewRoundLogic(db, nil)

	round, err := l.CreateRound(chama.ID, 3)
	require.NoError(t, err)
	require.NoError(t, l.CompleteRound(round.ID, "0xcreator", "0xcreator"))

	// 补建低轮次号不会回退 current_round
	_, err = l.CreateRound(chama.ID, 1)
	require.NoError(t, err)

	got, err := NewChamaLogic(db, nil).GetChama(chama.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentRound)
}

func TestCompleteRound(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	l := NewRoundLogic(db, nil)

	round, err := l.CreateRound(chama.ID, 1)
	require.NoError(t, err)

	require.NoError(t, l.CompleteRound(round.ID, "0xrecipient", "0xcreator"))

	var got model.Round
	require.NoError(t, db.First(&got, round.ID).Error)
	assert.Equal(t, model.RoundStatusCompleted, got.Status)
	assert.Equal(t, "0xrecipient", got.RecipientAddress)

	// 已完成轮次不可重复完成
	assert.ErrorIs(t, l.CompleteRound(round.ID, "0xother", "0xcreator"), ErrInvalidTransition)
}

func TestExpireOverdueRounds(t *testing.T) {
	db := setupTestDB(t)
	chama := setupChamaWithMembers(t, db, 5)
	l := NewRoundLogic(db, nil)

	round, err := l.CreateRound(chama.ID, 1)
	require.NoError(t, err)

	// 把截止时间改到过去
	require.NoError(t, db.Model(&model.Round{}).Where("id = ?", round.ID).
		Update("end_time", time.Now().Add(-time.Hour)).Error)

	expired, err := l.ExpireOverdueRounds()
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	var got model.Round
	require.NoError(t, db.First(&got, round.ID).Error)
	assert.Equal(t, model.RoundStatusExpired, got.Status)

	// 再跑一次没有新过期
	expired, err = l.ExpireOverdueRounds()
	require.NoError(t, err)
	assert.Equal(t, int64(0), expired)
}
