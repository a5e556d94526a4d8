package logic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/chamasvc/internal/model"
	"github.com/blues/chamasvc/internal/notify"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 成员数量上下限
const (
	MinMemberTarget = 2
	MaxMemberTarget = 100
)

// allowedTransitions 状态转换图，cancelled 单独处理
var allowedTransitions = map[model.ChamaStatus][]model.ChamaStatus{
	model.ChamaStatusDraft:      {model.ChamaStatusRecruiting, model.ChamaStatusWaiting},
	model.ChamaStatusRecruiting: {model.ChamaStatusWaiting},
	model.ChamaStatusWaiting:    {model.ChamaStatusRegistered, model.ChamaStatusActive},
	model.ChamaStatusRegistered: {model.ChamaStatusActive},
	model.ChamaStatusActive:     {model.ChamaStatusCompleted},
}

// ChamaLogic 储蓄圈生命周期业务逻辑
type ChamaLogic struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

// NewChamaLogic 创建储蓄圈业务逻辑
func NewChamaLogic(db *gorm.DB, notifier *notify.Notifier) *ChamaLogic {
	return &ChamaLogic{db: db, notifier: notifier}
}

// CreateChama 创建储蓄圈，同时将创建者作为第一个成员写入
func (l *ChamaLogic) CreateChama(creatorAddr string, chama *model.Chama) error {
	if err := l.validateConfig(chama); err != nil {
		return err
	}

	chama.CreatorAddress = creatorAddr
	chama.Status = model.ChamaStatusDraft
	chama.CurrentRound = 0
	chama.InviteCode = newInviteCode()

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chama).Error; err != nil {
			return fmt.Errorf("创建储蓄圈失败: %w", err)
		}

		// 创建者作为第一个成员，创建时免保证金门槛
		creator := model.Member{
			ChamaID:    chama.ID,
			Address:    creatorAddr,
			Status:     model.MemberStatusActive,
			JoinMethod: model.JoinMethodCreator,
		}
		if err := tx.Create(&creator).Error; err != nil {
			return fmt.Errorf("创建创建者成员记录失败: %w", err)
		}

		return appendEvent(tx, chama.ID, model.EventChamaCreated, creatorAddr, map[string]interface{}{
			"name":          chama.Name,
			"member_target": chama.MemberTarget,
		})
	})
	if err != nil {
		return err
	}

	l.publish(chama.ID, "chama", "insert")
	return nil
}

// AddMember 添加成员。成员数校验与插入在同一事务内完成，
// 并发加入同一储蓄圈时通过行锁串行化计数检查。
func (l *ChamaLogic) AddMember(chamaID uint, addr string, joinMethod model.JoinMethod) (*model.Member, error) {
	var member model.Member

	err := l.db.Transaction(func(tx *gorm.DB) error {
		var chama model.Chama
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&chama, chamaID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrChamaNotFound
			}
			return fmt.Errorf("获取储蓄圈失败: %w", err)
		}

		if chama.Status != model.ChamaStatusDraft && chama.Status != model.ChamaStatusRecruiting {
			return ErrChamaNotAccepting
		}

		var existing model.Member
		err := tx.Where("chama_id = ? AND address = ?", chamaID, addr).First(&existing).Error
		if err == nil {
			return ErrAlreadyMember
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询成员失败: %w", err)
		}

		count, err := countedMembers(tx, chamaID)
		if err != nil {
			return err
		}
		if count >= int64(chama.MemberTarget) {
			return ErrChamaFull
		}

		status := model.MemberStatusPending
		if joinMethod == model.JoinMethodInvited {
			status = model.MemberStatusInvited
		}
		member = model.Member{
			ChamaID:    chamaID,
			Address:    addr,
			Status:     status,
			JoinMethod: joinMethod,
		}
		if err := tx.Create(&member).Error; err != nil {
			return fmt.Errorf("创建成员记录失败: %w", err)
		}

		if err := appendEvent(tx, chamaID, model.EventMemberJoined, addr, map[string]interface{}{
			"join_method": joinMethod,
		}); err != nil {
			return err
		}

		// 达到目标人数后自动转入满员待部署状态
		if count+1 == int64(chama.MemberTarget) {
			prevStatus := chama.Status
			if err := tx.Model(&chama).Update("status", model.ChamaStatusWaiting).Error; err != nil {
				return fmt.Errorf("更新储蓄圈状态失败: %w", err)
			}
			if err := appendEvent(tx, chamaID, model.EventStatusChanged, addr, map[string]interface{}{
				"from": prevStatus,
				"to":   model.ChamaStatusWaiting,
			}); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	l.publish(chamaID, "member", "insert")
	return &member, nil
}

// UpdateStatus 推进储蓄圈状态，拒绝不在转换图中的转换
func (l *ChamaLogic) UpdateStatus(chamaID uint, newStatus model.ChamaStatus, actor string) error {
	err := l.db.Transaction(func(tx *gorm.DB) error {
		return l.UpdateStatusTx(tx, chamaID, newStatus, actor)
	})
	if err != nil {
		return err
	}

	l.publish(chamaID, "chama", "update")
	return nil
}

// UpdateStatusTx 在调用方事务内推进储蓄圈状态。对账器在自己的
// 事务里确认部署时必须走这里，另起事务会撞上外层事务持有的行锁。
// 调用方负责提交后的变更通知。
func (l *ChamaLogic) UpdateStatusTx(tx *gorm.DB, chamaID uint, newStatus model.ChamaStatus, actor string) error {
	var chama model.Chama
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&chama, chamaID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChamaNotFound
		}
		return fmt.Errorf("获取储蓄圈失败: %w", err)
	}

	if !CanTransition(chama.Status, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, chama.Status, newStatus)
	}

	// Updates 会把新状态回写进结构体，先留住旧状态供审计事件使用
	prevStatus := chama.Status

	now := time.Now()
	updates := map[string]interface{}{"status": newStatus}
	switch newStatus {
	case model.ChamaStatusRecruiting:
		deadline := now.Add(7 * 24 * time.Hour)
		updates["recruitment_deadline"] = &deadline
	case model.ChamaStatusActive:
		updates["started_at"] = &now
	case model.ChamaStatusCompleted:
		updates["completed_at"] = &now
	}

	if err := tx.Model(&chama).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新储蓄圈状态失败: %w", err)
	}

	return appendEvent(tx, chamaID, model.EventStatusChanged, actor, map[string]interface{}{
		"from": prevStatus,
		"to":   newStatus,
	})
}

// CanTransition 判断状态转换是否合法
func CanTransition(from, to model.ChamaStatus) bool {
	if to == model.ChamaStatusCancelled {
		return !from.IsTerminal()
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GetChama 获取储蓄圈详情
func (l *ChamaLogic) GetChama(id uint) (*model.Chama, error) {
	var chama model.Chama
	if err := l.db.First(&chama, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChamaNotFound
		}
		return nil, fmt.Errorf("获取储蓄圈失败: %w", err)
	}
	return &chama, nil
}

// GetChamaByInviteCode 根据邀请码获取储蓄圈
func (l *ChamaLogic) GetChamaByInviteCode(code string) (*model.Chama, error) {
	var chama model.Chama
	if err := l.db.Where("invite_code = ?", code).First(&chama).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChamaNotFound
		}
		return nil, fmt.Errorf("获取储蓄圈失败: %w", err)
	}
	return &chama, nil
}

// GetChamas 分页获取储蓄圈列表
func (l *ChamaLogic) GetChamas(status string, creator string, page, pageSize int) ([]model.Chama, int64, error) {
	var chamas []model.Chama
	var total int64

	query := l.db.Model(&model.Chama{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if creator != "" {
		query = query.Where("creator_address = ?", creator)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("获取储蓄圈总数失败: %w", err)
	}

	offset := (page - 1) * pageSize
	if err := query.Offset(offset).Limit(pageSize).Order("created_at DESC").Find(&chamas).Error; err != nil {
		return nil, 0, fmt.Errorf("获取储蓄圈列表失败: %w", err)
	}

	return chamas, total, nil
}

// GetChamaStats 获取储蓄圈统计信息
func (l *ChamaLogic) GetChamaStats(id uint) (map[string]interface{}, error) {
	chama, err := l.GetChama(id)
	if err != nil {
		return nil, err
	}

	memberCount, err := countedMembers(l.db, id)
	if err != nil {
		return nil, err
	}

	var totalPot float64
	if err := l.db.Model(&model.Round{}).
		Where("chama_id = ?", id).
		Select("COALESCE(SUM(total_pot), 0)").
		Scan(&totalPot).Error; err != nil {
		return nil, fmt.Errorf("获取累计彩池失败: %w", err)
	}

	var confirmedContributions int64
	if err := l.db.Model(&model.Contribution{}).
		Where("chama_id = ? AND status = ?", id, model.ContributionStatusConfirmed).
		Count(&confirmedContributions).Error; err != nil {
		return nil, fmt.Errorf("获取已确认缴款数失败: %w", err)
	}

	return map[string]interface{}{
		"chama_id":                id,
		"status":                  chama.Status,
		"current_round":           chama.CurrentRound,
		"member_count":            memberCount,
		"member_target":           chama.MemberTarget,
		"total_pot":               totalPot,
		"confirmed_contributions": confirmedContributions,
	}, nil
}

// validateConfig 校验储蓄圈配置
func (l *ChamaLogic) validateConfig(chama *model.Chama) error {
	if strings.TrimSpace(chama.Name) == "" {
		return fmt.Errorf("%w: 名称不能为空", ErrInvalidConfig)
	}
	if chama.MemberTarget < MinMemberTarget || chama.MemberTarget > MaxMemberTarget {
		return fmt.Errorf("%w: 成员目标必须在 %d 到 %d 之间", ErrInvalidConfig, MinMemberTarget, MaxMemberTarget)
	}
	if chama.ContributionAmount <= 0 {
		return fmt.Errorf("%w: 缴款金额必须大于0", ErrInvalidConfig)
	}
	if chama.SecurityDeposit < 0 {
		return fmt.Errorf("%w: 保证金不能为负", ErrInvalidConfig)
	}
	if chama.RoundDuration <= 0 {
		return fmt.Errorf("%w: 轮次时长必须大于0", ErrInvalidConfig)
	}
	return nil
}

// countedMembers 计入人数上限的成员数（退出和违约成员不占名额）
func countedMembers(tx *gorm.DB, chamaID uint) (int64, error) {
	var count int64
	err := tx.Model(&model.Member{}).
		Where("chama_id = ? AND status NOT IN ?", chamaID,
			[]model.MemberStatus{model.MemberStatusWithdrawn, model.MemberStatusDefaulted}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计成员数失败: %w", err)
	}
	return count, nil
}

// appendEvent 追加审计事件
func appendEvent(tx *gorm.DB, chamaID uint, eventType, actor string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件数据失败: %w", err)
	}
	event := model.ChamaEvent{
		ChamaID:   chamaID,
		EventType: eventType,
		Actor:     actor,
		Data:      string(data),
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("写入审计事件失败: %w", err)
	}
	return nil
}

// newInviteCode 生成邀请码
func newInviteCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// publish 发布变更通知
func (l *ChamaLogic) publish(chamaID uint, table, action string) {
	if l.notifier != nil {
		l.notifier.Publish(notify.Change{ChamaID: chamaID, Table: table, Action: action})
	}
}
