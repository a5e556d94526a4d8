package access

import (
	"github.com/blues/chamasvc/internal/model"
)

// Level 访问权限等级
type Level string

const (
	LevelGuest   Level = "GUEST"    // 未登录
	LevelCanJoin Level = "CAN_JOIN" // 可加入
	LevelViewer  Level = "VIEWER"   // 仅查看
	LevelMember  Level = "MEMBER"   // 成员
	LevelCreator Level = "CREATOR"  // 创建者
)

// Evaluate 计算调用方的访问权限等级。纯函数，无副作用：
// 相同输入永远得到相同等级。
//
// 规则按优先级：未登录 -> GUEST；无成员记录时招募中且未满员 -> CAN_JOIN，
// 否则 VIEWER；有成员记录时创建者 -> CREATOR，活跃或已确认成员 -> MEMBER，
// 其余 -> VIEWER。
func Evaluate(isLoggedIn bool, membership *model.Member, chama *model.Chama, memberCount int) Level {
	if !isLoggedIn {
		return LevelGuest
	}

	if membership == nil {
		if chama != nil &&
			chama.Status == model.ChamaStatusRecruiting &&
			memberCount < chama.MemberTarget {
			return LevelCanJoin
		}
		return LevelViewer
	}

	if chama != nil && membership.Address == chama.CreatorAddress {
		return LevelCreator
	}

	switch membership.Status {
	case model.MemberStatusActive, model.MemberStatusConfirmed:
		return LevelMember
	default:
		return LevelViewer
	}
}
