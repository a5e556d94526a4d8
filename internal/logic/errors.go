package logic

import "errors"

// 校验类错误：同步返回给调用方，不做自动重试
var (
	ErrInvalidConfig      = errors.New("储蓄圈配置无效")
	ErrChamaNotFound      = errors.New("储蓄圈不存在")
	ErrChamaNotAccepting  = errors.New("储蓄圈当前不接受加入")
	ErrAlreadyMember      = errors.New("已经是储蓄圈成员")
	ErrChamaFull          = errors.New("储蓄圈成员已满")
	ErrMemberNotFound     = errors.New("成员不存在")
	ErrAlreadyContributed = errors.New("本轮已缴款")
	ErrInvalidTransition  = errors.New("非法的状态转换")
	ErrRoundNotFound      = errors.New("轮次不存在")
	ErrRoundAlreadyActive = errors.New("已存在进行中的轮次")
	ErrRoundClosed        = errors.New("轮次已截止")
)

// IsValidationError 判断是否为校验类错误
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidConfig, ErrChamaNotFound, ErrChamaNotAccepting,
		ErrAlreadyMember, ErrChamaFull, ErrMemberNotFound,
		ErrAlreadyContributed, ErrInvalidTransition,
		ErrRoundNotFound, ErrRoundAlreadyActive, ErrRoundClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
