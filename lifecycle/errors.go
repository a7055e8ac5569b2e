package lifecycle

import "errors"

var (
	// ErrElectionNotFound 选举不存在
	ErrElectionNotFound = errors.New("election not found")

	// ErrInvalidSchedule 发布时时间安排不满足 start < end < release
	ErrInvalidSchedule = errors.New("invalid schedule ordering")

	// ErrVotingNotOpen 投票窗口尚未开启
	ErrVotingNotOpen = errors.New("voting not open yet")

	// ErrVotingClosed 投票窗口已关闭
	ErrVotingClosed = errors.New("voting closed")

	// ErrUpdateLimitExceeded 重投次数已达上限
	ErrUpdateLimitExceeded = errors.New("ballot update limit exceeded")

	// ErrNotOrganizer 非组织者发起的资金提取
	ErrNotOrganizer = errors.New("caller is not the organizer")

	// ErrElectionActive 选举尚未结束，资金不可提取
	ErrElectionActive = errors.New("election has not ended")
)
