package lifecycle

// 容量单位为shannon，1 CKB容量 = 1e8 shannon
// 常量取自链上cell的最小占用规则
const (
	ShannonsPerUnit = 100_000_000

	// MinRecordCapacity 单条记录的最小容量占用（61单位）
	MinRecordCapacity = 61 * ShannonsPerUnit

	// CapacityBuffer 预留缓冲（10单位），覆盖记录头与找零
	CapacityBuffer = 10 * ShannonsPerUnit

	// BallotCost 准入一张选票扣减的容量
	BallotCost = MinRecordCapacity

	// fixedRecordCount 发布时固定创建的记录数（Fund/Metadata/Result）
	fixedRecordCount = 3
)

// EstimateCost 容量估算：estimatedVoters × 单票成本 × allowedUpdates + 固定开销
// 纯函数，只用于发布时确定Fund初始额度，实际准入由余额把关
func EstimateCost(estimatedVoters, allowedUpdates int) int64 {
	if estimatedVoters < 0 {
		estimatedVoters = 0
	}
	if allowedUpdates < 1 {
		allowedUpdates = 1
	}
	ballots := int64(estimatedVoters) * int64(allowedUpdates) * BallotCost
	overheads := int64(fixedRecordCount)*MinRecordCapacity + CapacityBuffer
	return ballots + overheads
}
