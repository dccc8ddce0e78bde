package Filters

import (
	"math"
)

/*
*
频率跟踪: 把每块估计出的残余频偏换算成电台的修正量。
小于死区的误差不动，超出的部分按增益慢慢追，累计修正量有上限。
*/
type AFC struct {
	CurrentOffset float64 // 已经下发的累计修正量 (Hz)

	gain          float64 // 增益，每次只修正误差的一部分
	deadband      float64 // 死区 (Hz)
	maxCorrection float64 // 累计修正量上限 (Hz)，0 表示不限
}

func NewAFC(gain, deadband, maxCorrection float64) *AFC {
	return &AFC{
		gain:          gain,
		deadband:      deadband,
		maxCorrection: maxCorrection,
	}
}

// Update 输入本块测得的频偏 (Hz)，返回这一次应当下发的修正量
// apply 为 false 时不需要动电台
func (a *AFC) Update(errorHz float64) (float64, bool) {
	if math.IsNaN(errorHz) || math.IsInf(errorHz, 0) {
		return 0, false
	}
	// 误差在死区以内，认为已经很准了，不动它，避免震荡
	if math.Abs(errorHz) <= a.deadband {
		return 0, false
	}

	correction := errorHz * a.gain
	next := a.CurrentOffset + correction

	// 限制最大修正范围，防止跑飞
	if a.maxCorrection > 0 {
		if next > a.maxCorrection {
			next = a.maxCorrection
		} else if next < -a.maxCorrection {
			next = -a.maxCorrection
		}
	}

	correction = next - a.CurrentOffset
	if correction == 0 {
		return 0, false
	}
	a.CurrentOffset = next
	return correction, true
}

// Reset 换台或重新校准时清零
func (a *AFC) Reset() {
	a.CurrentOffset = 0
}
