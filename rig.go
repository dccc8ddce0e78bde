package cfo

import (
	"fmt"
	"log"
	"math"

	"cfo/Filters"
)

// Rig 电台频率控制接口，CIVClient 实现了它
type Rig interface {
	ReadFrequency() (int, error)
	SetFrequency(hz int) error
	ReadMode() (string, error)
}

// 这些模式下本振在信号上方，调高电台频率时音调反而升高
var invertedModes = map[string]bool{
	"LSB":  true,
	"CW-R": true,
	"RTTY": true,
}

// DialSign 返回修正信号频偏时电台频率应当移动的方向
// USB 一侧: 信号比预期高 x Hz，把电台也调高 x Hz；LSB 一侧相反
func DialSign(mode string) int {
	if invertedModes[mode] {
		return -1
	}
	return 1
}

// RigCorrector 把测得的频偏通过 AFC 平滑后改写电台频率
type RigCorrector struct {
	rig Rig
	afc *Filters.AFC

	pending float64 // 不足 1Hz 的修正先攒着
	lastSet int     // 上次写入的频率，0 表示还没写过
}

func NewRigCorrector(rig Rig, afc *Filters.AFC) *RigCorrector {
	return &RigCorrector{rig: rig, afc: afc}
}

// Apply 输入本块测得的频偏 (Hz)，返回电台频率实际改动的 Hz 数
func (r *RigCorrector) Apply(offsetHz float64) (int, error) {
	correction, apply := r.afc.Update(offsetHz)
	if !apply {
		return 0, nil
	}
	r.pending += correction
	step := int(math.Round(r.pending))
	if step == 0 {
		return 0, nil
	}

	freq, err := r.rig.ReadFrequency()
	if err != nil {
		return 0, fmt.Errorf("read frequency: %w", err)
	}
	if r.lastSet != 0 && freq != r.lastSet {
		// 操作员换了台，之前累计的修正量作废
		log.Printf("[RIG] dial moved %d Hz -> %d Hz, AFC reset", r.lastSet, freq)
		r.Reset()
		return 0, nil
	}
	mode, err := r.rig.ReadMode()
	if err != nil {
		return 0, fmt.Errorf("read mode: %w", err)
	}

	dial := DialSign(mode) * step
	if err := r.rig.SetFrequency(freq + dial); err != nil {
		return 0, fmt.Errorf("set frequency: %w", err)
	}
	r.pending -= float64(step)
	r.lastSet = freq + dial
	log.Printf("[RIG] %s %d Hz -> %d Hz (measured %+.1f Hz, total %+.1f Hz)", mode, freq, freq+dial, offsetHz, r.afc.CurrentOffset)
	return dial, nil
}

// Reset 清掉累计修正量，下一次修正从当前电台频率重新开始
func (r *RigCorrector) Reset() {
	r.afc.Reset()
	r.pending = 0
	r.lastSet = 0
}
