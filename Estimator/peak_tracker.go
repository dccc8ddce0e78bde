package Estimator

// Energy 返回 |v|^2，只用于比较大小
func Energy(v complex128) float64 {
	return real(v)*real(v) + imag(v)*imag(v)
}

// PeakTracker 累加增量相关项，并记录块内能量最大的累加和
// 零值可用 (float64 累加器)
type PeakTracker struct {
	accum Format

	sum        complex128
	peak       complex128
	peakEnergy float64
	peakIndex  int
	steps      int
}

func NewPeakTracker(accum Format) *PeakTracker {
	return &PeakTracker{accum: accum}
}

// Push 累加一个增量差分，返回当前累加和的能量
// 只有严格大于历史最大值时才更新峰值，相等时保留先出现的峰值
func (p *PeakTracker) Push(rs complex128) float64 {
	sum := p.sum + rs
	if p.accum != nil {
		sum = quantizeC(p.accum, sum)
	}
	p.sum = sum

	e := Energy(sum)
	if e > p.peakEnergy {
		p.peakEnergy = e
		p.peak = sum
		p.peakIndex = p.steps
	}
	p.steps++
	return e
}

// Sum 当前的滑动相关和
func (p *PeakTracker) Sum() complex128 { return p.sum }

// Peak 返回峰值记录 (值, 能量)
func (p *PeakTracker) Peak() (complex128, float64) { return p.peak, p.peakEnergy }

// PeakIndex 峰值出现的采样序号，没有任何非零能量时为 -1
func (p *PeakTracker) PeakIndex() int {
	if p.peakEnergy == 0 {
		return -1
	}
	return p.peakIndex
}

// Reset 回到块起点: 累加和与峰值记录都清零
func (p *PeakTracker) Reset() {
	p.sum = 0
	p.peak = 0
	p.peakEnergy = 0
	p.peakIndex = 0
	p.steps = 0
}

// Blend 用遗忘因子把本块峰值与上一次估计融合
// first 为 true 时直接返回 peak
// 否则 prev + forget*(peak-prev)；forget 不做范围检查，超出 [0,1] 时外推
func Blend(peak, prev complex128, forget float64, first bool) complex128 {
	return PrecisionFloat.blend(peak, prev, forget, first)
}

func (p Precision) blend(peak, prev complex128, forget float64, first bool) complex128 {
	if first {
		return peak
	}
	f := p.Forget.Quantize(forget)
	diff := quantizeC(p.Accum, peak-prev)
	step := quantizeC(p.Accum, complex(f, 0)*diff)
	return quantizeC(p.Accum, prev+step)
}
