package cfo

import (
	"fmt"
	"math"
)

// BiquadFilter 表示一个二阶 IIR 滤波器节
// 用于级联实现高阶滤波器
type BiquadFilter struct {
	// 系数
	a0, a1, a2, b1, b2 float64
	// 状态 (延迟线)
	z1, z2 float64
}

// Process 处理单个采样点 (转置直接 II 型)
func (f *BiquadFilter) Process(in float64) float64 {
	out := in*f.a0 + f.z1
	f.z1 = in*f.a1 - out*f.b1 + f.z2
	f.z2 = in*f.a2 - out*f.b2
	return out
}

// ButterworthFilter 多个 Biquad 节级联组成的巴特沃斯低通
type ButterworthFilter struct {
	sections []*BiquadFilter
}

// NewButterworthLowpass 创建 order 阶巴特沃斯低通 (order 必须是正偶数)
func NewButterworthLowpass(order int, sampleRate, cutoffFreq float64) (*ButterworthFilter, error) {
	if order <= 0 || order%2 != 0 {
		return nil, fmt.Errorf("butterworth order must be a positive even number, got %d", order)
	}
	if cutoffFreq <= 0 {
		return nil, fmt.Errorf("cutoff %v Hz must be positive", cutoffFreq)
	}
	// 截止频率接近 Nyquist 时 math.Tan 会趋向无穷大
	if cutoffFreq >= sampleRate*0.499 {
		cutoffFreq = sampleRate * 0.499
	}

	sections := make([]*BiquadFilter, order/2)
	fs2 := sampleRate * sampleRate

	// 双线性变换，先预畸变截止频率
	w := 2.0 * sampleRate * math.Tan(math.Pi*cutoffFreq/sampleRate)

	for i := 0; i < order/2; i++ {
		// Q 值低的节放在前面
		poleIdx := (order/2 - 1) - i
		theta := math.Pi * (2.0*float64(poleIdx) + 1.0) / (2.0 * float64(order))

		// 模拟原型极点
		pRe := -w * math.Sin(theta)
		pIm := w * math.Cos(theta)
		mag2 := pRe*pRe + pIm*pIm

		alpha := 4.0*fs2 - 4.0*sampleRate*pRe + mag2
		sections[i] = &BiquadFilter{
			a0: (w * w) / alpha,
			a1: (2.0 * w * w) / alpha,
			a2: (w * w) / alpha,
			b1: (-8.0*fs2 + 2.0*mag2) / alpha,
			b2: (4.0*fs2 + 4.0*sampleRate*pRe + mag2) / alpha,
		}
	}

	return &ButterworthFilter{sections: sections}, nil
}

// Process 处理单个采样点，通过所有级联节
func (f *ButterworthFilter) Process(in float64) float64 {
	out := in
	for _, s := range f.sections {
		out = s.Process(out)
	}
	return out
}

// Downconverter 把实数音频 (例如电台 USB 输出里的单音) 正交下变频为 I/Q
// 本振频率为 IF，输出中 IF 对应 0Hz，偏离 IF 的部分就是要估计的频偏
type Downconverter struct {
	lpfI, lpfQ *ButterworthFilter
	phase      float64
	phaseInc   float64
}

// NewDownconverter bandwidth 为低通截止频率，用来滤掉 2*IF 处的镜像
func NewDownconverter(sampleRate, ifHz, bandwidth float64) (*Downconverter, error) {
	if ifHz <= 0 || ifHz >= sampleRate/2 {
		return nil, fmt.Errorf("IF %v Hz outside (0, %v)", ifHz, sampleRate/2)
	}
	lpfI, err := NewButterworthLowpass(4, sampleRate, bandwidth)
	if err != nil {
		return nil, err
	}
	lpfQ, _ := NewButterworthLowpass(4, sampleRate, bandwidth)

	return &Downconverter{
		lpfI:     lpfI,
		lpfQ:     lpfQ,
		phaseInc: 2.0 * math.Pi * ifHz / sampleRate,
	}, nil
}

// Process 处理单个实数采样
// 乘以 e^{-jωt} 后低通；实数信号只有一半能量落在正频率，乘 2 补回
func (d *Downconverter) Process(sample float64) complex128 {
	i := d.lpfI.Process(sample * math.Cos(d.phase))
	q := d.lpfQ.Process(-sample * math.Sin(d.phase))

	d.phase += d.phaseInc
	if d.phase > 2*math.Pi {
		d.phase -= 2 * math.Pi
	}
	return complex(2*i, 2*q)
}

// ProcessBlock 处理一段 float32 音频，结果追加到 out
func (d *Downconverter) ProcessBlock(samples []float32, out []complex128) []complex128 {
	for _, s := range samples {
		out = append(out, d.Process(float64(s)))
	}
	return out
}
