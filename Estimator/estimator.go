// Package Estimator 实现基于滞后自相关的残余载波频偏 (CFO) 估计
//
// 每次调用处理一个固定长度 (L) 的块:
//  1. 延迟线计算每个采样的自相关增量
//  2. 增量累加成滑动相关和，记录能量最大的那个值
//  3. 块结束后用遗忘因子与上一块的估计融合
//
// 估计器在调用之间不保留任何状态，跨块的记忆只通过 Input.Prev 传入
package Estimator

import (
	"fmt"
	"math"
	"math/cmplx"
)

const (
	N         = 128  // 自相关滞后 / 窗口长度
	L         = 512  // 每块采样数
	IterNum   = 48   // 参考测试平台的连续块数
	Tolerance = 1e-4 // 与参考输出比较时实部/虚部各自的容差
)

// Block 一块输入采样，固定长度保证调用方不可能传入短块
type Block [L]complex128

// Input 每块的三个标量控制输入
type Input struct {
	Forget float64    // 遗忘因子，名义范围 [0,1]
	First  bool       // 第一块: 跳过融合，直接输出峰值
	Prev   complex128 // 上一块的输出 (First 为 true 时不参与计算)
}

// Result 一次估计的输出
type Result struct {
	Estimate   complex128 // 融合后的 CFO 估计 (下一块的 Prev)
	Peak       complex128 // 本块能量最大的滑动相关和
	PeakEnergy float64
	PeakIndex  int        // 峰值所在采样序号，全零块为 -1
	Sum        complex128 // 块结束时的滑动相关和
}

// Options 估计器配置
type Options struct {
	Addressing Addressing
	Precision  Precision
}

// CFOEstimator 只持有不可变配置，可以被多个 goroutine 同时使用
type CFOEstimator struct {
	opts Options
}

// NewCFOEstimator 创建估计器，Precision 未设置时使用 float64
func NewCFOEstimator(opts Options) (*CFOEstimator, error) {
	if opts.Precision.Sample == nil && opts.Precision.Corr == nil &&
		opts.Precision.Accum == nil && opts.Precision.Forget == nil {
		opts.Precision = PrecisionFloat
	}
	if err := opts.Precision.Validate(); err != nil {
		return nil, err
	}
	if opts.Addressing != Circular && opts.Addressing != Shift {
		return nil, fmt.Errorf("invalid addressing %v", opts.Addressing)
	}
	return &CFOEstimator{opts: opts}, nil
}

// Options 返回当前配置
func (e *CFOEstimator) Options() Options { return e.opts }

// Estimate 处理一个块并返回新的估计
// 延迟线、累加器和峰值记录都在本次调用内创建，调用结束即丢弃
func (e *CFOEstimator) Estimate(block *Block, in Input) Result {
	dl := NewDelayLine(e.opts.Addressing, e.opts.Precision)
	pt := NewPeakTracker(e.opts.Precision.Accum)

	// ACCUMULATING: 按到达顺序消费全部 L 个采样
	for n := 0; n < L; n++ {
		_, rs := dl.Step(block[n])
		pt.Push(rs)
	}

	// FINALIZING: 所有采样处理完之后才读取标量输入
	peak, energy := pt.Peak()
	return Result{
		Estimate:   e.opts.Precision.blend(peak, in.Prev, in.Forget, in.First),
		Peak:       peak,
		PeakEnergy: energy,
		PeakIndex:  pt.PeakIndex(),
		Sum:        pt.Sum(),
	}
}

// Phase 估计值的相位 (弧度)，等于 N 个采样内累积的相位旋转
func (r Result) Phase() float64 {
	return cmplx.Phase(r.Estimate)
}

// DigitalFrequency 把估计值换算为数字频率 (rad/sample)
// 无模糊范围为 ±π/N
func DigitalFrequency(est complex128) float64 {
	return cmplx.Phase(est) / N
}

// OffsetHz 把估计值换算为频偏 (Hz)，无模糊范围为 ±sampleRate/(2N)
func OffsetHz(est complex128, sampleRate float64) float64 {
	return DigitalFrequency(est) * sampleRate / (2 * math.Pi)
}

// WithinTolerance 实部和虚部分别比较
func WithinTolerance(got, want complex128, tol float64) bool {
	return math.Abs(real(got)-real(want)) <= tol && math.Abs(imag(got)-imag(want)) <= tol
}
