package cfo

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/dsputils"
	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

// SpectrumAnalyzer 用复数 FFT 找 I/Q 信号的主频，正负频率都在搜索范围内
// 用来交叉检查自相关估计出的频偏
type SpectrumAnalyzer struct {
	SampleRate float64
	FFTSize    int // 补零后的长度，必须是 2 的幂

	windows map[int][]float64 // 按输入长度缓存窗函数
}

// NewSpectrumAnalyzer 创建新的频谱分析器
func NewSpectrumAnalyzer(sampleRate float64, fftSize int) *SpectrumAnalyzer {
	if !dsputils.IsPowerOf2(fftSize) {
		fftSize = int(dsputils.NextPowerOf2(fftSize))
	}
	return &SpectrumAnalyzer{
		SampleRate: sampleRate,
		FFTSize:    fftSize,
		windows:    make(map[int][]float64),
	}
}

func (sa *SpectrumAnalyzer) window(n int) []float64 {
	w, ok := sa.windows[n]
	if !ok {
		w = window.Blackman(n)
		sa.windows[n] = w
	}
	return w
}

// FindDominantOffset 返回幅度最大的频率分量 (Hz，带符号) 和对应的幅度
// 输入超过 FFTSize 时只取前 FFTSize 个点
func (sa *SpectrumAnalyzer) FindDominantOffset(samples []complex128) (float64, float64) {
	n := len(samples)
	if n == 0 {
		return 0, 0
	}
	if n > sa.FFTSize {
		n = sa.FFTSize
	}

	// 1. 加窗 (Blackman)，再补零到 FFTSize 提高频率分辨
	w := sa.window(n)
	input := make([]complex128, n)
	for i := 0; i < n; i++ {
		input[i] = samples[i] * complex(w[i], 0)
	}
	spectrum := fft.FFT(dsputils.ZeroPad(input, sa.FFTSize))

	// 2. 寻找幅度最大的点
	mags := make([]float64, len(spectrum))
	maxIndex := 0
	for i, v := range spectrum {
		mags[i] = cmplx.Abs(v)
		if mags[i] > mags[maxIndex] {
			maxIndex = i
		}
	}

	// 3. 抛物线插值，复数谱是循环的，两端的邻点绕回
	size := len(mags)
	alpha := mags[(maxIndex-1+size)%size]
	beta := mags[maxIndex]
	gamma := mags[(maxIndex+1)%size]

	delta := 0.0
	if denom := alpha - 2*beta + gamma; denom != 0 {
		delta = 0.5 * (alpha - gamma) / denom
	}

	bin := float64(maxIndex) + delta
	// 后半段是负频率
	if bin >= float64(size)/2 {
		bin -= float64(size)
	}
	return bin * sa.SampleRate / float64(size), beta
}

// BinWidth 补零后的频率分辨 (Hz)
func (sa *SpectrumAnalyzer) BinWidth() float64 {
	return sa.SampleRate / float64(sa.FFTSize)
}

// NyquistForLag 自相关估计在滞后 lag 下的无模糊范围 (±Hz)
func NyquistForLag(sampleRate float64, lag int) float64 {
	return sampleRate / (2 * float64(lag))
}

// wrapHz 把频率差折回 (-span/2, span/2]
func wrapHz(d, span float64) float64 {
	d = math.Mod(d, span)
	if d > span/2 {
		d -= span
	} else if d <= -span/2 {
		d += span
	}
	return d
}
