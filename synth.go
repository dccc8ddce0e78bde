package cfo

import (
	"fmt"
	"io"
	"math"
	"math/cmplx"
	"math/rand"
	"text/tabwriter"

	"cfo/Estimator"
)

// ToneConfig 合成 I/Q 单音的参数
type ToneConfig struct {
	SampleRate float64 // Hz
	OffsetHz   float64 // 载波相对于标称频率的偏移
	Amplitude  float64
	Phase      float64 // 初始相位 (rad)
	NoiseAmp   float64 // 每个分量的高斯白噪声标准差 (AWGN)
	QSBRate    float64 // 衰落频率 (Hz)，例如 0.5Hz
	QSBDepth   float64 // 衰落深度 (0.0 - 1.0)
	Seed       int64
	Blocks     int // 生成的块数，0 表示不限
}

// ToneSource 生成带频偏的复指数信号，相位跨块连续
type ToneSource struct {
	cfg      ToneConfig
	rng      *rand.Rand
	omega    float64 // 每个采样的相位增量
	phase    float64
	qsbPhase float64
	qsbInc   float64
	blocks   int
	closed   bool
}

func NewToneSource(cfg ToneConfig) *ToneSource {
	return &ToneSource{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		omega:  2.0 * math.Pi * cfg.OffsetHz / cfg.SampleRate,
		phase:  cfg.Phase,
		qsbInc: 2.0 * math.Pi * cfg.QSBRate / cfg.SampleRate,
	}
}

// ReadBlock 生成下一块
func (s *ToneSource) ReadBlock(block *Estimator.Block) error {
	if s.closed || (s.cfg.Blocks > 0 && s.blocks >= s.cfg.Blocks) {
		return io.EOF
	}
	for n := range block {
		amp := s.cfg.Amplitude
		if s.cfg.QSBDepth > 0 {
			// 让幅度在 (1-depth) 到 1.0 之间波动
			amp *= 1.0 - s.cfg.QSBDepth*(0.5+0.5*math.Sin(s.qsbPhase))
			s.qsbPhase += s.qsbInc
		}
		v := cmplx.Rect(amp, s.phase)
		if s.cfg.NoiseAmp > 0 {
			v += complex(s.rng.NormFloat64()*s.cfg.NoiseAmp, s.rng.NormFloat64()*s.cfg.NoiseAmp)
		}
		block[n] = v
		s.phase = math.Mod(s.phase+s.omega, 2*math.Pi)
	}
	s.blocks++
	return nil
}

// Omega 每个采样的相位增量 (rad/sample)
func (s *ToneSource) Omega() float64 { return s.omega }

func (s *ToneSource) Close() error {
	s.closed = true
	return nil
}

// NoiseAmpForSNR 按信噪比换算每个分量的噪声标准差
// 复信号功率 amp^2，复噪声功率 2*sigma^2
func NoiseAmpForSNR(amp, snrDB float64) float64 {
	pNoise := amp * amp / math.Pow(10, snrDB/10.0)
	return math.Sqrt(pNoise / 2)
}

// SynthRow 合成模式下一块的对照结果
type SynthRow struct {
	Block    int
	LagHz    float64 // 自相关估计 (经遗忘因子平滑)
	FFTHz    float64 // 单块 FFT 主频
	Aliased  bool    // 两者相差超过一个无模糊区间的一半
	PeakIdx  int
	Estimate complex128
}

// CrossCheck 用合成单音同时跑自相关估计和 FFT，对照两者
func CrossCheck(est *Estimator.CFOEstimator, src BlockSource, forget, sampleRate float64, blocks int) ([]SynthRow, error) {
	chain := NewChain(est, forget, 0)
	sa := NewSpectrumAnalyzer(sampleRate, 8*Estimator.L)
	span := 2 * NyquistForLag(sampleRate, Estimator.N)

	var rows []SynthRow
	var block Estimator.Block
	for i := 0; blocks <= 0 || i < blocks; i++ {
		if err := src.ReadBlock(&block); err != nil {
			if err == io.EOF {
				break
			}
			return rows, err
		}
		res := chain.Next(&block)
		lag := Estimator.OffsetHz(res.Estimate, sampleRate)
		fftHz, _ := sa.FindDominantOffset(block[:])
		rows = append(rows, SynthRow{
			Block:    i,
			LagHz:    lag,
			FFTHz:    fftHz,
			Aliased:  math.Abs(fftHz-lag) > span/2 && math.Abs(wrapHz(fftHz-lag, span)) < span/4,
			PeakIdx:  res.PeakIndex,
			Estimate: res.Estimate,
		})
	}
	return rows, nil
}

// PrintSynthTable 以表格形式输出对照结果
func PrintSynthTable(w io.Writer, rows []SynthRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCK\tLAG(Hz)\tFFT(Hz)\tDIFF(Hz)\tPEAK@\tSTATUS")
	fmt.Fprintln(tw, "-----\t-------\t-------\t--------\t-----\t------")
	for _, r := range rows {
		status := "OK"
		if r.Aliased {
			status = "ALIASED"
		}
		fmt.Fprintf(tw, "%d\t%+.2f\t%+.2f\t%+.2f\t%d\t%s\n", r.Block, r.LagHz, r.FFTHz, r.FFTHz-r.LagHz, r.PeakIdx, status)
	}
	tw.Flush()
}
