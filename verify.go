package cfo

import (
	"fmt"
	"io"
	"log"
	"math"
	"math/cmplx"
	"time"

	"cfo/Estimator"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ReadGolden 读取参考输出，每行 "re im"
// count > 0 时只读取前 count 个，不足时返回 ErrInsufficientInput
func ReadGolden(r io.Reader, count int) ([]complex128, error) {
	sc := newPairScanner(r)
	var out []complex128
	for count <= 0 || len(out) < count {
		v, err := sc.nextPair()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("golden #%d: %w", len(out), err)
		}
		out = append(out, v)
	}
	if count > 0 && len(out) < count {
		return nil, fmt.Errorf("%w: golden has %d of %d values", ErrInsufficientInput, len(out), count)
	}
	return out, nil
}

// LoadGolden 从文件读取参考输出，.gz / .zst 自动解压
func LoadGolden(path string, count int) ([]complex128, error) {
	r, closers, err := openMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	return ReadGolden(r, count)
}

// VerifyOptions 比对参数，与参考测试平台一致: 遗忘因子 0.5，初值 0
type VerifyOptions struct {
	Iterations int
	Forget     float64
	Tolerance  float64
	Seed       complex128

	// 可选: 每块的估计和超差次数同时计入指标
	// SampleRate 只用于指标里的 Hz 换算
	Metrics    *Metrics
	SampleRate float64
}

func DefaultVerifyOptions() VerifyOptions {
	return VerifyOptions{
		Iterations: Estimator.IterNum,
		Forget:     0.5,
		Tolerance:  Estimator.Tolerance,
	}
}

// Mismatch 实部或虚部误差超出容差的一次迭代
type Mismatch struct {
	Iteration int
	Got       complex128
	Want      complex128
}

func (m Mismatch) String() string {
	return fmt.Sprintf("Mismatch at iteration %d: (%g, %g) vs (%g, %g)",
		m.Iteration, real(m.Got), imag(m.Got), real(m.Want), imag(m.Want))
}

// Report 一次比对的结果
type Report struct {
	RunID      string
	Iterations int
	Tolerance  float64
	Outputs    []complex128
	Golden     []complex128
	Mismatches []Mismatch

	// 每次迭代 max(|Δre|, |Δim|) 的统计
	MaxAbsError  float64
	MeanAbsError float64
	StdAbsError  float64
}

func (r *Report) Passed() bool { return len(r.Mismatches) == 0 }

// Summary 与参考测试平台的输出格式一致
func (r *Report) Summary() string {
	if r.Passed() {
		return "Test passed!"
	}
	return fmt.Sprintf("Test failed with %d mismatches", len(r.Mismatches))
}

// Verify 连续估计 Iterations 块，并与参考输出逐次比对
// 第一块走 first 分支，之后每块的输出作为下一块的 Prev
func Verify(est *Estimator.CFOEstimator, src BlockSource, golden []complex128, opts VerifyOptions) (*Report, error) {
	if opts.Iterations <= 0 {
		return nil, fmt.Errorf("%w: iterations must be positive", ErrInvalidConfig)
	}
	if len(golden) < opts.Iterations {
		return nil, fmt.Errorf("%w: golden has %d of %d values", ErrInsufficientInput, len(golden), opts.Iterations)
	}

	chain := NewChain(est, opts.Forget, opts.Seed)
	outputs := make([]complex128, 0, opts.Iterations)
	var block Estimator.Block
	for iter := 0; iter < opts.Iterations; iter++ {
		if err := src.ReadBlock(&block); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: input ended after %d of %d blocks", ErrInsufficientInput, iter, opts.Iterations)
			}
			return nil, err
		}
		start := time.Now()
		res := chain.Next(&block)
		if opts.Metrics != nil {
			elapsed := time.Since(start)
			hz := 0.0
			if opts.SampleRate > 0 {
				hz = Estimator.OffsetHz(res.Estimate, opts.SampleRate)
			}
			opts.Metrics.Observe(res, hz, elapsed)
		}
		outputs = append(outputs, res.Estimate)
	}

	report := Compare(outputs, golden[:opts.Iterations], opts.Tolerance)
	if opts.Metrics != nil {
		opts.Metrics.AddMismatches(len(report.Mismatches))
	}
	return report, nil
}

// Compare 逐项比对，实部和虚部分别检查容差
func Compare(outputs, golden []complex128, tol float64) *Report {
	n := len(outputs)
	if len(golden) < n {
		n = len(golden)
	}
	report := &Report{
		RunID:      uuid.NewString(),
		Iterations: n,
		Tolerance:  tol,
		Outputs:    outputs[:n],
		Golden:     golden[:n],
	}
	if n == 0 {
		return report
	}

	errs := make([]float64, n)
	for i := 0; i < n; i++ {
		d := outputs[i] - golden[i]
		errs[i] = math.Max(math.Abs(real(d)), math.Abs(imag(d)))
		if !Estimator.WithinTolerance(outputs[i], golden[i], tol) {
			report.Mismatches = append(report.Mismatches, Mismatch{Iteration: i, Got: outputs[i], Want: golden[i]})
		}
	}
	report.MaxAbsError = floats.Max(errs)
	report.MeanAbsError = stat.Mean(errs, nil)
	if n > 1 {
		report.StdAbsError = stat.StdDev(errs, nil)
	}
	return report
}

// PrintReport 打印比对明细
func PrintReport(r *Report, verbose bool) {
	log.Printf("[VERIFY] run %s: %d iterations, tolerance %g", r.RunID, r.Iterations, r.Tolerance)
	if verbose {
		for i, v := range r.Outputs {
			fmt.Printf("%3d  (%+.6f, %+.6f)  |v|=%.6f  arg=%+.4f\n", i, real(v), imag(v), cmplx.Abs(v), cmplx.Phase(v))
		}
	}
	for _, m := range r.Mismatches {
		fmt.Println(m.String())
	}
	log.Printf("[VERIFY] max err %.3g, mean err %.3g, std %.3g", r.MaxAbsError, r.MeanAbsError, r.StdAbsError)
	fmt.Println(r.Summary())
}
