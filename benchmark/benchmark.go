package main

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"cfo"
	"cfo/Estimator"

	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ============================================================================
// 1. 测试用例 (Test Cases)
// ============================================================================

type TestCase struct {
	Name       string
	OffsetHz   float64
	SNR        float64 // dB，+Inf 表示无噪声
	QSBRate    float64
	QSBDepth   float64
	Addressing Estimator.Addressing
	Precision  string
}

func buildCases() []TestCase {
	var cases []TestCase
	levels := []struct {
		name     string
		snr      float64
		qsbRate  float64
		qsbDepth float64
	}{
		{"Level 1 (Clean)", math.Inf(1), 0, 0},
		{"Level 2 (Medium)", 10, 0, 0},
		{"Level 2 (Fading)", 10, 0.5, 0.6},
		{"Level 3 (Hard)", 0, 1.0, 0.8},
	}
	for _, lv := range levels {
		for _, hz := range []float64{-150, -20, 5, 80, 180} {
			for _, addr := range []Estimator.Addressing{Estimator.Circular, Estimator.Shift} {
				for _, prec := range []string{"float", "reference"} {
					cases = append(cases, TestCase{
						Name:       lv.name,
						OffsetHz:   hz,
						SNR:        lv.snr,
						QSBRate:    lv.qsbRate,
						QSBDepth:   lv.qsbDepth,
						Addressing: addr,
						Precision:  prec,
					})
				}
			}
		}
	}
	return cases
}

// ============================================================================
// 2. 评分 (Scoring)
// ============================================================================

type Score struct {
	RMSHz     float64 // 收敛后的均方根误差
	BiasHz    float64
	WorstHz   float64
	PerBlock  time.Duration
	Converged bool
}

// runCase 连续估计 blocks 块，丢弃前 warmup 块再统计误差
func runCase(tc TestCase, sampleRate, forget float64, blocks, warmup int, seed int64) (Score, error) {
	prec, err := Estimator.ParsePrecision(tc.Precision)
	if err != nil {
		return Score{}, err
	}
	est, err := Estimator.NewCFOEstimator(Estimator.Options{Addressing: tc.Addressing, Precision: prec})
	if err != nil {
		return Score{}, err
	}

	// 定点格式的整数位只有 1 位，幅度要留出余量
	amp := 0.05
	noise := 0.0
	if !math.IsInf(tc.SNR, 1) {
		noise = cfo.NoiseAmpForSNR(amp, tc.SNR)
	}
	src := cfo.NewToneSource(cfo.ToneConfig{
		SampleRate: sampleRate,
		OffsetHz:   tc.OffsetHz,
		Amplitude:  amp,
		NoiseAmp:   noise,
		QSBRate:    tc.QSBRate,
		QSBDepth:   tc.QSBDepth,
		Seed:       seed,
		Blocks:     blocks,
	})

	chain := cfo.NewChain(est, forget, 0)
	var errs []float64
	var block Estimator.Block
	start := time.Now()
	for i := 0; i < blocks; i++ {
		if err := src.ReadBlock(&block); err != nil {
			return Score{}, err
		}
		res := chain.Next(&block)
		if i >= warmup {
			errs = append(errs, Estimator.OffsetHz(res.Estimate, sampleRate)-tc.OffsetHz)
		}
	}
	elapsed := time.Since(start)

	sq := make([]float64, len(errs))
	abs := make([]float64, len(errs))
	for i, e := range errs {
		sq[i] = e * e
		abs[i] = math.Abs(e)
	}
	s := Score{
		RMSHz:    math.Sqrt(stat.Mean(sq, nil)),
		BiasHz:   stat.Mean(errs, nil),
		WorstHz:  floats.Max(abs),
		PerBlock: elapsed / time.Duration(blocks),
	}
	s.Converged = s.RMSHz < 2.0
	return s, nil
}

// ============================================================================
// 3. 基准测试套件 (Benchmark Harness)
// ============================================================================

func RunBenchmark(sampleRate, forget float64, blocks, warmup int, seed int64) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tOFFSET(Hz)\tSNR(dB)\tQSB\tADDR\tPREC\tRMS(Hz)\tBIAS(Hz)\tWORST(Hz)\tus/BLOCK\tSTATUS")
	fmt.Fprintln(w, "-----\t----------\t-------\t---\t----\t----\t-------\t--------\t---------\t--------\t------")

	for _, tc := range buildCases() {
		score, err := runCase(tc, sampleRate, forget, blocks, warmup, seed)
		if err != nil {
			fmt.Fprintf(w, "%s\t%+.0f\t-\t-\t%s\t%s\tERROR: %v\n", tc.Name, tc.OffsetHz, tc.Addressing, tc.Precision, err)
			continue
		}
		status := "PASS"
		if !score.Converged {
			status = "FAIL"
		}
		snr := "inf"
		if !math.IsInf(tc.SNR, 1) {
			snr = fmt.Sprintf("%.0f", tc.SNR)
		}
		fmt.Fprintf(w, "%s\t%+.0f\t%s\t%.1f/%.1f\t%s\t%s\t%.3f\t%+.3f\t%.3f\t%.1f\t%s\n",
			tc.Name, tc.OffsetHz, snr, tc.QSBRate, tc.QSBDepth, tc.Addressing, tc.Precision,
			score.RMSHz, score.BiasHz, score.WorstHz, float64(score.PerBlock.Nanoseconds())/1000, status)
	}
	w.Flush()
}

// ============================================================================
// Main Entry
// ============================================================================

func main() {
	sampleRate := pflag.Float64("rate", 48000, "Sample rate in Hz")
	forget := pflag.Float64("forget", 0.5, "Forgetting factor")
	blocks := pflag.Int("blocks", Estimator.IterNum, "Blocks per case")
	warmup := pflag.Int("warmup", 8, "Blocks ignored before scoring")
	seed := pflag.Int64("seed", 1, "Noise seed")
	pflag.Parse()

	if *warmup >= *blocks {
		fmt.Fprintln(os.Stderr, "warmup must be smaller than blocks")
		os.Exit(2)
	}

	fmt.Println("Starting CFO Estimator Benchmark Suite...")
	fmt.Printf("Unambiguous range ±%.1f Hz, N=%d, L=%d\n", cfo.NyquistForLag(*sampleRate, Estimator.N), Estimator.N, Estimator.L)
	fmt.Println("========================================")

	RunBenchmark(*sampleRate, *forget, *blocks, *warmup, *seed)

	fmt.Println("\nBenchmark Complete.")
}
