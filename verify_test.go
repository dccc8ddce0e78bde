package cfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cfo/Estimator"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// 用估计器本身生成一份参考输出
func goldenFor(t *testing.T, est *Estimator.CFOEstimator, cfg ToneConfig, iters int, forget float64) []complex128 {
	t.Helper()
	src := NewToneSource(cfg)
	chain := NewChain(est, forget, 0)
	var out []complex128
	var b Estimator.Block
	for i := 0; i < iters; i++ {
		if err := src.ReadBlock(&b); err != nil {
			t.Fatal(err)
		}
		out = append(out, chain.Next(&b).Estimate)
	}
	return out
}

func formatGolden(values []complex128) string {
	var sb strings.Builder
	for _, v := range values {
		fmt.Fprintf(&sb, "%.17g %.17g\n", real(v), imag(v))
	}
	return sb.String()
}

func verifyTone() ToneConfig {
	return ToneConfig{SampleRate: 48000, OffsetHz: 90, Amplitude: 0.1, NoiseAmp: 0.02, Seed: 5}
}

func TestVerify_PassesAgainstOwnOutput(t *testing.T) {
	est, _ := Estimator.NewCFOEstimator(Estimator.Options{})
	golden := goldenFor(t, est, verifyTone(), Estimator.IterNum, 0.5)

	// 参考文件按文本往返一次
	parsed, err := ReadGolden(strings.NewReader(formatGolden(golden)), Estimator.IterNum)
	if err != nil {
		t.Fatalf("ReadGolden failed: %v", err)
	}

	report, err := Verify(est, NewToneSource(verifyTone()), parsed, DefaultVerifyOptions())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !report.Passed() {
		t.Errorf("Expected pass, got %d mismatches: %v", len(report.Mismatches), report.Mismatches)
	}
	if report.Summary() != "Test passed!" {
		t.Errorf("Unexpected summary %q", report.Summary())
	}
	if report.MaxAbsError > 1e-12 {
		t.Errorf("Expected near-zero error, got %v", report.MaxAbsError)
	}
	if report.RunID == "" {
		t.Error("Expected a run id")
	}
}

func TestVerify_OtherAddressingAlsoPasses(t *testing.T) {
	circ, _ := Estimator.NewCFOEstimator(Estimator.Options{Addressing: Estimator.Circular})
	shift, _ := Estimator.NewCFOEstimator(Estimator.Options{Addressing: Estimator.Shift})
	golden := goldenFor(t, circ, verifyTone(), Estimator.IterNum, 0.5)

	report, err := Verify(shift, NewToneSource(verifyTone()), golden, DefaultVerifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Passed() {
		t.Errorf("Shift addressing disagrees with circular: %v", report.Mismatches)
	}
}

func TestVerify_ReportsMismatches(t *testing.T) {
	est, _ := Estimator.NewCFOEstimator(Estimator.Options{})
	golden := goldenFor(t, est, verifyTone(), Estimator.IterNum, 0.5)

	// 只改虚部，且只超出容差一点
	golden[3] += complex(0, 2*Estimator.Tolerance)
	golden[10] += complex(Estimator.Tolerance/2, 0) // 在容差以内

	report, err := Verify(est, NewToneSource(verifyTone()), golden, DefaultVerifyOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Mismatches) != 1 || report.Mismatches[0].Iteration != 3 {
		t.Fatalf("Expected a single mismatch at iteration 3, got %v", report.Mismatches)
	}
	if !strings.HasPrefix(report.Mismatches[0].String(), "Mismatch at iteration 3") {
		t.Errorf("Unexpected mismatch text %q", report.Mismatches[0].String())
	}
	if report.Passed() {
		t.Error("Report with mismatches must not pass")
	}
}

func TestVerify_CountsMismatchesInMetrics(t *testing.T) {
	est, _ := Estimator.NewCFOEstimator(Estimator.Options{})
	golden := goldenFor(t, est, verifyTone(), Estimator.IterNum, 0.5)
	golden[5] += complex(3*Estimator.Tolerance, 0)
	golden[20] -= complex(0, 3*Estimator.Tolerance)

	m := NewMetrics()
	opts := DefaultVerifyOptions()
	opts.Metrics = m
	opts.SampleRate = 48000

	report, err := Verify(est, NewToneSource(verifyTone()), golden, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Mismatches) != 2 {
		t.Fatalf("Expected 2 mismatches, got %v", report.Mismatches)
	}
	if got := testutil.ToFloat64(m.mismatchesTotal); got != 2 {
		t.Errorf("Expected cfo_verify_mismatches_total 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.blocksTotal); got != Estimator.IterNum {
		t.Errorf("Expected %d blocks observed, got %v", Estimator.IterNum, got)
	}
	last := Estimator.OffsetHz(report.Outputs[len(report.Outputs)-1], 48000)
	if got := testutil.ToFloat64(m.offsetHz); got != last {
		t.Errorf("Expected offset gauge %v, got %v", last, got)
	}
}

func TestVerify_InsufficientInput(t *testing.T) {
	est, _ := Estimator.NewCFOEstimator(Estimator.Options{})
	golden := make([]complex128, Estimator.IterNum)

	short := verifyTone()
	short.Blocks = 3
	if _, err := Verify(est, NewToneSource(short), golden, DefaultVerifyOptions()); !errors.Is(err, ErrInsufficientInput) {
		t.Errorf("Expected ErrInsufficientInput for short input, got %v", err)
	}
	if _, err := Verify(est, NewToneSource(verifyTone()), golden[:5], DefaultVerifyOptions()); !errors.Is(err, ErrInsufficientInput) {
		t.Errorf("Expected ErrInsufficientInput for short golden, got %v", err)
	}
}

func TestReadGolden(t *testing.T) {
	values, err := ReadGolden(strings.NewReader("1 2\n3 -4\n\n5e-1 6\n"), 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []complex128{complex(1, 2), complex(3, -4), complex(0.5, 6)}
	if len(values) != len(want) {
		t.Fatalf("Expected %d values, got %d", len(want), len(values))
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("value %d: expected %v, got %v", i, want[i], values[i])
		}
	}

	if _, err := ReadGolden(strings.NewReader("1 2\n"), 2); !errors.Is(err, ErrInsufficientInput) {
		t.Errorf("Expected ErrInsufficientInput, got %v", err)
	}
}

func TestLoadGolden_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden.txt")
	os.WriteFile(path, []byte("0.25 -0.5\n0.125 0.75\n"), 0o644)

	values, err := LoadGolden(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if values[1] != complex(0.125, 0.75) {
		t.Errorf("Unexpected value %v", values[1])
	}
}

func TestCompare_Statistics(t *testing.T) {
	out := []complex128{0, 1, 2}
	gold := []complex128{0, complex(1, 0.5), complex(2.25, 0)}
	r := Compare(out, gold, 1)

	if r.MaxAbsError != 0.5 {
		t.Errorf("Expected max error 0.5, got %v", r.MaxAbsError)
	}
	if r.MeanAbsError != 0.25 {
		t.Errorf("Expected mean error 0.25, got %v", r.MeanAbsError)
	}
	if !r.Passed() {
		t.Error("All errors are within tolerance 1")
	}
}
