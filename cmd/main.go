package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"cfo"
	"cfo/Estimator"

	"github.com/spf13/pflag"
)

func main() {
	// 1. 解析命令行参数
	var (
		configFile = pflag.StringP("config", "c", "", "YAML configuration file")
		mode       = pflag.StringP("mode", "m", "verify", "run | verify | synth")
		source     = pflag.StringP("source", "s", "", "Sample source kind (text, wav, audio, tone)")
		input      = pflag.StringP("input", "i", "", "Input sample file (text / .gz / .zst / wav)")
		golden     = pflag.StringP("golden", "g", "", "Reference output file for verify mode")
		forget     = pflag.Float64P("forget", "f", 0.5, "Forgetting factor in [0,1]")
		addressing = pflag.String("addressing", "", "Delay line addressing (circular, shift)")
		precision  = pflag.String("precision", "", "Arithmetic precision (float, reference)")
		iterations = pflag.IntP("iterations", "n", Estimator.IterNum, "Number of blocks to verify / synthesize")
		ifHz       = pflag.Float64("if", 0, "Downconvert mono audio at this frequency in Hz (audio source, 0 = stereo I/Q)")
		freq       = pflag.Float64("freq", 100, "Synthetic tone offset in Hz (synth mode)")
		snr        = pflag.Float64("snr", 30, "Synthetic tone SNR in dB (synth mode)")
		csvPath    = pflag.String("csv", "", "Write per-block estimates to CSV")
		record     = pflag.String("record", "", "Record audio I/Q to wav (run mode, audio source)")
		quiet      = pflag.BoolP("quiet", "q", false, "Quiet mode - minimal output")
		verbose    = pflag.BoolP("verbose", "v", false, "Print every estimate in verify mode")
	)
	pflag.Parse()

	// 2. 加载配置，命令行显式给出的参数覆盖配置文件
	cfg := cfo.DefaultConfig()
	if *configFile != "" {
		loaded, err := cfo.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Config: %v", err)
		}
		cfg = loaded
	}
	changed := pflag.CommandLine.Changed
	if changed("source") {
		cfg.Source.Kind = *source
	}
	if changed("input") {
		cfg.Source.Path = *input
	}
	if changed("golden") {
		cfg.Verify.Golden = *golden
	}
	if changed("forget") {
		cfg.Estimator.ForgetFactor = *forget
	}
	if changed("addressing") {
		cfg.Estimator.Addressing = *addressing
	}
	if changed("precision") {
		cfg.Estimator.Precision = *precision
	}
	if changed("iterations") {
		cfg.Verify.Iterations = *iterations
	}
	if changed("if") {
		cfg.Source.IFHz = *ifHz
	}
	if changed("csv") {
		cfg.Debug.CSVPath = *csvPath
	}
	if changed("record") {
		cfg.Debug.RecordPath = *record
	}
	if *mode == "synth" {
		cfg.Source.Kind = "tone"
		cfg.Source.ToneHz = *freq
		cfg.Source.NoiseAmp = cfo.NoiseAmpForSNR(cfg.Source.ToneAmp, *snr)
		cfg.Source.Blocks = cfg.Verify.Iterations
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config: %v", err)
	}

	var err error
	switch *mode {
	case "run":
		err = runSystem(cfg, !*quiet)
	case "verify":
		err = runVerify(cfg, *verbose)
	case "synth":
		err = runSynth(cfg)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func runSystem(cfg *cfo.Config, verbose bool) error {
	system, err := cfo.NewCFOSystem(cfg)
	if err != nil {
		return err
	}
	system.Verbose = verbose

	// 收到退出信号时取消
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := system.Start(ctx); err != nil {
		return fmt.Errorf("system start failed: %w", err)
	}
	err = system.Wait()
	fmt.Println("\nShutting down...")
	system.Stop()
	return err
}

func runVerify(cfg *cfo.Config, verbose bool) error {
	opts, err := cfg.EstimatorOptions()
	if err != nil {
		return err
	}
	est, err := Estimator.NewCFOEstimator(opts)
	if err != nil {
		return err
	}

	src, err := cfo.OpenSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	golden, err := cfo.LoadGolden(cfg.Verify.Golden, cfg.Verify.Iterations)
	if err != nil {
		return err
	}

	vopts := cfo.VerifyOptions{
		Iterations: cfg.Verify.Iterations,
		Forget:     cfg.Estimator.ForgetFactor,
		Tolerance:  cfg.Verify.Tolerance,
		SampleRate: cfg.Source.SampleRate,
	}
	if cfg.Metrics.Enabled {
		// 比对结束后指标服务随函数返回一起关闭
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		vopts.Metrics = cfo.NewMetrics()
		go func() {
			if err := vopts.Metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				log.Printf("[METRICS] server stopped: %v", err)
			}
		}()
	}

	report, err := cfo.Verify(est, src, golden, vopts)
	if err != nil {
		return err
	}
	cfo.PrintReport(report, verbose)
	if !report.Passed() {
		return fmt.Errorf("%d mismatches", len(report.Mismatches))
	}
	return nil
}

func runSynth(cfg *cfo.Config) error {
	opts, err := cfg.EstimatorOptions()
	if err != nil {
		return err
	}
	est, err := Estimator.NewCFOEstimator(opts)
	if err != nil {
		return err
	}
	src, err := cfo.OpenSource(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	fmt.Printf("Tone %+.1f Hz @ %.0f Hz, unambiguous range ±%.1f Hz\n",
		cfg.Source.ToneHz, cfg.Source.SampleRate, cfo.NyquistForLag(cfg.Source.SampleRate, Estimator.N))
	rows, err := cfo.CrossCheck(est, src, cfg.Estimator.ForgetFactor, cfg.Source.SampleRate, cfg.Verify.Iterations)
	if err != nil {
		return err
	}
	cfo.PrintSynthTable(os.Stdout, rows)
	return nil
}
