package cfo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"cfo/Estimator"
	"cfo/Filters"

	"github.com/google/uuid"
)

// CFOSystem 管理频偏估计系统的生命周期
// 输入源 -> 估计链 -> 记录 / 指标 / MQTT / 电台修正
type CFOSystem struct {
	cfg   *Config
	runID string

	// 组件
	estimator  *Estimator.CFOEstimator
	chain      *Chain
	source     BlockSource
	recorder   EstimateRecorder
	metrics    *Metrics
	mqtt       *MQTTPublisher
	civClient  *CIVClient
	rig        *RigCorrector
	wavWriter  *WavIQWriter
	sampleRate float64

	// 状态
	Verbose     bool
	lastDropped int
	rigHold     int  // 修正后还要跳过的块数
	recordFail  bool // 录音写失败后不再写

	// 回调，每块估计完成后调用
	OnEstimate func(block int, res Estimator.Result, offsetHz float64)

	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	stopOnce sync.Once
}

// NewCFOSystem 创建系统实例，只做参数检查，不打开任何外部资源
func NewCFOSystem(cfg *Config) (*CFOSystem, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.EstimatorOptions()
	if err != nil {
		return nil, err
	}
	est, err := Estimator.NewCFOEstimator(opts)
	if err != nil {
		return nil, err
	}
	return &CFOSystem{
		cfg:        cfg,
		runID:      uuid.NewString(),
		estimator:  est,
		sampleRate: cfg.Source.SampleRate,
		recorder:   &NoOpRecorder{},
	}, nil
}

// SetSource 使用外部提供的输入源 (设置后不再按配置打开)
func (s *CFOSystem) SetSource(src BlockSource) {
	s.source = src
}

// SetRig 使用外部提供的电台 (设置后不再按配置打开串口)
// AFC 参数仍取自配置
func (s *CFOSystem) SetRig(rig Rig) {
	afc := Filters.NewAFC(s.cfg.AFC.Gain, s.cfg.AFC.Deadband, s.cfg.AFC.MaxCorrection)
	s.rig = NewRigCorrector(rig, afc)
}

func (s *CFOSystem) RunID() string { return s.runID }

// Estimator 返回当前使用的估计器
func (s *CFOSystem) Estimator() *Estimator.CFOEstimator { return s.estimator }

// open 初始化输入源和各个输出端
func (s *CFOSystem) open(ctx context.Context) error {
	// 1. 输入源
	if s.source == nil {
		src, err := OpenSource(s.cfg)
		if err != nil {
			return fmt.Errorf("failed to open source: %w", err)
		}
		s.source = src
	}
	if wav, ok := s.source.(*WavIQSource); ok {
		// wav 文件以文件头的采样率为准
		s.sampleRate = float64(wav.SampleRate)
	}
	log.Printf("[CFO] run %s: source=%s rate=%.0fHz forget=%.3f addressing=%s precision=%s",
		s.runID, s.cfg.Source.Kind, s.sampleRate, s.cfg.Estimator.ForgetFactor,
		s.estimator.Options().Addressing, s.estimator.Options().Precision)

	s.chain = NewChain(s.estimator, s.cfg.Estimator.ForgetFactor, 0)

	// 2. 调试输出
	if s.cfg.Debug.CSVPath != "" {
		rec, err := NewCsvFileRecorder(s.cfg.Debug.CSVPath)
		if err != nil {
			return fmt.Errorf("failed to create csv file: %w", err)
		}
		s.recorder = rec
	}
	if s.cfg.Debug.RecordPath != "" {
		if _, ok := s.source.(*AudioSource); ok {
			w, err := NewWavIQWriter(s.cfg.Debug.RecordPath, int(s.sampleRate))
			if err != nil {
				return fmt.Errorf("failed to create wav file: %w", err)
			}
			s.wavWriter = w
			log.Printf("[AUDIO] Recording I/Q to %s", s.cfg.Debug.RecordPath)
		}
	}

	// 3. 指标
	if s.cfg.Metrics.Enabled {
		s.metrics = NewMetrics()
		go func() {
			if err := s.metrics.Serve(ctx, s.cfg.Metrics.Listen); err != nil {
				log.Printf("[METRICS] server stopped: %v", err)
			}
		}()
	}

	// 4. MQTT，连不上只告警
	if s.cfg.MQTT.Enabled {
		pub, err := NewMQTTPublisher(s.cfg, s.runID)
		if err != nil {
			log.Printf("[MQTT] Warning: %v", err)
		} else {
			s.mqtt = pub
		}
	}

	// 5. 电台，打不开串口时关闭 AFC 继续运行
	if s.cfg.AFC.Enabled && s.rig == nil {
		s.civClient = NewCIVClient(s.cfg.Rig.Port, s.cfg.Rig.Baud)
		log.Printf("[RIG] Connecting to radio on %s...", s.cfg.Rig.Port)
		if err := s.civClient.Open(); err != nil {
			log.Printf("[RIG] Warning: Could not open serial port: %v", err)
			s.civClient = nil
		} else {
			afc := Filters.NewAFC(s.cfg.AFC.Gain, s.cfg.AFC.Deadband, s.cfg.AFC.MaxCorrection)
			s.rig = NewRigCorrector(s.civClient, afc)
		}
	}
	return nil
}

// Start 打开所有组件并在后台运行估计循环
func (s *CFOSystem) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := s.open(ctx); err != nil {
		cancel()
		s.release()
		return err
	}
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		s.err = s.loop(ctx)
	}()
	// 声卡输入会一直阻塞在 ReadBlock，取消时需要单独唤醒
	if src, ok := s.source.(interruptible); ok {
		go func() {
			select {
			case <-ctx.Done():
				src.Interrupt()
			case <-s.done:
			}
		}()
	}
	return nil
}

// Wait 等待估计循环结束 (输入耗尽或被取消)
func (s *CFOSystem) Wait() error {
	if s.done == nil {
		return nil
	}
	<-s.done
	return s.err
}

// Run 同步运行直到输入耗尽，适合文件输入
func (s *CFOSystem) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	err := s.Wait()
	s.Stop()
	return err
}

// Stop 停止系统并释放资源
func (s *CFOSystem) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.release()
}

func (s *CFOSystem) release() {
	s.stopOnce.Do(func() {
		if s.source != nil {
			s.source.Close()
		}
		if s.wavWriter != nil {
			log.Println("[AUDIO] Saving recording...")
			if err := s.wavWriter.Close(); err != nil {
				log.Printf("[AUDIO] failed to save recording: %v", err)
			}
		}
		s.recorder.Close()
		s.mqtt.Disconnect()
		if s.civClient != nil {
			s.civClient.Close()
		}
		if s.chain != nil {
			log.Printf("[CFO] run %s: %d blocks processed", s.runID, s.chain.Blocks())
		}
	})
}

func (s *CFOSystem) loop(ctx context.Context) error {
	var block Estimator.Block
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := s.source.ReadBlock(&block); err != nil {
			if errors.Is(err, io.EOF) {
				log.Println("[CFO] End of input.")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.process(&block)
	}
}

// 内部：处理一块
func (s *CFOSystem) process(block *Estimator.Block) {
	if s.wavWriter != nil && !s.recordFail {
		if err := s.wavWriter.WriteBlock(block); err != nil {
			log.Printf("[AUDIO] recording stopped: %v", err)
			s.recordFail = true
		}
	}

	// 修正后等待电台和声卡缓冲里的旧数据过去，再让估计链从头开始
	if s.rigHold > 0 {
		s.rigHold--
		if s.rigHold == 0 {
			s.chain.Restart()
		}
	}

	start := time.Now()
	res := s.chain.Next(block)
	elapsed := time.Since(start)

	idx := s.chain.Blocks() - 1
	hz := Estimator.OffsetHz(res.Estimate, s.sampleRate)

	s.recorder.Record(idx, res, hz)
	if s.metrics != nil {
		s.metrics.Observe(res, hz, elapsed)
		if a, ok := s.source.(*AudioSource); ok {
			if d := a.Dropped(); d > s.lastDropped {
				s.metrics.AddDropped(d - s.lastDropped)
				s.lastDropped = d
			}
		}
	}
	if s.mqtt != nil {
		if err := s.mqtt.Publish(idx, res, hz); err != nil && idx%100 == 0 {
			log.Printf("[MQTT] %v", err)
		}
	}
	if s.rig != nil && s.rigHold == 0 {
		step, err := s.rig.Apply(hz)
		if err != nil {
			log.Printf("[RIG] %v", err)
		} else if step != 0 {
			if s.cfg.AFC.HoldoffBlocks > 0 {
				s.rigHold = s.cfg.AFC.HoldoffBlocks
			} else {
				s.chain.Restart()
			}
		}
	}
	if s.Verbose {
		fmt.Printf("[CFO] block %4d  est=(%+.6f, %+.6f)  offset=%+8.2f Hz  peak@%d\n",
			idx, real(res.Estimate), imag(res.Estimate), hz, res.PeakIndex)
	}
	if s.OnEstimate != nil {
		s.OnEstimate(idx, res, hz)
	}
}
