package cfo

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"unsafe"

	"cfo/Estimator"

	"github.com/gen2brain/malgo"
)

// AudioCallback 定义音频数据回调函数类型
// 双声道时 samples 为交错数据: L0 R0 L1 R1 ...
type AudioCallback func(samples []float32)

// AudioCapture 管理音频捕获
type AudioCapture struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	SampleRate int
	Channels   int
	Callback   AudioCallback
}

// NewAudioCapture 创建新的音频捕获实例
func NewAudioCapture(sampleRate, channels int, targetDeviceName string, callback AudioCallback) (*AudioCapture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %v", err)
	}

	ac := &AudioCapture{
		ctx:        ctx,
		SampleRate: sampleRate,
		Channels:   channels,
		Callback:   callback,
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if targetDeviceName != "" {
		infos, err := ctx.Devices(malgo.Capture)
		if err == nil {
			for _, info := range infos {
				if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(targetDeviceName)) {
					deviceConfig.Capture.DeviceID = info.ID.Pointer()
					fmt.Printf("[AUDIO] Selected device: %s\n", info.Name())
					break
				}
			}
		}
	}

	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if ac.Callback == nil {
			return
		}
		if len(pInputSamples) == 0 {
			return
		}
		samples := unsafe.Slice((*float32)(unsafe.Pointer(&pInputSamples[0])), int(framecount)*channels)
		ac.Callback(samples)
	}

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: onRecvFrames,
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to init device: %v", err)
	}
	ac.device = device

	fmt.Printf("[AUDIO] Device initialized. Rate: %d Hz\n", device.SampleRate())

	return ac, nil
}

// Start 启动音频捕获
func (ac *AudioCapture) Start() error {
	if ac.device == nil {
		return fmt.Errorf("device not initialized")
	}
	return ac.device.Start()
}

// Stop 停止音频捕获并释放资源
func (ac *AudioCapture) Stop() {
	if ac.device != nil {
		ac.device.Uninit()
		ac.device = nil
	}
	if ac.ctx != nil {
		_ = ac.ctx.Uninit()
		ac.ctx.Free()
		ac.ctx = nil
	}
}

// BlockAssembler 把任意长度的交错 I/Q 数据切成 L 点的块
// 回调线程写入，估计线程读取；队列满时丢弃整块
type BlockAssembler struct {
	mu      sync.Mutex
	cur     Estimator.Block
	fill    int
	out     chan *Estimator.Block
	done    chan struct{}
	once    sync.Once
	dropped int
}

func NewBlockAssembler(queue int) *BlockAssembler {
	return &BlockAssembler{
		out:  make(chan *Estimator.Block, queue),
		done: make(chan struct{}),
	}
}

// Push 追加交错的 I/Q 数据，奇数长度时最后一个值被忽略
func (a *BlockAssembler) Push(interleaved []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i+1 < len(interleaved); i += 2 {
		a.push(complex(float64(interleaved[i]), float64(interleaved[i+1])))
	}
}

// PushComplex 追加已经是复数的采样
func (a *BlockAssembler) PushComplex(samples []complex128) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, v := range samples {
		a.push(v)
	}
}

func (a *BlockAssembler) push(v complex128) {
	a.cur[a.fill] = v
	a.fill++
	if a.fill < Estimator.L {
		return
	}
	blk := a.cur
	a.fill = 0
	select {
	case a.out <- &blk:
	default:
		// 块之间没有状态，丢一整块不会破坏后续估计
		a.dropped++
		if a.dropped%100 == 1 {
			log.Printf("[AUDIO] estimator is behind, dropped %d blocks", a.dropped)
		}
	}
}

// Dropped 因为队列满而丢弃的块数
func (a *BlockAssembler) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// ReadBlock 阻塞直到有完整的块或者已关闭
func (a *BlockAssembler) ReadBlock(block *Estimator.Block) error {
	select {
	case blk := <-a.out:
		*block = *blk
		return nil
	case <-a.done:
		return io.EOF
	}
}

// Interrupt 唤醒阻塞中的 ReadBlock，可重复调用
func (a *BlockAssembler) Interrupt() {
	a.once.Do(func() { close(a.done) })
}

func (a *BlockAssembler) Close() error {
	a.Interrupt()
	return nil
}

// AudioSource 从声卡读取 I/Q
// ifHz 为 0 时按双声道 I/Q 采集 (左声道 I，右声道 Q)；
// 否则按单声道实数音频采集，并以 ifHz 为本振下变频
type AudioSource struct {
	*BlockAssembler
	capture *AudioCapture
	dc      *Downconverter
	scratch []complex128
}

// NewAudioSource 打开声卡并开始捕获
func NewAudioSource(sampleRate int, deviceName string, ifHz, bandwidth float64) (*AudioSource, error) {
	src := &AudioSource{BlockAssembler: NewBlockAssembler(16)}

	channels := 2
	callback := src.BlockAssembler.Push
	if ifHz > 0 {
		dc, err := NewDownconverter(float64(sampleRate), ifHz, bandwidth)
		if err != nil {
			return nil, err
		}
		src.dc = dc
		channels = 1
		callback = src.pushReal
		log.Printf("[AUDIO] mono input, downconverting at %.1f Hz (bw %.0f Hz)", ifHz, bandwidth)
	}

	capture, err := NewAudioCapture(sampleRate, channels, deviceName, callback)
	if err != nil {
		return nil, err
	}
	if err := capture.Start(); err != nil {
		capture.Stop()
		return nil, fmt.Errorf("failed to start audio capture: %v", err)
	}
	src.capture = capture
	return src, nil
}

// pushReal 只在音频回调线程里调用
func (s *AudioSource) pushReal(samples []float32) {
	s.scratch = s.dc.ProcessBlock(samples, s.scratch[:0])
	s.PushComplex(s.scratch)
}

func (s *AudioSource) Close() error {
	s.capture.Stop()
	return s.BlockAssembler.Close()
}
