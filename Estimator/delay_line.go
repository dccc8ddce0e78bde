package Estimator

import (
	"fmt"
	"math/cmplx"
	"strings"
)

// Addressing 延迟线的寻址方式
// 两种方式在数值上完全等价，只是内存访问模式不同
type Addressing int

const (
	Circular Addressing = iota // 取模环形寻址，每个采样 O(1)
	Shift                      // 整体下移一格，每个采样 O(N)
)

func (a Addressing) String() string {
	switch a {
	case Circular:
		return "circular"
	case Shift:
		return "shift"
	}
	return fmt.Sprintf("Addressing(%d)", int(a))
}

// ParseAddressing 解析配置中的寻址方式名称
func ParseAddressing(s string) (Addressing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "circular", "ring":
		return Circular, nil
	case "shift":
		return Shift, nil
	}
	return 0, fmt.Errorf("unknown addressing %q", s)
}

// Storage 是固定深度的延迟存储
// Exchange 写入最新值并返回恰好 Len() 次写入之前的值；
// 写入次数不足 Len() 时返回 0 (逻辑上不存在的历史)
type Storage interface {
	Exchange(v complex128) complex128
	Reset()
	Len() int
}

// NewStorage 按寻址方式创建深度为 depth 的存储
func NewStorage(a Addressing, depth int) Storage {
	if a == Shift {
		return NewShiftStorage(depth)
	}
	return NewCircularStorage(depth)
}

// ShiftStorage 移位寄存器实现: reg[0] 永远是最旧的值
type ShiftStorage struct {
	reg []complex128
}

func NewShiftStorage(depth int) *ShiftStorage {
	return &ShiftStorage{reg: make([]complex128, depth)}
}

func (s *ShiftStorage) Exchange(v complex128) complex128 {
	old := s.reg[0]
	copy(s.reg, s.reg[1:])
	s.reg[len(s.reg)-1] = v
	return old
}

func (s *ShiftStorage) Reset() {
	for i := range s.reg {
		s.reg[i] = 0
	}
}

func (s *ShiftStorage) Len() int { return len(s.reg) }

// CircularStorage 环形缓冲区实现
// 未写满之前读出的槽位按 0 处理，不依赖缓冲区里残留的数据
type CircularStorage struct {
	reg    []complex128
	pos    int  // 下一次写入位置，同时也是最旧值所在位置
	filled bool // 是否已经写满一圈
}

func NewCircularStorage(depth int) *CircularStorage {
	return &CircularStorage{reg: make([]complex128, depth)}
}

func (c *CircularStorage) Exchange(v complex128) complex128 {
	var old complex128
	if c.filled {
		old = c.reg[c.pos]
	}
	c.reg[c.pos] = v
	c.pos++
	if c.pos == len(c.reg) {
		c.pos = 0
		c.filled = true
	}
	return old
}

func (c *CircularStorage) Reset() {
	c.pos = 0
	c.filled = false
}

func (c *CircularStorage) Len() int { return len(c.reg) }

// DelayLine 滞后 N 的自相关器
// 每输入一个采样 x[n]:
//
//	autoCorr[n] = x[n] * conj(x[n-N])
//	rs[n]       = autoCorr[n] - autoCorr[n-N]
//
// n < N 时延迟采样和延迟相关值都按 0 处理
type DelayLine struct {
	samples Storage
	corrs   Storage
	prec    Precision
}

// NewDelayLine 创建深度为 N 的延迟线
func NewDelayLine(a Addressing, prec Precision) *DelayLine {
	return &DelayLine{
		samples: NewStorage(a, N),
		corrs:   NewStorage(a, N),
		prec:    prec,
	}
}

// Step 推进一个采样，返回本步的自相关项和增量差分
func (d *DelayLine) Step(x complex128) (autoCorr, rs complex128) {
	x = quantizeC(d.prec.Sample, x)

	delayed := d.samples.Exchange(x)
	autoCorr = quantizeC(d.prec.Corr, x*cmplx.Conj(delayed))

	oldCorr := d.corrs.Exchange(autoCorr)
	rs = quantizeC(d.prec.Corr, autoCorr-oldCorr)
	return autoCorr, rs
}

// Reset 清空历史，回到块起点状态
func (d *DelayLine) Reset() {
	d.samples.Reset()
	d.corrs.Reset()
}
