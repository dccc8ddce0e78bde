package cfo

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"cfo/Estimator"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrInsufficientInput 输入在一个块的中间就结束了
var ErrInsufficientInput = errors.New("insufficient input")

// BlockSource 定义块输入源接口
// 每次 ReadBlock 填满一个 L 点的块；正常结束返回 io.EOF
type BlockSource interface {
	ReadBlock(block *Estimator.Block) error
	Close() error
}

// interruptible 输入源可以从另一个 goroutine 唤醒阻塞的 ReadBlock
type interruptible interface {
	Interrupt()
}

// pairScanner 按空白分隔读取 "re im" 数值对
// 不要求每行恰好一对，只看数值的先后顺序
type pairScanner struct {
	sc   *bufio.Scanner
	line int
}

func newPairScanner(r io.Reader) *pairScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)
	return &pairScanner{sc: sc}
}

func (p *pairScanner) next() (float64, error) {
	if !p.sc.Scan() {
		if err := p.sc.Err(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	p.line++
	tok := p.sc.Text()
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("value #%d: cannot parse %q: %v", p.line, tok, err)
	}
	return v, nil
}

// nextPair 读取一个复数；在实部和虚部之间结束视为不完整输入
func (p *pairScanner) nextPair() (complex128, error) {
	re, err := p.next()
	if err != nil {
		return 0, err
	}
	im, err := p.next()
	if err == io.EOF {
		return 0, fmt.Errorf("%w: dangling real part", ErrInsufficientInput)
	}
	if err != nil {
		return 0, err
	}
	return complex(re, im), nil
}

// TextSource 读取文本格式的采样文件
// 每行 "re im"，每 L 行构成一个块
type TextSource struct {
	closers []io.Closer
	scanner *pairScanner
	blocks  int
}

// NewTextSource 从任意 Reader 读取 (不负责关闭)
func NewTextSource(r io.Reader) *TextSource {
	return &TextSource{scanner: newPairScanner(r)}
}

// OpenTextSource 打开文本文件，.gz / .zst 后缀会自动解压
func OpenTextSource(path string) (*TextSource, error) {
	r, closers, err := openMaybeCompressed(path)
	if err != nil {
		return nil, err
	}
	return &TextSource{closers: closers, scanner: newPairScanner(r)}, nil
}

// ReadBlock 读满一个块
// 一个采样都没读到时返回 io.EOF，读到一部分时返回 ErrInsufficientInput
func (s *TextSource) ReadBlock(block *Estimator.Block) error {
	for n := 0; n < Estimator.L; n++ {
		v, err := s.scanner.nextPair()
		if err == io.EOF {
			if n == 0 {
				return io.EOF
			}
			return fmt.Errorf("%w: block %d has %d of %d samples", ErrInsufficientInput, s.blocks, n, Estimator.L)
		}
		if err != nil {
			return fmt.Errorf("block %d sample %d: %w", s.blocks, n, err)
		}
		block[n] = v
	}
	s.blocks++
	return nil
}

func (s *TextSource) Close() error {
	var first error
	// 从外向内关闭: 解压器在前，文件在后
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// openMaybeCompressed 根据后缀选择解压方式
// 返回的 closers 按关闭顺序排列
func openMaybeCompressed(path string) (io.Reader, []io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("gzip %s: %v", path, err)
		}
		return zr, []io.Closer{zr, f}, nil
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("zstd %s: %v", path, err)
		}
		return zr, []io.Closer{zstdCloser{zr}, f}, nil
	}
	return bufio.NewReader(f), []io.Closer{f}, nil
}

// zstd.Decoder 的 Close 没有返回值
type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}

// OpenSource 按配置创建输入源
func OpenSource(cfg *Config) (BlockSource, error) {
	switch strings.ToLower(cfg.Source.Kind) {
	case "text":
		return OpenTextSource(cfg.Source.Path)
	case "wav":
		return OpenWavIQSource(cfg.Source.Path)
	case "audio":
		return NewAudioSource(int(cfg.Source.SampleRate), cfg.Source.Device, cfg.Source.IFHz, cfg.Source.Bandwidth)
	case "tone":
		return NewToneSource(ToneConfig{
			SampleRate: cfg.Source.SampleRate,
			OffsetHz:   cfg.Source.ToneHz,
			Amplitude:  cfg.Source.ToneAmp,
			NoiseAmp:   cfg.Source.NoiseAmp,
			Seed:       cfg.Source.Seed,
			Blocks:     cfg.Source.Blocks,
		}), nil
	}
	return nil, fmt.Errorf("%w: unknown source kind %q", ErrInvalidConfig, cfg.Source.Kind)
}
