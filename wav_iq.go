package cfo

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"cfo/Estimator"
)

// WavIQSource 读取立体声 16-bit PCM WAV 作为 I/Q 输入
// 左声道为 I，右声道为 Q
type WavIQSource struct {
	file       *os.File
	SampleRate int
	Channels   int
	DataSize   int
	dataStart  int64
	remaining  int // data chunk 中尚未读取的字节数
	blocks     int
}

// OpenWavIQSource 打开 WAV 文件并定位到 data chunk
func OpenWavIQSource(filename string) (*WavIQSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	// 读取 RIFF 头
	riffHeader := make([]byte, 12)
	if _, err := io.ReadFull(f, riffHeader); err != nil {
		f.Close()
		return nil, err
	}

	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		f.Close()
		return nil, fmt.Errorf("invalid wav file")
	}

	var channels, sampleRate, bitsPerSample, dataSize int
	var dataStart int64
	foundFmt := false
	foundData := false

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if err == io.EOF {
				break
			}
			f.Close()
			return nil, err
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		// 奇数长度的 chunk 后面有一个填充字节
		padding := int64(chunkSize % 2)

		if chunkID == "fmt " {
			if chunkSize < 16 {
				f.Close()
				return nil, fmt.Errorf("fmt chunk too small")
			}
			fmtData := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, fmtData); err != nil {
				f.Close()
				return nil, err
			}
			if padding > 0 {
				f.Seek(padding, io.SeekCurrent)
			}

			channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		} else if chunkID == "data" {
			dataSize = int(chunkSize)
			pos, _ := f.Seek(0, io.SeekCurrent)
			dataStart = pos
			foundData = true

			if foundFmt {
				break
			}
			if _, err := f.Seek(int64(chunkSize)+padding, io.SeekCurrent); err != nil {
				f.Close()
				return nil, err
			}
		} else {
			// 跳过未知 chunk
			if _, err := f.Seek(int64(chunkSize)+padding, io.SeekCurrent); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	if !foundFmt || !foundData {
		f.Close()
		return nil, fmt.Errorf("invalid wav file: missing fmt or data chunk")
	}

	if bitsPerSample != 16 {
		f.Close()
		return nil, fmt.Errorf("only 16-bit wav supported, got %d", bitsPerSample)
	}
	if channels != 2 {
		f.Close()
		return nil, fmt.Errorf("I/Q wav needs 2 channels, got %d", channels)
	}

	if _, err := f.Seek(dataStart, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return &WavIQSource{
		file:       f,
		SampleRate: sampleRate,
		Channels:   channels,
		DataSize:   dataSize,
		dataStart:  dataStart,
		remaining:  dataSize,
	}, nil
}

// ReadFrames 读取最多 count 个 I/Q 采样，归一化到 -1.0 ~ 1.0
func (r *WavIQSource) ReadFrames(count int) ([]complex128, error) {
	frameBytes := 2 * r.Channels
	want := count * frameBytes
	if want > r.remaining {
		want = r.remaining - r.remaining%frameBytes
	}
	if want <= 0 {
		return nil, io.EOF
	}

	buf := make([]byte, want)
	n, err := io.ReadFull(r.file, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	r.remaining -= n

	numFrames := n / frameBytes
	if numFrames == 0 {
		return nil, io.EOF
	}
	out := make([]complex128, numFrames)
	for i := 0; i < numFrames; i++ {
		offset := i * frameBytes
		iv := int16(binary.LittleEndian.Uint16(buf[offset : offset+2]))
		qv := int16(binary.LittleEndian.Uint16(buf[offset+2 : offset+4]))
		out[i] = complex(float64(iv)/32768.0, float64(qv)/32768.0)
	}
	return out, nil
}

// ReadBlock 读满一个块，文件末尾不足一块时返回 ErrInsufficientInput
func (r *WavIQSource) ReadBlock(block *Estimator.Block) error {
	frames, err := r.ReadFrames(Estimator.L)
	if err != nil {
		return err
	}
	if len(frames) < Estimator.L {
		return fmt.Errorf("%w: block %d has %d of %d samples", ErrInsufficientInput, r.blocks, len(frames), Estimator.L)
	}
	copy(block[:], frames)
	r.blocks++
	return nil
}

func (r *WavIQSource) Close() error {
	return r.file.Close()
}

// WavIQWriter 把 I/Q 采样写成立体声 WAV
type WavIQWriter struct {
	file       *os.File
	sampleRate int
	dataSize   int
}

// NewWavIQWriter 创建写入器，先写入占位头，Close 时回写长度
func NewWavIQWriter(filename string, sampleRate int) (*WavIQWriter, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 44)
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, err
	}

	return &WavIQWriter{
		file:       f,
		sampleRate: sampleRate,
	}, nil
}

// WriteSamples 写入 I/Q 采样，超出 ±1.0 的部分限幅
func (w *WavIQWriter) WriteSamples(samples []complex128) error {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(toPCM16(real(s))))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(toPCM16(imag(s))))
	}

	n, err := w.file.Write(buf)
	if err != nil {
		return err
	}
	w.dataSize += n
	return nil
}

// WriteBlock 写入一个完整的块
func (w *WavIQWriter) WriteBlock(block *Estimator.Block) error {
	return w.WriteSamples(block[:])
}

func toPCM16(v float64) int16 {
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	return int16(v * 32767)
}

// Close 回写 WAV 头并关闭文件
func (w *WavIQWriter) Close() error {
	const channels = 2
	totalSize := 36 + w.dataSize
	header := make([]byte, 44)

	// RIFF header
	copy(header[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(header[4:], uint32(totalSize))
	copy(header[8:], []byte("WAVE"))

	// fmt chunk
	copy(header[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(header[16:], 16)                              // Subchunk1Size (16 for PCM)
	binary.LittleEndian.PutUint16(header[20:], 1)                               // AudioFormat (1 for PCM)
	binary.LittleEndian.PutUint16(header[22:], channels)                        // NumChannels (I, Q)
	binary.LittleEndian.PutUint32(header[24:], uint32(w.sampleRate))            // SampleRate
	binary.LittleEndian.PutUint32(header[28:], uint32(w.sampleRate*channels*2)) // ByteRate
	binary.LittleEndian.PutUint16(header[32:], channels*2)                      // BlockAlign
	binary.LittleEndian.PutUint16(header[34:], 16)                              // BitsPerSample

	// data chunk
	copy(header[36:], []byte("data"))
	binary.LittleEndian.PutUint32(header[40:], uint32(w.dataSize))

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		w.file.Close()
		return err
	}
	if _, err := w.file.Write(header); err != nil {
		w.file.Close()
		return err
	}

	return w.file.Close()
}
