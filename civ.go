package cfo

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

const (
	CIV_PREAMBLE  = 0xFE
	CIV_END       = 0xFD
	CIV_ADDR_7300 = 0x94 // ICOM 7300 默认地址
	CIV_ADDR_PC   = 0xE0 // 控制器(PC) 默认地址
	CIV_OK        = 0xFB
	CIV_NG        = 0xFA
)

// 5 字节 BCD 能表示的最大频率
const maxCIVFrequency int64 = 9999999999

// SerialPort 定义串口操作接口，方便测试 Mock
type SerialPort interface {
	io.ReadWriteCloser
}

// CIVClient 处理与 ICOM 电台的通信
type CIVClient struct {
	Port     string
	BaudRate int
	conn     SerialPort
}

// NewCIVClient 创建新的 CI-V 客户端
func NewCIVClient(port string, baudRate int) *CIVClient {
	return &CIVClient{
		Port:     port,
		BaudRate: baudRate,
	}
}

// Open 打开串口连接
func (c *CIVClient) Open() error {
	config := &serial.Config{
		Name:        c.Port,
		Baud:        c.BaudRate,
		ReadTimeout: time.Millisecond * 500,
	}
	s, err := serial.OpenPort(config)
	if err != nil {
		return err
	}
	c.conn = s
	return nil
}

// Close 关闭串口连接
func (c *CIVClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SendCommand 发送 CI-V 命令
func (c *CIVClient) SendCommand(cmd byte, subCmd []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	// 构造帧: FE FE [To] [From] [Cmd] [SubCmd...] FD
	frame := []byte{CIV_PREAMBLE, CIV_PREAMBLE, CIV_ADDR_7300, CIV_ADDR_PC, cmd}
	if len(subCmd) > 0 {
		frame = append(frame, subCmd...)
	}
	frame = append(frame, CIV_END)

	_, err := c.conn.Write(frame)
	return err
}

// SetFrequency 设置工作频率 (Hz)
// Cmd 0x05: Set operating frequency，数据为 5 字节 BCD，低位在前
func (c *CIVClient) SetFrequency(hz int) error {
	if hz < 0 || int64(hz) > maxCIVFrequency {
		return fmt.Errorf("frequency %d out of range", hz)
	}
	if err := c.SendCommand(0x05, frequencyToBCD(hz)); err != nil {
		return err
	}
	// 电台以 FB (OK) / FA (NG) 应答
	resp, err := c.readAck()
	if err != nil {
		return err
	}
	if resp != CIV_OK {
		return fmt.Errorf("radio rejected frequency %d (0x%02X)", hz, resp)
	}
	return nil
}

// ReadFrequency 读取当前频率 (Hz)
func (c *CIVClient) ReadFrequency() (int, error) {
	// Cmd 0x03: Read operating frequency
	if err := c.SendCommand(0x03, nil); err != nil {
		return 0, err
	}

	resp, err := c.readResponse(0x03)
	if err != nil {
		return 0, err
	}

	// 解析 BCD 编码的频率数据
	// 响应格式: FE FE E0 94 03 [d1 d2 d3 d4 d5] FD
	// 数据部分是 5 字节 BCD，低位在前
	// 例如 7.050.00 MHz -> 00 00 50 07 00
	if len(resp) < 5 {
		return 0, fmt.Errorf("invalid frequency data length")
	}

	data := resp // 已经是数据部分
	freq := 0
	multiplier := 1

	// ICOM 频率数据通常是 5 字节，从低位到高位
	for i := 0; i < 5 && i < len(data); i++ {
		val := bcdToDecimal(data[i])
		freq += val * multiplier
		multiplier *= 100
	}

	return freq, nil
}

// ReadMode 读取当前模式 (LSB, USB, CW, etc.)
func (c *CIVClient) ReadMode() (string, error) {
	// Cmd 0x04: Read operating mode
	if err := c.SendCommand(0x04, nil); err != nil {
		return "", err
	}

	resp, err := c.readResponse(0x04)
	if err != nil {
		return "", err
	}

	if len(resp) < 1 {
		return "", fmt.Errorf("invalid mode data")
	}

	if name, ok := civModes[resp[0]]; ok {
		return name, nil
	}
	return fmt.Sprintf("Unknown(0x%02X)", resp[0]), nil
}

// 模式映射表，RigCorrector 按模式决定修正方向
var civModes = map[byte]string{
	0x00: "LSB", 0x01: "USB", 0x02: "AM", 0x03: "CW",
	0x04: "RTTY", 0x05: "FM", 0x07: "CW-R", 0x08: "RTTY-R",
	0x17: "DV",
}

// readResponse 读取并解析响应
func (c *CIVClient) readResponse(expectedCmd byte) ([]byte, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	buf := make([]byte, 1024)
	n, err := c.conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("connection closed")
		}
		// 串口读取超时也可能返回 err，视库实现而定
		// 这里简单处理
	}
	if n == 0 {
		return nil, fmt.Errorf("timeout or no data")
	}

	data := buf[:n]
	// 简单的帧查找逻辑
	// 寻找 FE FE E0 94 [Cmd] ... FD
	// 注意：串口可能会回显我们发送的指令，需要过滤

	// 查找目标帧头: FE FE [To=PC] [From=7300] [Cmd]
	header := []byte{CIV_PREAMBLE, CIV_PREAMBLE, CIV_ADDR_PC, CIV_ADDR_7300, expectedCmd}
	idx := bytes.Index(data, header)
	if idx == -1 {
		// 可能是回显，或者分包了（这里简化处理，假设一次读完或主要部分在buffer里）
		// 实际生产代码需要更健壮的 buffer 缓存机制
		return nil, fmt.Errorf("response header not found in: %s", hex.EncodeToString(data))
	}

	// 截取从 header 开始的数据
	frame := data[idx:]
	endIdx := bytes.IndexByte(frame, CIV_END)
	if endIdx == -1 {
		return nil, fmt.Errorf("frame end not found")
	}

	// 提取数据部分: Header(5 bytes) ... Data ... End(1 byte)
	// Header: FE FE E0 94 Cmd
	if endIdx <= 5 {
		return []byte{}, nil // 无数据
	}

	return frame[5:endIdx], nil
}

// readAck 读取 FE FE E0 94 [FB|FA] FD 应答
func (c *CIVClient) readAck() (byte, error) {
	if c.conn == nil {
		return 0, ErrNotConnected
	}
	buf := make([]byte, 256)
	n, err := c.conn.Read(buf)
	if n == 0 {
		if err == io.EOF {
			return 0, fmt.Errorf("connection closed")
		}
		if err != nil {
			return 0, fmt.Errorf("read ack: %w", err)
		}
		return 0, fmt.Errorf("timeout or no data")
	}
	data := buf[:n]
	header := []byte{CIV_PREAMBLE, CIV_PREAMBLE, CIV_ADDR_PC, CIV_ADDR_7300}
	for {
		idx := bytes.Index(data, header)
		if idx == -1 || idx+len(header) >= len(data) {
			return 0, fmt.Errorf("ack not found in: %s", hex.EncodeToString(buf[:n]))
		}
		code := data[idx+len(header)]
		if code == CIV_OK || code == CIV_NG {
			return code, nil
		}
		data = data[idx+len(header):]
	}
}

func bcdToDecimal(b byte) int {
	return int((b>>4)*10 + (b & 0x0F))
}

// frequencyToBCD 把频率编码成 5 字节 BCD，低位在前
// 例如 7.050.00 MHz -> 00 00 50 07 00
func frequencyToBCD(hz int) []byte {
	out := make([]byte, 5)
	for i := 0; i < 5; i++ {
		two := hz % 100
		out[i] = byte(two/10)<<4 | byte(two%10)
		hz /= 100
	}
	return out
}
