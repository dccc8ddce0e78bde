package cfo

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cfo/Estimator"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置项取值非法
var ErrInvalidConfig = errors.New("invalid config")

// Config 结构体用于集中管理估计器、输入源和各个输出端的参数
type Config struct {
	// --- 估计器 ---
	Estimator struct {
		Addressing   string  `yaml:"addressing"`    // 延迟线寻址方式: circular (O(1)) / shift (O(N))
		Precision    string  `yaml:"precision"`     // 数值精度预设: float / reference (ap_fixed 位宽)
		ForgetFactor float64 `yaml:"forget_factor"` // 遗忘因子 (0.0 - 1.0)。1 表示只看当前块，0 表示完全保持历史
	} `yaml:"estimator"`

	// --- 输入源 ---
	// 负责把采样组织成固定长度的块
	Source struct {
		Kind       string  `yaml:"kind"`        // text / wav / audio / tone
		Path       string  `yaml:"path"`        // text/wav 文件路径，text 支持 .gz / .zst
		SampleRate float64 `yaml:"sample_rate"` // 采样率 (Hz)，用于把估计换算成 Hz。wav 文件以文件头为准
		Device     string  `yaml:"device"`      // audio 模式下的声卡名称 (模糊匹配)
		IFHz       float64 `yaml:"if_hz"`       // audio 模式: 0 为左右声道 I/Q；>0 为单声道音频，以此频率下变频
		Bandwidth  float64 `yaml:"bandwidth"`   // 下变频低通截止频率 (Hz)
		ToneHz     float64 `yaml:"tone_hz"`     // tone 模式: 合成信号的频偏 (Hz)
		ToneAmp    float64 `yaml:"tone_amp"`    // tone 模式: 幅度
		NoiseAmp   float64 `yaml:"noise_amp"`   // tone 模式: 每个分量的高斯噪声标准差，0 为无噪声
		Seed       int64   `yaml:"seed"`        // tone 模式: 噪声随机种子
		Blocks     int     `yaml:"blocks"`      // tone 模式: 生成的块数，0 表示不限
	} `yaml:"source"`

	// --- 参考比对 ---
	Verify struct {
		Golden     string  `yaml:"golden"`     // 参考输出文件 (每行 "re im")
		Iterations int     `yaml:"iterations"` // 连续估计的块数
		Tolerance  float64 `yaml:"tolerance"`  // 实部/虚部允许的绝对误差
	} `yaml:"verify"`

	// --- AFC ---
	// 把估计出的频偏换算为电台的频率修正量
	AFC struct {
		Enabled       bool    `yaml:"enabled"`
		Gain          float64 `yaml:"gain"`           // 每次只修正误差的一部分 (例如 0.5)，抑制噪声抖动
		Deadband      float64 `yaml:"deadband"`       // 死区 (Hz)，误差小于此值不修正
		MaxCorrection float64 `yaml:"max_correction"` // 累计修正量上限 (Hz)，防止跑飞
		HoldoffBlocks int     `yaml:"holdoff_blocks"` // 每次修正后跳过的块数，之后估计链从头开始
	} `yaml:"afc"`

	// --- 电台 CI-V ---
	Rig struct {
		Port string `yaml:"port"`
		Baud int    `yaml:"baud"`
	} `yaml:"rig"`

	// --- Prometheus ---
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"` // 例如 ":9108"
	} `yaml:"metrics"`

	// --- MQTT ---
	MQTT struct {
		Enabled  bool   `yaml:"enabled"`
		Broker   string `yaml:"broker"` // 例如 tcp://localhost:1883
		Topic    string `yaml:"topic"`
		ClientID string `yaml:"client_id"` // 为空时自动生成
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		QoS      byte   `yaml:"qos"`

		// 启动时等待连接的时间，超时后不阻塞，转为后台重连
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
	} `yaml:"mqtt"`

	// --- 调试输出 ---
	Debug struct {
		CSVPath    string `yaml:"csv_path"`    // 每块估计结果写入 CSV，空为不记录
		RecordPath string `yaml:"record_path"` // audio 模式下把原始 I/Q 录成 wav
	} `yaml:"debug"`
}

// DefaultConfig 返回与参考测试平台一致的默认配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Estimator.Addressing = "circular"
	cfg.Estimator.Precision = "float"
	cfg.Estimator.ForgetFactor = 0.5

	cfg.Source.Kind = "text"
	cfg.Source.Path = "data4cfoEst_in.txt"
	cfg.Source.SampleRate = 48000
	cfg.Source.Device = "USB Audio CODEC"
	cfg.Source.Bandwidth = 400
	cfg.Source.ToneAmp = 0.1

	cfg.Verify.Golden = "acCFOKeep_out.txt"
	cfg.Verify.Iterations = Estimator.IterNum
	cfg.Verify.Tolerance = Estimator.Tolerance

	cfg.AFC.Gain = 0.5
	cfg.AFC.Deadband = 2.0
	cfg.AFC.MaxCorrection = 100.0
	cfg.AFC.HoldoffBlocks = 2

	cfg.Rig.Port = "/dev/tty.SLAB_USBtoUART"
	cfg.Rig.Baud = 115200

	cfg.Metrics.Listen = ":9108"

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.Topic = "cfo/estimate"
	cfg.MQTT.ConnectTimeout = 5 * time.Second

	return cfg
}

// LoadConfig 读取 YAML 配置，未出现的字段保留默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查取值范围
// 估计器本身不校验遗忘因子，保证它在 [0,1] 内是调用方 (这里) 的责任
func (c *Config) Validate() error {
	if _, err := c.EstimatorOptions(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f := c.Estimator.ForgetFactor; f < 0 || f > 1 {
		return fmt.Errorf("%w: forget_factor %v not in [0,1]", ErrInvalidConfig, f)
	}
	switch strings.ToLower(c.Source.Kind) {
	case "text", "wav":
		if c.Source.Path == "" {
			return fmt.Errorf("%w: source.path required for %s source", ErrInvalidConfig, c.Source.Kind)
		}
	case "audio", "tone":
	default:
		return fmt.Errorf("%w: unknown source kind %q", ErrInvalidConfig, c.Source.Kind)
	}
	if c.Source.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate must be positive", ErrInvalidConfig)
	}
	if c.Source.IFHz < 0 || c.Source.IFHz >= c.Source.SampleRate/2 {
		return fmt.Errorf("%w: if_hz must be in [0, sample_rate/2)", ErrInvalidConfig)
	}
	if c.Source.IFHz > 0 && c.Source.Bandwidth <= 0 {
		return fmt.Errorf("%w: bandwidth must be positive", ErrInvalidConfig)
	}
	if c.Verify.Iterations <= 0 {
		return fmt.Errorf("%w: verify.iterations must be positive", ErrInvalidConfig)
	}
	if c.Verify.Tolerance < 0 {
		return fmt.Errorf("%w: verify.tolerance must not be negative", ErrInvalidConfig)
	}
	if c.AFC.Enabled && c.AFC.Gain <= 0 {
		return fmt.Errorf("%w: afc.gain must be positive", ErrInvalidConfig)
	}
	if c.AFC.HoldoffBlocks < 0 {
		return fmt.Errorf("%w: afc.holdoff_blocks must not be negative", ErrInvalidConfig)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker required", ErrInvalidConfig)
	}
	if c.MQTT.Enabled && c.MQTT.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: mqtt.connect_timeout must be positive", ErrInvalidConfig)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalidConfig)
	}
	return nil
}

// EstimatorOptions 把字符串配置转换为估计器参数
func (c *Config) EstimatorOptions() (Estimator.Options, error) {
	addr, err := Estimator.ParseAddressing(c.Estimator.Addressing)
	if err != nil {
		return Estimator.Options{}, err
	}
	prec, err := Estimator.ParsePrecision(c.Estimator.Precision)
	if err != nil {
		return Estimator.Options{}, err
	}
	return Estimator.Options{Addressing: addr, Precision: prec}, nil
}
