package Estimator

import (
	"fmt"
	"math"
	"strings"
)

// Format 描述一个数值字段的精度 (采样、相关值、累加器、遗忘因子)
// 实现只需要把一个实数映射到该格式可表示的最近值
type Format interface {
	Quantize(v float64) float64
	String() string
}

// Float 是不做任何量化的 float64 格式
type Float struct{}

func (Float) Quantize(v float64) float64 { return v }
func (Float) String() string             { return "float64" }

// Rounding 量化模式
type Rounding int

const (
	Truncate     Rounding = iota // 向负无穷截断 (HLS AP_TRN，默认)
	RoundNearest                 // 四舍五入到最近的量化台阶
)

// Overflow 溢出模式
type Overflow int

const (
	Wrap     Overflow = iota // 补码回绕 (HLS AP_WRAP，默认)
	Saturate                 // 饱和到最大/最小可表示值
)

// Fixed 模拟 ap_fixed<Width, Int>
// Width: 总位宽 (含符号位)
// Int:   整数位数 (含符号位)，可表示范围 [-2^(Int-1), 2^(Int-1))
// 台阶大小为 2^-(Width-Int)
type Fixed struct {
	Width    int
	Int      int
	Rounding Rounding
	Overflow Overflow
}

// Step 返回一个 LSB 对应的实数值
func (f Fixed) Step() float64 {
	return math.Ldexp(1, f.Int-f.Width)
}

// Range 返回可表示的最小值与最大值
func (f Fixed) Range() (lo, hi float64) {
	lo = -math.Ldexp(1, f.Int-1)
	hi = math.Ldexp(1, f.Int-1) - f.Step()
	return lo, hi
}

func (f Fixed) Quantize(v float64) float64 {
	scale := math.Ldexp(1, f.Width-f.Int)

	var q float64
	if f.Rounding == RoundNearest {
		q = math.Floor(v*scale + 0.5)
	} else {
		q = math.Floor(v * scale)
	}

	// 以 LSB 计数的整数范围
	lo := -math.Ldexp(1, f.Width-1)
	hi := math.Ldexp(1, f.Width-1) - 1
	if q < lo || q > hi {
		if f.Overflow == Saturate {
			if q < lo {
				q = lo
			} else {
				q = hi
			}
		} else {
			span := math.Ldexp(1, f.Width)
			q = math.Mod(q-lo, span)
			if q < 0 {
				q += span
			}
			q += lo
		}
	}
	return q / scale
}

func (f Fixed) String() string {
	return fmt.Sprintf("fixed<%d,%d>", f.Width, f.Int)
}

// Valid 检查位宽是否能用 float64 精确表示
func (f Fixed) Valid() error {
	if f.Width < 2 || f.Width > 52 {
		return fmt.Errorf("fixed width %d out of range [2,52]", f.Width)
	}
	if f.Int < 1 || f.Int > f.Width {
		return fmt.Errorf("fixed integer bits %d out of range [1,%d]", f.Int, f.Width)
	}
	return nil
}

// Precision 是估计器内部各字段的数值格式
type Precision struct {
	Sample Format // ADC 采样 (data_t)
	Corr   Format // 自相关项与差分项
	Accum  Format // 滑动相关和、峰值与输出 (accum_t)
	Forget Format // 遗忘因子 (forget_t)
}

// PrecisionFloat 全部使用 float64
var PrecisionFloat = Precision{
	Sample: Float{},
	Corr:   Float{},
	Accum:  Float{},
	Forget: Float{},
}

// PrecisionReference 对应参考实现的定点位宽:
// data_t = ap_fixed<22,1>, accum_t = forget_t = ap_fixed<24,3>
// 自相关项沿用 data_t
var PrecisionReference = Precision{
	Sample: Fixed{Width: 22, Int: 1},
	Corr:   Fixed{Width: 22, Int: 1},
	Accum:  Fixed{Width: 24, Int: 3},
	Forget: Fixed{Width: 24, Int: 3},
}

// ParsePrecision 解析预设名称: "float" / "reference"
func ParsePrecision(name string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "float", "float64":
		return PrecisionFloat, nil
	case "reference", "fixed":
		return PrecisionReference, nil
	}
	return Precision{}, fmt.Errorf("unknown precision preset %q", name)
}

// Validate 检查每个字段都已设置且定点参数合法
func (p Precision) Validate() error {
	fields := []struct {
		name string
		f    Format
	}{
		{"sample", p.Sample},
		{"corr", p.Corr},
		{"accum", p.Accum},
		{"forget", p.Forget},
	}
	for _, fd := range fields {
		if fd.f == nil {
			return fmt.Errorf("precision: %s format not set", fd.name)
		}
		if fx, ok := fd.f.(Fixed); ok {
			if err := fx.Valid(); err != nil {
				return fmt.Errorf("precision: %s: %w", fd.name, err)
			}
		}
	}
	return nil
}

func (p Precision) String() string {
	return fmt.Sprintf("sample=%s corr=%s accum=%s forget=%s", p.Sample, p.Corr, p.Accum, p.Forget)
}

// quantizeC 对实部和虚部分别量化
func quantizeC(f Format, v complex128) complex128 {
	return complex(f.Quantize(real(v)), f.Quantize(imag(v)))
}
