package cfo

import (
	"bufio"
	"fmt"
	"os"

	"cfo/Estimator"
)

// EstimateRecorder 定义估计结果的记录接口
// 系统只依赖这个接口，不依赖具体的文件操作
type EstimateRecorder interface {
	Record(block int, res Estimator.Result, offsetHz float64)
	Close()
}

// CsvFileRecorder 把每一块的估计写入 CSV
type CsvFileRecorder struct {
	file   *os.File
	writer *bufio.Writer
}

// NewCsvFileRecorder 创建 CSV 记录器并写入表头
func NewCsvFileRecorder(filename string) (*CsvFileRecorder, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(f)
	if _, err := w.WriteString("Block,EstRe,EstIm,PeakRe,PeakIm,PeakEnergy,PeakIndex,OffsetHz\n"); err != nil {
		f.Close()
		return nil, err
	}

	return &CsvFileRecorder{
		file:   f,
		writer: w,
	}, nil
}

// Record 记录一块的结果
func (d *CsvFileRecorder) Record(block int, res Estimator.Result, offsetHz float64) {
	fmt.Fprintf(d.writer, "%d,%.9g,%.9g,%.9g,%.9g,%.9g,%d,%.4f\n",
		block,
		real(res.Estimate), imag(res.Estimate),
		real(res.Peak), imag(res.Peak),
		res.PeakEnergy, res.PeakIndex, offsetHz)
}

// Close 刷新缓冲区并关闭文件
func (d *CsvFileRecorder) Close() {
	if d.writer != nil {
		d.writer.Flush()
	}
	if d.file != nil {
		d.file.Close()
	}
}

// NoOpRecorder 空实现，不记录数据时使用
type NoOpRecorder struct{}

func (d *NoOpRecorder) Record(block int, res Estimator.Result, offsetHz float64) {}
func (d *NoOpRecorder) Close()                                                   {}
