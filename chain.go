package cfo

import (
	"cfo/Estimator"
)

// Chain 在连续的块之间传递上一次的估计
// 估计器本身是无状态的，跨块的记忆全部放在这里，并显式地作为 Prev 传入
type Chain struct {
	est     *Estimator.CFOEstimator
	forget  float64
	prev    complex128
	blocks  int
	restart bool
}

// NewChain 创建链，seed 是第一块读入的 Prev (第一块走 first 分支，不参与计算)
func NewChain(est *Estimator.CFOEstimator, forget float64, seed complex128) *Chain {
	return &Chain{est: est, forget: forget, prev: seed}
}

// Next 估计下一块，并把结果作为下一次的 Prev
func (c *Chain) Next(block *Estimator.Block) Estimator.Result {
	res := c.est.Estimate(block, Estimator.Input{
		Forget: c.forget,
		First:  c.blocks == 0 || c.restart,
		Prev:   c.prev,
	})
	c.prev = res.Estimate
	c.blocks++
	c.restart = false
	return res
}

// Restart 丢弃历史，下一块重新走 first 分支
// 电台频率改动后，改动前的估计不再代表当前的频偏
func (c *Chain) Restart() { c.restart = true }

// Blocks 已经处理的块数
func (c *Chain) Blocks() int { return c.blocks }

// Current 最近一次的估计
func (c *Chain) Current() complex128 { return c.prev }
