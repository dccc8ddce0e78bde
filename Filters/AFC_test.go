package Filters

import (
	"math"
	"testing"
)

func TestAFC_Deadband(t *testing.T) {
	afc := NewAFC(0.5, 2.0, 100)

	for _, e := range []float64{0, 1.5, -2.0, 2.0} {
		if c, ok := afc.Update(e); ok || c != 0 {
			t.Errorf("error %v inside deadband produced correction %v", e, c)
		}
	}
	if afc.CurrentOffset != 0 {
		t.Errorf("Expected no accumulated offset, got %v", afc.CurrentOffset)
	}
}

func TestAFC_GainAndAccumulate(t *testing.T) {
	afc := NewAFC(0.5, 2.0, 100)

	c, ok := afc.Update(20)
	if !ok || c != 10 {
		t.Fatalf("Expected correction 10, got %v (apply=%v)", c, ok)
	}
	c, ok = afc.Update(-8)
	if !ok || c != -4 {
		t.Fatalf("Expected correction -4, got %v (apply=%v)", c, ok)
	}
	if afc.CurrentOffset != 6 {
		t.Errorf("Expected accumulated offset 6, got %v", afc.CurrentOffset)
	}
}

func TestAFC_Clamp(t *testing.T) {
	afc := NewAFC(1.0, 0, 50)

	c, ok := afc.Update(80)
	if !ok || c != 50 {
		t.Fatalf("Expected clamped correction 50, got %v", c)
	}
	// 已经到上限，同方向的误差不再下发
	if c, ok := afc.Update(10); ok || c != 0 {
		t.Errorf("Expected no correction at the limit, got %v", c)
	}
	// 反方向仍然可以回拉
	if c, ok := afc.Update(-30); !ok || c != -30 {
		t.Errorf("Expected correction -30, got %v", c)
	}
	if afc.CurrentOffset != 20 {
		t.Errorf("Expected offset 20, got %v", afc.CurrentOffset)
	}
}

func TestAFC_ConvergesOnConstantOffset(t *testing.T) {
	// 模拟一个 40Hz 的固定频偏，电台每次按修正量移动
	afc := NewAFC(0.5, 1.0, 100)
	residual := 40.0
	for i := 0; i < 20; i++ {
		c, _ := afc.Update(residual)
		residual -= c
	}
	if math.Abs(residual) > 1.0 {
		t.Errorf("Expected residual within deadband, got %v", residual)
	}
	if math.Abs(afc.CurrentOffset-40) > 1.0 {
		t.Errorf("Expected accumulated offset near 40, got %v", afc.CurrentOffset)
	}
}

func TestAFC_IgnoresNaN(t *testing.T) {
	afc := NewAFC(0.5, 1.0, 100)
	if _, ok := afc.Update(math.NaN()); ok {
		t.Error("NaN error must not move the rig")
	}
	afc.Update(10)
	afc.Reset()
	if afc.CurrentOffset != 0 {
		t.Errorf("Reset left offset %v", afc.CurrentOffset)
	}
}
