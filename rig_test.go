package cfo

import (
	"errors"
	"testing"

	"cfo/Filters"
)

type fakeRig struct {
	freq    int
	mode    string
	sets    []int
	failSet bool
}

func (f *fakeRig) ReadFrequency() (int, error) { return f.freq, nil }

func (f *fakeRig) ReadMode() (string, error) {
	if f.mode == "" {
		return "USB", nil
	}
	return f.mode, nil
}

func (f *fakeRig) SetFrequency(hz int) error {
	if f.failSet {
		return errors.New("serial write failed")
	}
	f.freq = hz
	f.sets = append(f.sets, hz)
	return nil
}

func TestRigCorrector_AppliesSmoothedCorrection(t *testing.T) {
	rig := &fakeRig{freq: 7050000}
	rc := NewRigCorrector(rig, Filters.NewAFC(0.5, 2.0, 100))

	step, err := rc.Apply(30)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if step != 15 || rig.freq != 7050015 {
		t.Errorf("Expected +15 Hz to 7050015, got %+d to %d", step, rig.freq)
	}

	// 死区以内不动电台
	if step, _ := rc.Apply(1); step != 0 || len(rig.sets) != 1 {
		t.Errorf("Expected no retune inside deadband, got step %d, sets %v", step, rig.sets)
	}
}

func TestRigCorrector_AccumulatesSubHertz(t *testing.T) {
	rig := &fakeRig{freq: 14074000}
	rc := NewRigCorrector(rig, Filters.NewAFC(0.1, 0, 100))

	// 每次 0.3Hz，第二次累计到 0.6 才四舍五入成 1Hz
	rc.Apply(3)
	if len(rig.sets) != 0 {
		t.Fatalf("Expected no retune for 0.3 Hz, got %v", rig.sets)
	}
	rc.Apply(3)
	if len(rig.sets) != 1 || rig.freq != 14074001 {
		t.Fatalf("Expected one retune to 14074001, got %v", rig.sets)
	}
}

func TestRigCorrector_PropagatesErrors(t *testing.T) {
	rig := &fakeRig{freq: 7050000, failSet: true}
	rc := NewRigCorrector(rig, Filters.NewAFC(1, 0, 100))
	if _, err := rc.Apply(10); err == nil {
		t.Error("Expected error from failing rig")
	}
}

func TestRigCorrector_LowerSidebandMovesDialDown(t *testing.T) {
	rig := &fakeRig{freq: 7050000, mode: "LSB"}
	rc := NewRigCorrector(rig, Filters.NewAFC(0.5, 2.0, 100))

	step, err := rc.Apply(30)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if step != -15 || rig.freq != 7049985 {
		t.Errorf("Expected -15 Hz to 7049985 on LSB, got %+d to %d", step, rig.freq)
	}
}

func TestDialSign(t *testing.T) {
	cases := map[string]int{
		"USB": 1, "CW": 1, "RTTY-R": 1, "FM": 1,
		"LSB": -1, "CW-R": -1, "RTTY": -1,
	}
	for mode, want := range cases {
		if got := DialSign(mode); got != want {
			t.Errorf("%s: expected %+d, got %+d", mode, want, got)
		}
	}
}

func TestRigCorrector_ResetsWhenDialMoved(t *testing.T) {
	rig := &fakeRig{freq: 7050000}
	rc := NewRigCorrector(rig, Filters.NewAFC(1, 0, 100))

	if step, _ := rc.Apply(40); step != 40 {
		t.Fatalf("Expected +40, got %+d", step)
	}

	// 操作员手动换台
	rig.freq = 14074000
	step, err := rc.Apply(30)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if step != 0 || rig.freq != 14074000 || len(rig.sets) != 1 {
		t.Errorf("Expected no retune after manual dial change, got step %+d, sets %v", step, rig.sets)
	}

	// 累计量已清零，上限 100 重新可用
	if step, _ := rc.Apply(90); step != 90 || rig.freq != 14074090 {
		t.Errorf("Expected +90 from fresh AFC, got %+d to %d", step, rig.freq)
	}
}
