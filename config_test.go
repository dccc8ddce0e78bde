package cfo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cfo/Estimator"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.Verify.Iterations != Estimator.IterNum || cfg.Verify.Tolerance != Estimator.Tolerance {
		t.Errorf("Unexpected verify defaults: %+v", cfg.Verify)
	}
	if cfg.Estimator.ForgetFactor != 0.5 {
		t.Errorf("Expected forget factor 0.5, got %v", cfg.Estimator.ForgetFactor)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	yml := `
estimator:
  addressing: shift
  precision: reference
  forget_factor: 0.25
source:
  kind: tone
  tone_hz: 120
  sample_rate: 96000
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 1
`
	path := filepath.Join(t.TempDir(), "cfo.yaml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Estimator.ForgetFactor != 0.25 || cfg.Source.ToneHz != 120 || cfg.Source.SampleRate != 96000 {
		t.Errorf("Overrides not applied: %+v %+v", cfg.Estimator, cfg.Source)
	}
	// 没出现的字段保留默认值
	if cfg.MQTT.Topic != "cfo/estimate" || cfg.Verify.Iterations != Estimator.IterNum {
		t.Errorf("Defaults lost: topic %q iterations %d", cfg.MQTT.Topic, cfg.Verify.Iterations)
	}

	opts, err := cfg.EstimatorOptions()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Addressing != Estimator.Shift || opts.Precision != Estimator.PrecisionReference {
		t.Errorf("Unexpected estimator options %+v", opts)
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"forget above one":   func(c *Config) { c.Estimator.ForgetFactor = 1.01 },
		"negative forget":    func(c *Config) { c.Estimator.ForgetFactor = -0.1 },
		"unknown addressing": func(c *Config) { c.Estimator.Addressing = "bram" },
		"unknown precision":  func(c *Config) { c.Estimator.Precision = "half" },
		"unknown source":     func(c *Config) { c.Source.Kind = "sdr" },
		"missing path":       func(c *Config) { c.Source.Path = "" },
		"zero sample rate":   func(c *Config) { c.Source.SampleRate = 0 },
		"zero iterations":    func(c *Config) { c.Verify.Iterations = 0 },
		"bad qos":            func(c *Config) { c.MQTT.QoS = 3 },
		"afc without gain":   func(c *Config) { c.AFC.Enabled = true; c.AFC.Gain = 0 },
		"mqtt no timeout":    func(c *Config) { c.MQTT.Enabled = true; c.MQTT.ConnectTimeout = 0 },
		"negative holdoff":   func(c *Config) { c.AFC.HoldoffBlocks = -1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("estimator: [unclosed"), 0o644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}
