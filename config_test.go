package planararm

import (
	"strings"
	"testing"
)

func TestValidateDefaults(t *testing.T) {
	cfg := DefaultConfig()

	_, _, err := cfg.Validate("")
	if err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}

	if cfg.PWMFreqHz != 25000 {
		t.Errorf("expected default PWM frequency 25000, got %d", cfg.PWMFreqHz)
	}
	if cfg.Gain != 8 {
		t.Errorf("expected default gain 8, got %.2f", cfg.Gain)
	}
	if cfg.ToleranceM != 6e-4 {
		t.Errorf("expected default tolerance 6e-4, got %g", cfg.ToleranceM)
	}
	if cfg.GPIOBasePath != "/sys/class/gpio" {
		t.Errorf("unexpected GPIO base path %q", cfg.GPIOBasePath)
	}
	if cfg.PWMChipPath != "/sys/class/pwm/pwmchip0" {
		t.Errorf("unexpected PWM chip path %q", cfg.PWMChipPath)
	}
	for i, jc := range cfg.Joints {
		if jc.EncoderRate != 4 {
			t.Errorf("joint %d: expected default encoder rate 4, got %d", i, jc.EncoderRate)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Config { return DefaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"no joints",
			func(c *Config) { c.Joints = nil },
			"at least one joint",
		},
		{
			"three joints",
			func(c *Config) { c.Joints = append(c.Joints, c.Joints[0]) },
			"1 or 2 joints",
		},
		{
			"bad encoder rate",
			func(c *Config) { c.Joints[0].EncoderRate = 3 },
			"encoder_rate",
		},
		{
			"zero segments",
			func(c *Config) { c.Joints[0].SegmentsPerRev = 0 },
			"segments_per_rev",
		},
		{
			"zero link length",
			func(c *Config) { c.Joints[1].LinkLengthM = 0 },
			"link_length_m",
		},
		{
			"negative pin",
			func(c *Config) { c.Joints[0].EncoderAPin = -1 },
			"non-negative",
		},
		{
			"duplicate encoder pin",
			func(c *Config) { c.Joints[1].EncoderAPin = c.Joints[0].EncoderBPin },
			"already claimed",
		},
		{
			"duplicate pwm pin",
			func(c *Config) { c.Joints[1].MotorPWMB = c.Joints[0].MotorPWMA },
			"already claimed",
		},
		{
			"bad min duty",
			func(c *Config) { c.Joints[0].MinDutyPct = 100 },
			"min_duty_pct",
		},
		{
			"bad gain",
			func(c *Config) { c.Gain = -1 },
			"gain",
		},
		{
			"bad initial duty",
			func(c *Config) { c.InitialDutyPct = 120 },
			"initial_duty_pct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			_, _, err := cfg.Validate("")
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLinkLengths(t *testing.T) {
	cfg := DefaultConfig()
	lengths := cfg.LinkLengths()
	if len(lengths) != 2 {
		t.Fatalf("expected 2 link lengths, got %d", len(lengths))
	}
	for i, l := range lengths {
		if l != 0.015 {
			t.Errorf("link %d: expected 0.015, got %g", i, l)
		}
	}
}
