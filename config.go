package planararm

import (
	"fmt"

	"go.viam.com/rdk/logging"
)

// Default electrical characteristics. The pin map matches the reference
// wiring of a 2-joint arm on an Intel Galileo gen2 class board:
//
//	+==========+=========+=======================+
//	|  SYS_FS  |   LABEL |           DESCRIPTION |
//	+==========+=========+=======================+
//	|  gpio24  |     IO6 |       QE Channel A #1 |
//	|  gpio25  |    IO11 |       QE Channel B #1 |
//	|  gpio26  |     IO8 |       QE Channel A #2 |
//	|  gpio27  |     IO7 |       QE Channel B #2 |
//	|    pwm3  |     IO3 |   Motor DC Ctrl CW #1 |
//	|    pwm7  |    IO10 |  Motor DC Ctrl CCW #1 |
//	|    pwm1  |     IO9 |   Motor DC Ctrl CW #2 |
//	|    pwm5  |     IO5 |  Motor DC Ctrl CCW #2 |
//	+==========+=========+=======================+
const (
	defaultPWMFreqHz   = 25000
	defaultEncoderRate = 4
	defaultGain        = 8.0

	// Two points closer than this per axis are physically indistinguishable.
	defaultToleranceM = 6e-4

	defaultGPIOBasePath = "/sys/class/gpio"
	defaultPWMChipPath  = "/sys/class/pwm/pwmchip0"
)

// JointConfig describes one revolute joint: the quadrature encoder pins and
// geometry, and the two H-bridge PWM channels that drive its DC motor.
type JointConfig struct {
	EncoderAPin int `json:"encoder_a_pin"`
	EncoderBPin int `json:"encoder_b_pin"`

	// SegmentsPerRev is the encoder counts per full revolution, e.g. 64*29
	// for a 64 CPR encoder on a 29:1 gearbox.
	SegmentsPerRev int `json:"segments_per_rev"`

	// EncoderRate selects the decode rate: 2 counts rising edges only, 4
	// counts both edges (default).
	EncoderRate int `json:"encoder_rate,omitempty"`

	// MotorPWMA drives the bridge clockwise, MotorPWMB counter-clockwise.
	MotorPWMA int `json:"motor_pwm_a"`
	MotorPWMB int `json:"motor_pwm_b"`

	// LinkLengthM is the physical length of the link in meters.
	LinkLengthM float64 `json:"link_length_m"`

	// MinDutyPct optionally provides a previously measured deadband so the
	// movement calibration sweep can be skipped for this joint.
	MinDutyPct float64 `json:"min_duty_pct,omitempty"`
}

// Config configures a planar arm: an ordered set of joints (root first)
// plus the PWM and controller parameters shared by all of them.
type Config struct {
	Joints []JointConfig `json:"joints"`

	PWMFreqHz      int     `json:"pwm_freq_hz,omitempty"`
	InitialDutyPct float64 `json:"initial_duty_pct,omitempty"`

	// Gain is the proportional constant mapping angular error in degrees to
	// commanded motor speed percentage.
	Gain float64 `json:"gain,omitempty"`

	// ToleranceM is the per-axis distance under which two Cartesian points
	// compare equal; SetPositionSync waits until the arm is inside it.
	ToleranceM float64 `json:"tolerance_m,omitempty"`

	GPIOBasePath string `json:"gpio_base_path,omitempty"`
	PWMChipPath  string `json:"pwm_chip_path,omitempty"`

	// Not serialized
	Logger logging.Logger `json:"-"`
}

// Validate ensures all parts of the config are valid and applies defaults.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if len(cfg.Joints) == 0 {
		return nil, nil, fmt.Errorf("at least one joint must be configured")
	}
	if len(cfg.Joints) > 2 {
		return nil, nil, fmt.Errorf("kinematics are only solvable for 1 or 2 joints, got %d", len(cfg.Joints))
	}

	if cfg.PWMFreqHz == 0 {
		cfg.PWMFreqHz = defaultPWMFreqHz
	}
	if cfg.PWMFreqHz < 0 {
		return nil, nil, fmt.Errorf("pwm_freq_hz must be positive, got %d", cfg.PWMFreqHz)
	}
	if cfg.InitialDutyPct < 0 || cfg.InitialDutyPct > 100 {
		return nil, nil, fmt.Errorf("initial_duty_pct must be between 0 and 100, got %.2f", cfg.InitialDutyPct)
	}
	if cfg.Gain == 0 {
		cfg.Gain = defaultGain
	}
	if cfg.Gain < 0 {
		return nil, nil, fmt.Errorf("gain must be positive, got %.2f", cfg.Gain)
	}
	if cfg.ToleranceM == 0 {
		cfg.ToleranceM = defaultToleranceM
	}
	if cfg.ToleranceM < 0 {
		return nil, nil, fmt.Errorf("tolerance_m must be positive, got %g", cfg.ToleranceM)
	}
	if cfg.GPIOBasePath == "" {
		cfg.GPIOBasePath = defaultGPIOBasePath
	}
	if cfg.PWMChipPath == "" {
		cfg.PWMChipPath = defaultPWMChipPath
	}

	// Every exported pin is exclusively owned by one decoder or motor, so
	// duplicate assignments are config errors. GPIO and PWM pins live in
	// separate sysfs namespaces and may share numbers.
	seenGPIO := map[int]string{}
	seenPWM := map[int]string{}
	claim := func(seen map[int]string, kind string, pin, jointIdx int) error {
		if pin < 0 {
			return fmt.Errorf("joint %d: %s pin must be non-negative, got %d", jointIdx, kind, pin)
		}
		if prev, ok := seen[pin]; ok {
			return fmt.Errorf("joint %d: %s pin %d already claimed by %s", jointIdx, kind, pin, prev)
		}
		seen[pin] = fmt.Sprintf("joint %d %s", jointIdx, kind)
		return nil
	}

	for i := range cfg.Joints {
		jc := &cfg.Joints[i]
		if jc.EncoderRate == 0 {
			jc.EncoderRate = defaultEncoderRate
		}
		if jc.EncoderRate != 2 && jc.EncoderRate != 4 {
			return nil, nil, fmt.Errorf("joint %d: encoder_rate must be 2 or 4, got %d", i, jc.EncoderRate)
		}
		if jc.SegmentsPerRev <= 0 {
			return nil, nil, fmt.Errorf("joint %d: segments_per_rev must be positive, got %d", i, jc.SegmentsPerRev)
		}
		if jc.LinkLengthM <= 0 {
			return nil, nil, fmt.Errorf("joint %d: link_length_m must be positive, got %g", i, jc.LinkLengthM)
		}
		if jc.MinDutyPct < 0 || jc.MinDutyPct >= 100 {
			return nil, nil, fmt.Errorf("joint %d: min_duty_pct must be in [0, 100), got %.2f", i, jc.MinDutyPct)
		}
		if err := claim(seenGPIO, "encoder", jc.EncoderAPin, i); err != nil {
			return nil, nil, err
		}
		if err := claim(seenGPIO, "encoder", jc.EncoderBPin, i); err != nil {
			return nil, nil, err
		}
		if err := claim(seenPWM, "motor", jc.MotorPWMA, i); err != nil {
			return nil, nil, err
		}
		if err := claim(seenPWM, "motor", jc.MotorPWMB, i); err != nil {
			return nil, nil, err
		}
	}

	return nil, nil, nil
}

// LinkLengths returns the link lengths of all joints, root first.
func (cfg *Config) LinkLengths() []float64 {
	lengths := make([]float64, len(cfg.Joints))
	for i, jc := range cfg.Joints {
		lengths[i] = jc.LinkLengthM
	}
	return lengths
}

// DefaultConfig returns the reference two-joint wiring described above:
// a 64 CPR encoder on a 29:1 gearbox and a 48 CPR on a 75:1, 0.015 m links.
func DefaultConfig() *Config {
	return &Config{
		Joints: []JointConfig{
			{
				EncoderAPin:    24,
				EncoderBPin:    25,
				SegmentsPerRev: 64 * 29,
				MotorPWMA:      3,
				MotorPWMB:      7,
				LinkLengthM:    0.015,
			},
			{
				EncoderAPin:    26,
				EncoderBPin:    27,
				SegmentsPerRev: 48 * 75,
				MotorPWMA:      1,
				MotorPWMB:      5,
				LinkLengthM:    0.015,
			},
		},
	}
}
