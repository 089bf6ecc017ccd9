package planararm

import (
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/rdk/logging"
)

// MotorState reports whether the bridge is driving.
type MotorState int

// A motor is stopped when both channels carry zero duty.
const (
	MotorStopped MotorState = iota
	MotorRunning
)

// Structured rejections for invalid motor parameters; state is unchanged
// when these are returned.
var (
	errInvalidSpeed = errors.New("speed must be between 0 and 100 percent")
	errInvalidRange = errors.New("invalid duty range, lower limit must be below upper")
)

// HBridgeMotor drives a DC motor through an H-bridge wired as two
// complementary PWM channels: channel A turns the rotor clockwise,
// channel B counter-clockwise. At most one channel carries duty at any
// instant; which one encodes the direction.
//
// Commanded speed is a percentage mapped onto the calibrated duty window
// [minDuty, maxDuty], so 0% sits right at the deadband boundary after
// ApplyRangeLimits.
type HBridgeMotor struct {
	mu     sync.Mutex
	pwmA   PWMChannel
	pwmB   PWMChannel
	active PWMChannel
	logger logging.Logger

	periodNS    uint64
	minDuty     uint64
	maxDuty     uint64
	speedBackup float64
}

// NewHBridgeMotor configures both channels for the base frequency, applies
// the initial duty and enables the outputs. The bridge starts at rest with
// channel A (clockwise) active.
func NewHBridgeMotor(pwmA, pwmB PWMChannel, baseFreqHz int, initialDutyPct float64, logger logging.Logger) (*HBridgeMotor, error) {
	if baseFreqHz <= 0 {
		return nil, errors.Errorf("base PWM frequency must be positive, got %d", baseFreqHz)
	}
	periodNS := uint64(1e9 / float64(baseFreqHz))
	initialDuty := uint64(float64(periodNS) * initialDutyPct / 100)

	for _, ch := range []PWMChannel{pwmA, pwmB} {
		if err := ch.SetPeriod(periodNS); err != nil {
			return nil, errors.Wrap(err, "motor period setup")
		}
		if err := ch.SetDuty(initialDuty); err != nil {
			return nil, errors.Wrap(err, "motor duty setup")
		}
		if err := ch.SetEnabled(true); err != nil {
			return nil, errors.Wrap(err, "motor enable")
		}
	}

	m := &HBridgeMotor{
		pwmA:     pwmA,
		pwmB:     pwmB,
		active:   pwmA,
		logger:   logger,
		periodNS: periodNS,
		minDuty:  0,
		maxDuty:  periodNS,
	}
	logger.Debugf("h-bridge motor ready at %d Hz, %.1f%% initial duty", baseFreqHz, initialDutyPct)
	return m, nil
}

// Start re-applies the last commanded speed to the active channel.
func (m *HBridgeMotor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setSpeedLocked(m.speedBackup)
}

// Stop saves the current speed and takes both channels to zero duty.
func (m *HBridgeMotor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *HBridgeMotor) stopLocked() error {
	m.speedBackup = m.speedLocked()
	// Zero the inactive channel first so the bridge never sees drive on
	// both sides, then the active one.
	inactive := m.pwmB
	if m.active == m.pwmB {
		inactive = m.pwmA
	}
	if err := inactive.SetDuty(0); err != nil {
		return err
	}
	return m.active.SetDuty(0)
}

// SetSpeed commands a speed percentage in [0, 100], mapped onto the
// calibrated duty window of the active channel.
func (m *HBridgeMotor) SetSpeed(percent float64) error {
	if percent < 0 || percent > 100 {
		return errors.Wrapf(errInvalidSpeed, "got %.2f", percent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setSpeedLocked(percent)
}

func (m *HBridgeMotor) setSpeedLocked(percent float64) error {
	val := uint64(float64(m.minDuty) + float64(m.maxDuty-m.minDuty)*percent/100)
	if val < m.minDuty {
		val = m.minDuty
	}
	if val > m.maxDuty {
		val = m.maxDuty
	}
	return m.active.SetDuty(val)
}

// Speed reverse-translates the active channel duty to a percentage of the
// calibrated window. A stopped motor reads as 0.
func (m *HBridgeMotor) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speedLocked()
}

func (m *HBridgeMotor) speedLocked() float64 {
	window := m.maxDuty - m.minDuty
	if window == 0 {
		return 0
	}
	duty := m.active.Duty()
	if duty <= m.minDuty {
		return 0
	}
	speed := float64(duty-m.minDuty) * 100 / float64(window)
	if speed > 100 {
		speed = 100
	}
	return speed
}

// SetDirection switches the active channel. The bridge is stopped before
// the swap and restarted after it, preserving the commanded speed, so the
// off-direction is always at zero before the on-direction rises. Setting
// the current direction is a no-op.
func (m *HBridgeMotor) SetDirection(dir Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.directionLocked() == dir {
		return nil
	}
	if err := m.stopLocked(); err != nil {
		return err
	}
	if dir == CW {
		m.active = m.pwmA
	} else {
		m.active = m.pwmB
	}
	return m.setSpeedLocked(m.speedBackup)
}

// Direction reports which channel is active.
func (m *HBridgeMotor) Direction() Direction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.directionLocked()
}

func (m *HBridgeMotor) directionLocked() Direction {
	if m.active == m.pwmB {
		return CCW
	}
	return CW
}

// ApplyRangeLimits remaps the speed scale onto [lowPct, highPct] of the
// period. After movement calibration 0% sits at the deadband boundary and
// 100% at the upper safe limit.
func (m *HBridgeMotor) ApplyRangeLimits(lowPct, highPct float64) error {
	if lowPct >= highPct {
		return errors.Wrapf(errInvalidRange, "got [%.2f, %.2f]", lowPct, highPct)
	}
	if lowPct < 0 || highPct > 100 {
		return errors.Wrapf(errInvalidRange, "limits must be within [0, 100], got [%.2f, %.2f]", lowPct, highPct)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minDuty = uint64(float64(m.periodNS) * lowPct / 100)
	m.maxDuty = uint64(float64(m.periodNS) * highPct / 100)
	return nil
}

// State reports MotorStopped when both channels carry the same (zero)
// duty, MotorRunning otherwise.
func (m *HBridgeMotor) State() MotorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pwmA.Duty() == m.pwmB.Duty() {
		return MotorStopped
	}
	return MotorRunning
}

// Close disables and releases both channels.
func (m *HBridgeMotor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.pwmA.Close()
	if berr := m.pwmB.Close(); err == nil {
		err = berr
	}
	return err
}
