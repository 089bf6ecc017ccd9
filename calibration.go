package planararm

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Movement calibration sweeps the commanded duty up in coarse steps with
// short pulses until the encoder registers motion, then back down in fine
// steps with longer pulses until motion stops; the last moving step is the
// deadband boundary. Position calibration then drives the joint into its
// mechanical endstop to define angular zero.
const (
	// Coarse sweep step in duty percentage points.
	calibrationStep = 0.05

	// Angle change treated as real movement; encoder counts quantize the
	// angle well above floating point noise, so one tick clears this.
	movementEpsilonDeg = 0.01

	coarsePulse  = 2 * time.Millisecond
	finePulse    = 200 * time.Millisecond
	endstopPulse = 2 * time.Millisecond
)

// Calibration failures that leave the arm inoperable.
var (
	errNoMovement = errors.New("no movement detected up to 100% duty")
	errCannotStop = errors.New("unable to stop movement near 0% duty")
)

// pulse drives the motor at the given speed for the given interval, stops
// it, and reports how far the joint moved.
func (j *Joint) pulse(ctx context.Context, speed float64, d time.Duration) (float64, error) {
	old := j.sensor.Angle()
	if err := j.motor.SetSpeed(speed); err != nil {
		return 0, err
	}
	if !goutils.SelectContextOrWait(ctx, d) {
		return 0, ctx.Err()
	}
	if err := j.motor.Stop(); err != nil {
		return 0, err
	}
	return math.Abs(j.sensor.Angle() - old), nil
}

// CalibrateMovement discovers the minimum duty at which the motor
// physically rotates and remaps the speed scale so 0% sits at that
// boundary. Must run before the control loop starts.
func (j *Joint) CalibrateMovement(ctx context.Context) (float64, error) {
	minSpeed := 0.0

	// Coarse: approximate where the movement threshold is.
	if err := j.motor.SetDirection(CCW); err != nil {
		return 0, err
	}
	for {
		minSpeed += calibrationStep
		if minSpeed >= 100 {
			return 0, errors.Wrapf(errNoMovement, "joint %d", j.id)
		}
		moved, err := j.pulse(ctx, minSpeed, coarsePulse)
		if err != nil {
			return 0, err
		}
		if moved >= movementEpsilonDeg {
			break
		}
	}

	// Fine: walk back in squared steps with longer pulses until motion
	// stops in steady state; the last moving value is the floor.
	if err := j.motor.SetDirection(CW); err != nil {
		return 0, err
	}
	for {
		trial := minSpeed - calibrationStep*calibrationStep
		if trial <= calibrationStep+movementEpsilonDeg {
			return 0, errors.Wrapf(errCannotStop, "joint %d", j.id)
		}
		moved, err := j.pulse(ctx, trial, finePulse)
		if err != nil {
			return 0, err
		}
		if moved < movementEpsilonDeg {
			break
		}
		minSpeed = trial
	}

	j.logger.Infof("joint %d min speed found for movement is ~%.2f%%", j.id, minSpeed)
	if err := j.motor.ApplyRangeLimits(minSpeed, 100); err != nil {
		return 0, err
	}
	return minSpeed, nil
}

// CalibratePosition drives the joint clockwise at full speed until the
// encoder stops changing, meaning the mechanical endstop was reached, then
// declares that position the angular zero.
func (j *Joint) CalibratePosition(ctx context.Context) error {
	if err := j.motor.SetDirection(CW); err != nil {
		return err
	}
	for {
		moved, err := j.pulse(ctx, 100, endstopPulse)
		if err != nil {
			return err
		}
		if moved < movementEpsilonDeg {
			break
		}
	}

	j.SetZero()
	j.logger.Infof("joint %d homed against its endstop", j.id)
	return nil
}
