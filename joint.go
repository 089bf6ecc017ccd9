package planararm

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	goutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"
)

// controlLoopPace bounds how fast the proportional loop spins; each
// iteration yields for this long so joints share the scheduler fairly.
const controlLoopPace = time.Millisecond

// Joint is one revolute joint: an owned position sensor, an owned motor
// and a proportional control loop that drives the measured angle toward
// the reference angle.
//
// The reference angle is the only channel between the kinematics layer and
// the control loop; it is stored atomically in degrees, normalized to
// [0, 360).
type Joint struct {
	id     int
	sensor PositionSensor
	motor  *HBridgeMotor
	gain   float64
	logger logging.Logger

	refAngleBits atomic.Uint64
	suspended    atomic.Bool

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewJoint wires a sensor and motor into a joint. The control loop is not
// running until Init.
func NewJoint(id int, sensor PositionSensor, motor *HBridgeMotor, gain float64, logger logging.Logger) *Joint {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Joint{
		id:         id,
		sensor:     sensor,
		motor:      motor,
		gain:       gain,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

// Init enables the motor at zero speed and spawns the angular control
// loop.
func (j *Joint) Init() error {
	if err := j.motor.SetSpeed(0); err != nil {
		return err
	}
	if err := j.motor.Start(); err != nil {
		return err
	}
	j.logger.Infof("joint %d is in our home position", j.id)

	j.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(j.angularControl, j.activeBackgroundWorkers.Done)
	return nil
}

// Angle returns the reference angle in degrees. The control loop holds the
// measured angle at the reference, so in steady state this is where the
// joint is; callers wanting raw sensor data use the diagnostics surface.
func (j *Joint) Angle() float64 {
	return math.Float64frombits(j.refAngleBits.Load())
}

// SetAngle updates the reference angle from radians; the control loop
// observes the new value on its next iteration. There is no per-set
// synchronization, arrival is confirmed through the arm's SetPositionSync.
func (j *Joint) SetAngle(thetaRad float64) {
	deg := math.Mod(thetaRad*180/math.Pi, 360)
	if deg < 0 {
		deg += 360
	}
	j.refAngleBits.Store(math.Float64bits(deg))
}

// SetZero resets the sensor and the reference so the current position is
// the new angular origin.
func (j *Joint) SetZero() {
	j.sensor.SetZero()
	j.refAngleBits.Store(math.Float64bits(0))
}

// Suspend gates the control loop's motor writes and stops the motor, so
// the joint can be back-driven by hand. Resume re-engages it.
func (j *Joint) Suspend() error {
	j.suspended.Store(true)
	return j.motor.Stop()
}

// Resume re-enables control loop output after Suspend.
func (j *Joint) Resume() error {
	j.suspended.Store(false)
	return j.motor.Start()
}

// Suspended reports whether motor output is gated.
func (j *Joint) Suspended() bool {
	return j.suspended.Load()
}

// angularControl is the proportional loop: the sign of the angular error
// picks the direction and its magnitude, scaled by the gain, the speed.
// Motor write failures are logged and retried on the next iteration.
func (j *Joint) angularControl() {
	j.logger.Infof("joint %d angular control is now active", j.id)

	for {
		if j.cancelCtx.Err() != nil {
			break
		}

		actual := math.Mod(j.sensor.Angle(), 360)
		errAngle := actual - j.Angle()

		if !j.suspended.Load() {
			dir := CCW
			if errAngle >= 0 {
				dir = CW
			}
			if err := j.motor.SetDirection(dir); err != nil {
				j.logger.Errorw("joint direction update failed", "joint", j.id, "error", err)
			}
			speed := j.gain * math.Abs(errAngle)
			if speed > 100 {
				speed = 100
			}
			if err := j.motor.SetSpeed(speed); err != nil {
				j.logger.Errorw("joint speed update failed", "joint", j.id, "error", err)
			}
		}

		if !goutils.SelectContextOrWait(j.cancelCtx, controlLoopPace) {
			break
		}
	}

	j.logger.Infof("joint %d angular control is now deactivated", j.id)
}

// Close stops the control loop, the motor and releases the sensor and
// motor resources, in that order.
func (j *Joint) Close() error {
	j.cancelFunc()
	j.activeBackgroundWorkers.Wait()

	err := j.motor.Stop()
	if cerr := j.sensor.Close(); err == nil {
		err = cerr
	}
	if cerr := j.motor.Close(); err == nil {
		err = cerr
	}
	return err
}
