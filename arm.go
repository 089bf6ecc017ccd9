package planararm

import (
	"context"
	_ "embed"
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"
	"go.viam.com/utils/rpc"
)

//go:embed planar_rr.json
var planarModelJSON []byte

// Model is the registered model of the planar arm component.
var Model = resource.DefaultModelFamily.WithModel("planar-rr")

// How often SetPositionSync re-samples the position while waiting for
// arrival.
const syncPollPace = time.Millisecond

func init() {
	resource.RegisterComponent(arm.API, Model,
		resource.Registration[arm.Arm, *Config]{
			Constructor: newPlanarArm,
		},
	)
}

// PlanarArm drives an N-link planar revolute arm: it owns the joints (root
// first), runs the two-phase startup calibration and exposes the Cartesian
// position contract. The arm façade only mutates reference angles and
// reads them back; the per-joint control loops do all actuation.
type PlanarArm struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *Config
	opMgr  *operation.SingleOperationManager

	joints      []*Joint
	linkLengths []float64
	tolerance   float64
	model       referenceframe.Model

	mu       sync.RWMutex
	minDuty  []float64
	isMoving atomic.Bool

	cancelCtx  context.Context
	cancelFunc func()
}

func newPlanarArm(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (arm.Arm, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}
	a, err := NewArm(ctx, conf, logger)
	if err != nil {
		return nil, err
	}
	a.name = rawConf.ResourceName()
	return a, nil
}

// NewArm opens the sysfs resources for every configured joint, calibrates
// them and starts the control loops. The returned arm is operational.
func NewArm(ctx context.Context, conf *Config, logger logging.Logger) (*PlanarArm, error) {
	if conf.Logger == nil {
		conf.Logger = logger
	}

	joints := make([]*Joint, 0, len(conf.Joints))
	closeAll := func() {
		for _, j := range joints {
			goutils.UncheckedError(j.Close())
		}
	}

	for i, jc := range conf.Joints {
		j, err := openJoint(i, conf, jc, logger)
		if err != nil {
			closeAll()
			return nil, errors.Wrapf(err, "failed to set up joint %d", i)
		}
		joints = append(joints, j)
	}
	logger.Infof("created a %d joints arm object", len(joints))

	a := newArmWithJoints(conf, joints, logger)
	if err := a.Init(ctx); err != nil {
		goutils.UncheckedError(a.Close(ctx))
		return nil, err
	}
	return a, nil
}

// openJoint exports and wires the decoder and motor of one joint.
func openJoint(id int, conf *Config, jc JointConfig, logger logging.Logger) (*Joint, error) {
	edge, err := EdgeForRate(jc.EncoderRate)
	if err != nil {
		return nil, err
	}

	lineA, err := OpenGPIO(conf.GPIOBasePath, jc.EncoderAPin, edge, logger)
	if err != nil {
		return nil, err
	}
	lineB, err := OpenGPIO(conf.GPIOBasePath, jc.EncoderBPin, edge, logger)
	if err != nil {
		goutils.UncheckedError(lineA.Close())
		return nil, err
	}
	decoder, err := NewQuadratureDecoder(lineA, lineB, jc.SegmentsPerRev, logger)
	if err != nil {
		goutils.UncheckedError(lineA.Close())
		goutils.UncheckedError(lineB.Close())
		return nil, err
	}

	pwmA, err := OpenPWM(conf.PWMChipPath, jc.MotorPWMA, logger)
	if err != nil {
		goutils.UncheckedError(decoder.Close())
		return nil, err
	}
	pwmB, err := OpenPWM(conf.PWMChipPath, jc.MotorPWMB, logger)
	if err != nil {
		goutils.UncheckedError(decoder.Close())
		goutils.UncheckedError(pwmA.Close())
		return nil, err
	}
	motor, err := NewHBridgeMotor(pwmA, pwmB, conf.PWMFreqHz, conf.InitialDutyPct, logger)
	if err != nil {
		goutils.UncheckedError(decoder.Close())
		goutils.UncheckedError(pwmA.Close())
		goutils.UncheckedError(pwmB.Close())
		return nil, err
	}

	return NewJoint(id, decoder, motor, conf.Gain, logger), nil
}

// newArmWithJoints assembles an arm around pre-built joints without
// touching hardware or calibrating. Used by NewArm and by tests.
func newArmWithJoints(conf *Config, joints []*Joint, logger logging.Logger) *PlanarArm {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	tolerance := conf.ToleranceM
	if tolerance == 0 {
		tolerance = defaultToleranceM
	}
	return &PlanarArm{
		logger:      logger,
		cfg:         conf,
		opMgr:       operation.NewSingleOperationManager(),
		joints:      joints,
		linkLengths: conf.LinkLengths(),
		tolerance:   tolerance,
		model:       parsePlanarModel(len(joints), logger),
		minDuty:     make([]float64, len(joints)),
		cancelCtx:   cancelCtx,
		cancelFunc:  cancelFunc,
	}
}

// parsePlanarModel loads the embedded kinematic model; only the reference
// two-link geometry ships a frame model.
func parsePlanarModel(jointsNr int, logger logging.Logger) referenceframe.Model {
	if jointsNr != 2 {
		return nil
	}
	m := &referenceframe.ModelConfigJSON{
		OriginalFile: &referenceframe.ModelFile{
			Bytes:     planarModelJSON,
			Extension: "json",
		},
	}
	if err := json.Unmarshal(planarModelJSON, m); err != nil {
		logger.Warnw("failed to unmarshal embedded kinematic model", "error", err)
		return nil
	}
	model, err := m.ParseConfig("planar_rr")
	if err != nil {
		logger.Warnw("failed to parse embedded kinematic model", "error", err)
		return nil
	}
	return model
}

// Init runs the two calibration phases for every joint, then starts the
// control loops. Calibration failures are fatal: the arm cannot operate.
func (a *PlanarArm) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, j := range a.joints {
		if provided := a.cfg.Joints[i].MinDutyPct; provided > 0 {
			// A known deadband skips the sweep, like loading a saved
			// calibration instead of re-measuring it.
			if err := j.motor.ApplyRangeLimits(provided, 100); err != nil {
				return err
			}
			a.minDuty[i] = provided
			continue
		}
		minDuty, err := j.CalibrateMovement(ctx)
		if err != nil {
			return err
		}
		a.minDuty[i] = minDuty
	}

	for _, j := range a.joints {
		if err := j.CalibratePosition(ctx); err != nil {
			return err
		}
	}

	for _, j := range a.joints {
		if err := j.Init(); err != nil {
			return err
		}
	}

	a.logger.Info("robot was successfully initialized")
	return nil
}

// GetPosition returns the Cartesian position the arm is commanded to, in
// meters: the forward kinematics of the joint reference angles. In steady
// state the control loops hold the joints there.
func (a *PlanarArm) GetPosition() (r3.Vector, error) {
	theta := make([]float64, len(a.joints))
	for i, j := range a.joints {
		theta[i] = j.Angle() * math.Pi / 180
	}
	return forwardKinematics(theta, a.linkLengths)
}

// SetPosition solves the inverse kinematics for the target and hands each
// joint its new reference angle. An unreachable target returns an error
// and leaves every reference untouched.
func (a *PlanarArm) SetPosition(pos r3.Vector) error {
	theta, err := inverseKinematics(pos, a.linkLengths)
	if err != nil {
		return err
	}
	for i, j := range a.joints {
		j.SetAngle(theta[i])
	}
	return nil
}

// SetPositionSync commands the target and blocks until GetPosition matches
// it within the point tolerance. There is no internal timeout; cancel the
// context if the wait must be bounded.
func (a *PlanarArm) SetPositionSync(ctx context.Context, pos r3.Vector) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()

	if err := a.SetPosition(pos); err != nil {
		return err
	}

	a.isMoving.Store(true)
	defer a.isMoving.Store(false)
	for {
		measured, err := a.GetPosition()
		if err != nil {
			return err
		}
		if pointsWithinTolerance(measured, pos, a.tolerance) {
			return nil
		}
		if !goutils.SelectContextOrWait(ctx, syncPollPace) {
			return ctx.Err()
		}
	}
}

// TrainingMode gates or re-engages all motor output so the arm can be
// positioned by hand.
func (a *PlanarArm) TrainingMode(enable bool) error {
	for _, j := range a.joints {
		var err error
		if enable {
			err = j.Suspend()
		} else {
			err = j.Resume()
		}
		if err != nil {
			return err
		}
	}
	if enable {
		a.logger.Info("robot was put in training mode for manual override")
	}
	return nil
}

// Name implements resource.Resource.
func (a *PlanarArm) Name() resource.Name {
	return a.name
}

// NewClientFromConn implements arm.Arm.
func (a *PlanarArm) NewClientFromConn(ctx context.Context, conn rpc.ClientConn, remoteName string, name resource.Name, logger logging.Logger) (arm.Arm, error) {
	return nil, errors.New("remote client not implemented")
}

// EndPosition returns the commanded tool-point pose. RDK poses are in
// millimeters; the core works in meters.
func (a *PlanarArm) EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error) {
	pos, err := a.GetPosition()
	if err != nil {
		return nil, err
	}
	return spatialmath.NewPoseFromPoint(pos.Mul(1000)), nil
}

// MoveToPosition commands the arm to the pose's point.
func (a *PlanarArm) MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error {
	ctx, done := a.opMgr.New(ctx)
	defer done()
	a.isMoving.Store(true)
	defer a.isMoving.Store(false)
	return a.SetPosition(pose.Point().Mul(1e-3))
}

// MoveToJointPositions hands each joint a new reference angle in radians.
func (a *PlanarArm) MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error {
	if len(positions) != len(a.joints) {
		return errors.Errorf("expected %d joint positions, got %d", len(a.joints), len(positions))
	}
	a.isMoving.Store(true)
	defer a.isMoving.Store(false)
	for i, input := range positions {
		a.joints[i].SetAngle(input.Value)
	}
	return nil
}

// MoveThroughJointPositions walks a series of joint configurations.
func (a *PlanarArm) MoveThroughJointPositions(ctx context.Context, positions [][]referenceframe.Input, options *arm.MoveOptions, extra map[string]interface{}) error {
	for _, jointPositions := range positions {
		if err := a.MoveToJointPositions(ctx, jointPositions, extra); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// JointPositions returns the reference angles in radians.
func (a *PlanarArm) JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error) {
	positions := make([]referenceframe.Input, len(a.joints))
	for i, j := range a.joints {
		positions[i] = referenceframe.Input{Value: j.Angle() * math.Pi / 180}
	}
	return positions, nil
}

// Stop halts motion by re-referencing every joint to where it currently
// is; the proportional loops then hold position with zero error.
func (a *PlanarArm) Stop(ctx context.Context, extra map[string]interface{}) error {
	a.isMoving.Store(false)
	for _, j := range a.joints {
		measured := math.Mod(j.sensor.Angle(), 360)
		j.SetAngle(measured * math.Pi / 180)
	}
	return nil
}

// Kinematics returns the embedded frame model of the reference geometry.
func (a *PlanarArm) Kinematics(ctx context.Context) (referenceframe.Model, error) {
	if a.model == nil {
		return nil, errors.New("no kinematic model for this joint configuration")
	}
	return a.model, nil
}

// CurrentInputs implements referenceframe.InputEnabled.
func (a *PlanarArm) CurrentInputs(ctx context.Context) ([]referenceframe.Input, error) {
	return a.JointPositions(ctx, nil)
}

// GoToInputs implements referenceframe.InputEnabled.
func (a *PlanarArm) GoToInputs(ctx context.Context, inputSteps ...[]referenceframe.Input) error {
	return a.MoveThroughJointPositions(ctx, inputSteps, nil, nil)
}

// IsMoving implements resource.Actuator.
func (a *PlanarArm) IsMoving(ctx context.Context) (bool, error) {
	return a.isMoving.Load(), nil
}

// Geometries implements resource.Shaped.
func (a *PlanarArm) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	if a.model == nil {
		return []spatialmath.Geometry{}, nil
	}
	inputs, err := a.CurrentInputs(ctx)
	if err != nil {
		return nil, err
	}
	gif, err := a.model.Geometries(inputs)
	if err != nil {
		return nil, err
	}
	return gif.Geometries(), nil
}

// JointDiagnostics is one joint's live state, surfaced by the diagnostics
// sensor.
type JointDiagnostics struct {
	ReferenceAngleDeg float64
	MeasuredAngleDeg  float64
	Direction         Direction
	PulsePeriod       time.Duration
	MotorState        MotorState
	MinDutyPct        float64
	Decoder           DecoderStats
}

// Diagnostics gathers the live state of every joint.
func (a *PlanarArm) Diagnostics() []JointDiagnostics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]JointDiagnostics, len(a.joints))
	for i, j := range a.joints {
		out[i] = JointDiagnostics{
			ReferenceAngleDeg: j.Angle(),
			MeasuredAngleDeg:  math.Mod(j.sensor.Angle(), 360),
			Direction:         j.sensor.Direction(),
			PulsePeriod:       j.sensor.Period(),
			MotorState:        j.motor.State(),
			MinDutyPct:        a.minDuty[i],
			Decoder:           j.sensor.Stats(),
		}
	}
	return out
}

// DoCommand exposes the Cartesian contract and maintenance commands.
func (a *PlanarArm) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	switch cmd["command"] {
	case "get_position":
		pos, err := a.GetPosition()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"x": pos.X, "y": pos.Y, "z": pos.Z}, nil

	case "set_position", "set_position_sync":
		pos, err := pointFromCommand(cmd)
		if err != nil {
			return nil, err
		}
		if cmd["command"] == "set_position" {
			err = a.SetPosition(pos)
		} else {
			err = a.SetPositionSync(ctx, pos)
		}
		return map[string]interface{}{"success": err == nil}, err

	case "home":
		for _, j := range a.joints {
			j.SetAngle(0)
		}
		return map[string]interface{}{"success": true}, nil

	case "training_mode":
		enable, ok := cmd["enable"].(bool)
		if !ok {
			return nil, errors.New("training_mode command requires 'enable' boolean parameter")
		}
		err := a.TrainingMode(enable)
		return map[string]interface{}{"success": err == nil}, err

	case "get_calibration":
		a.mu.RLock()
		defer a.mu.RUnlock()
		duties := make([]interface{}, len(a.minDuty))
		for i, d := range a.minDuty {
			duties[i] = d
		}
		return map[string]interface{}{"min_duty_pct": duties}, nil

	case "stats":
		stats := make(map[string]interface{})
		for i, d := range a.Diagnostics() {
			stats[jointKey(i)] = map[string]interface{}{
				"reference_angle_deg": d.ReferenceAngleDeg,
				"measured_angle_deg":  d.MeasuredAngleDeg,
				"direction":           d.Direction.String(),
				"pulse_period_ns":     d.PulsePeriod.Nanoseconds(),
				"count":               d.Decoder.Count,
				"illegal_transitions": d.Decoder.IllegalTransitions,
				"dropped_reads":       d.Decoder.DroppedReads,
			}
		}
		return stats, nil

	default:
		return nil, errors.Errorf("unknown command: %v", cmd["command"])
	}
}

// Close shuts the joints down one at a time, root joint last: each stops
// its control loop, then its motor, then releases its sysfs resources.
func (a *PlanarArm) Close(ctx context.Context) error {
	a.cancelFunc()
	a.opMgr.CancelRunning(ctx)

	var err error
	for i := len(a.joints) - 1; i >= 0; i-- {
		if cerr := a.joints[i].Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func pointFromCommand(cmd map[string]interface{}) (r3.Vector, error) {
	var pos r3.Vector
	for key, dst := range map[string]*float64{"x": &pos.X, "y": &pos.Y, "z": &pos.Z} {
		v, ok := cmd[key].(float64)
		if !ok {
			return r3.Vector{}, errors.Errorf("command requires numeric %q parameter in meters", key)
		}
		*dst = v
	}
	return pos, nil
}

func jointKey(i int) string {
	return "joint_" + strconv.Itoa(i)
}
