package planararm

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

// DiagnosticsModel is the registered model of the diagnostics sensor.
var DiagnosticsModel = resource.DefaultModelFamily.WithModel("planar-rr-diagnostics")

func init() {
	resource.RegisterComponent(sensor.API, DiagnosticsModel,
		resource.Registration[sensor.Sensor, *DiagnosticsConfig]{
			Constructor: newDiagnosticsSensor,
		},
	)
}

// DiagnosticsConfig points the sensor at the arm it should report on.
type DiagnosticsConfig struct {
	Arm string `json:"arm"`
}

// Validate ensures all parts of the config are valid.
func (cfg *DiagnosticsConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Arm == "" {
		return nil, nil, fmt.Errorf("must specify the arm to report diagnostics for")
	}
	return []string{cfg.Arm}, nil, nil
}

// diagnosticsSensor surfaces the live decoder and motor state of every
// joint of a planar arm: counts, angles, pulse periods and the decode
// anomaly counters, plus the calibrated duty window.
type diagnosticsSensor struct {
	resource.AlwaysRebuild
	resource.TriviallyCloseable

	name   resource.Name
	logger logging.Logger
	arm    *PlanarArm
}

func newDiagnosticsSensor(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*DiagnosticsConfig](rawConf)
	if err != nil {
		return nil, err
	}

	armResource, err := deps.Lookup(resource.NewName(arm.API, conf.Arm))
	if err != nil {
		return nil, errors.Wrapf(err, "diagnostics sensor needs arm %q", conf.Arm)
	}
	planar, ok := armResource.(*PlanarArm)
	if !ok {
		return nil, errors.Errorf("arm %q is not a planar arm", conf.Arm)
	}

	s := &diagnosticsSensor{
		name:   rawConf.ResourceName(),
		logger: logger,
		arm:    planar,
	}
	logger.Infof("diagnostics sensor attached to arm %q", conf.Arm)
	return s, nil
}

// Name returns the sensor's name.
func (s *diagnosticsSensor) Name() resource.Name {
	return s.name
}

// Readings returns one entry per joint with its live state.
func (s *diagnosticsSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	diags := s.arm.Diagnostics()

	readings := map[string]any{
		"joint_count": len(diags),
	}
	for i, d := range diags {
		state := "running"
		if d.MotorState == MotorStopped {
			state = "stopped"
		}
		readings[jointKey(i)] = map[string]any{
			"reference_angle_deg": d.ReferenceAngleDeg,
			"measured_angle_deg":  d.MeasuredAngleDeg,
			"direction":           d.Direction.String(),
			"pulse_period_ns":     d.PulsePeriod.Nanoseconds(),
			"count":               d.Decoder.Count,
			"illegal_transitions": d.Decoder.IllegalTransitions,
			"dropped_reads":       d.Decoder.DroppedReads,
			"motor_state":         state,
			"min_duty_pct":        d.MinDutyPct,
		}
	}
	return readings, nil
}

// DoCommand proxies maintenance commands to the arm.
func (s *diagnosticsSensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	return s.arm.DoCommand(ctx, cmd)
}
