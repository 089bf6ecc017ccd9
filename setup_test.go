package planararm

import (
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// fakeLine is an in-memory DigitalLine. Setting a level delivers one edge
// callback, the way the kernel reports one POLLPRI per transition.
type fakeLine struct {
	mu     sync.Mutex
	level  int
	onEdge func()
}

func (l *fakeLine) Read() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level, nil
}

func (l *fakeLine) Watch(onEdge func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEdge = onEdge
}

func (l *fakeLine) Close() error { return nil }

func (l *fakeLine) set(level int) {
	l.mu.Lock()
	l.level = level
	onEdge := l.onEdge
	l.mu.Unlock()
	if onEdge != nil {
		onEdge()
	}
}

// dutyWrite is one recorded duty_cycle write for invariant checks.
type dutyWrite struct {
	channel string
	duty    uint64
}

// writeLog records the interleaved duty writes of both channels of a
// bridge.
type writeLog struct {
	mu     sync.Mutex
	writes []dutyWrite
}

func (w *writeLog) record(channel string, duty uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, dutyWrite{channel, duty})
}

func (w *writeLog) snapshot() []dutyWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]dutyWrite, len(w.writes))
	copy(out, w.writes)
	return out
}

// fakePWM is an in-memory PWMChannel recording every write into a shared
// log.
type fakePWM struct {
	mu      sync.Mutex
	name    string
	log     *writeLog
	period  uint64
	duty    uint64
	enabled bool

	// preWrite runs before a duty change lands, letting a simulated
	// mechanism integrate motion under the old duty first. Must be set
	// before any goroutine writes duties.
	preWrite func()
}

func newFakePWMPair() (*fakePWM, *fakePWM, *writeLog) {
	log := &writeLog{}
	return &fakePWM{name: "a", log: log}, &fakePWM{name: "b", log: log}, log
}

func (p *fakePWM) SetPeriod(ns uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.period = ns
	return nil
}

func (p *fakePWM) Period() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.period
}

func (p *fakePWM) SetDuty(ns uint64) error {
	if p.preWrite != nil {
		p.preWrite()
	}
	p.mu.Lock()
	if p.period > 0 && ns > p.period {
		ns = p.period
	}
	p.duty = ns
	p.mu.Unlock()
	if p.log != nil {
		p.log.record(p.name, ns)
	}
	return nil
}

func (p *fakePWM) Duty() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

func (p *fakePWM) SetEnabled(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	return nil
}

func (p *fakePWM) Close() error { return nil }

// simSensor models the mechanics attached to an H-bridge: the shaft turns
// while the bridge duty sits at or above a threshold, channel A driving
// the angle down (clockwise) and channel B up. Optional bounds model a
// mechanical endstop.
type simSensor struct {
	mu sync.Mutex

	pwmA, pwmB *fakePWM

	// thresholdPct is the deadband: duty below this fraction of the period
	// produces no motion.
	thresholdPct float64
	// rateDegPerSec at 100% duty; motion scales linearly with duty.
	rateDegPerSec float64
	proportional  bool

	hasEndstop bool
	minDeg     float64
	maxDeg     float64

	angle float64
	last  time.Time
}

func newSimSensor(pwmA, pwmB *fakePWM, thresholdPct, rateDegPerSec float64) *simSensor {
	s := &simSensor{
		pwmA:          pwmA,
		pwmB:          pwmB,
		thresholdPct:  thresholdPct,
		rateDegPerSec: rateDegPerSec,
		proportional:  true,
		last:          time.Now(),
	}
	pwmA.preWrite = s.advance
	pwmB.preWrite = s.advance
	return s
}

func (s *simSensor) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
}

func (s *simSensor) withEndstop(minDeg, maxDeg float64) *simSensor {
	s.hasEndstop = true
	s.minDeg = minDeg
	s.maxDeg = maxDeg
	return s
}

func (s *simSensor) advanceLocked() {
	now := time.Now()
	dt := now.Sub(s.last).Seconds()
	s.last = now

	period := s.pwmA.Period()
	if period == 0 {
		return
	}
	dutyA, dutyB := s.pwmA.Duty(), s.pwmB.Duty()
	duty := dutyA
	sign := -1.0 // channel A drives clockwise, decreasing the count
	if dutyB > dutyA {
		duty = dutyB
		sign = 1.0
	}
	pct := float64(duty) * 100 / float64(period)
	if pct < s.thresholdPct || pct == 0 {
		return
	}

	rate := s.rateDegPerSec
	if s.proportional {
		rate *= pct / 100
	}
	s.angle += sign * rate * dt
	if s.hasEndstop {
		if s.angle < s.minDeg {
			s.angle = s.minDeg
		}
		if s.angle > s.maxDeg {
			s.angle = s.maxDeg
		}
	}
}

func (s *simSensor) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
	return s.angle
}

func (s *simSensor) SetZero() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
	// zeroing redefines the origin, shifting the physical limits with it
	off := s.angle
	s.angle = 0
	if s.hasEndstop {
		s.minDeg -= off
		s.maxDeg -= off
	}
}

func (s *simSensor) setAngle(deg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = time.Now()
	s.angle = deg
}

func (s *simSensor) Direction() Direction {
	if s.pwmB.Duty() > s.pwmA.Duty() {
		return CCW
	}
	return CW
}

func (s *simSensor) Period() time.Duration { return 0 }

func (s *simSensor) Stats() DecoderStats { return DecoderStats{} }

func (s *simSensor) Close() error { return nil }

// newSimJoint wires a real motor over fake PWM channels to a simulated
// mechanism.
func newSimJoint(t interface {
	Fatalf(format string, args ...interface{})
}, id int, thresholdPct, rateDegPerSec, gain float64,
) (*Joint, *simSensor, *writeLog) {
	logger := logging.NewLogger("sim-joint")
	pwmA, pwmB, log := newFakePWMPair()
	motor, err := NewHBridgeMotor(pwmA, pwmB, defaultPWMFreqHz, 0, logger)
	if err != nil {
		t.Fatalf("sim motor setup: %v", err)
	}
	sensor := newSimSensor(pwmA, pwmB, thresholdPct, rateDegPerSec)
	return NewJoint(id, sensor, motor, gain, logger), sensor, log
}
