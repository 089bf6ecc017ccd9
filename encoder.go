package planararm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/rdk/logging"
)

// Direction of rotation, as seen by the encoder and commanded to the motor.
type Direction int

// Clockwise motion increments the encoder count, counter-clockwise
// decrements it.
const (
	CCW Direction = -1
	CW  Direction = 1
)

func (d Direction) String() string {
	if d == CCW {
		return "ccw"
	}
	return "cw"
}

// PositionSensor is the angular feedback surface a joint consumes.
// Implemented by QuadratureDecoder and by test fakes.
type PositionSensor interface {
	// Angle returns the accumulated shaft angle in degrees; it is not
	// wrapped and grows without bound in either direction.
	Angle() float64
	// SetZero makes the current position the angular origin.
	SetZero()
	// Direction reports the sense of the last observed transition.
	Direction() Direction
	// Period returns the time between the two most recent alternate edges
	// of the reference channel; zero until enough edges have been seen.
	Period() time.Duration
	// Stats returns decode diagnostics.
	Stats() DecoderStats
	Close() error
}

// DecoderStats are diagnostic counters for one decoder.
type DecoderStats struct {
	Count              int64
	IllegalTransitions uint64
	DroppedReads       uint64
}

// Quadrature transition table, indexed by prevPacked*4 + currentPacked
// where a packed read is (B<<1)|A. The four qemSkip entries are the
// transitions in which both channels changed, meaning an edge was missed.
const qemSkip = int8(2)

var qem = [16]int8{0, -1, 1, qemSkip, 1, 0, qemSkip, -1, -1, qemSkip, 0, 1, qemSkip, 1, -1, 0}

// QuadratureDecoder turns the edge streams of two 90 degree phase-shifted
// channels into a signed position count. Channel A is the reference
// channel for pulse-period tracking.
//
// Transitions run on the GPIO watcher goroutines; the count, direction and
// period are published atomically so the control loop reads them without
// taking a lock.
type QuadratureDecoder struct {
	a, b     DigitalLine
	segments int64
	logger   logging.Logger

	count     atomic.Int64
	direction atomic.Int32
	periodNS  atomic.Int64
	illegal   atomic.Uint64
	dropped   atomic.Uint64

	// The two line watchers race on the shared transition state below.
	mu           sync.Mutex
	prevPacked   uint8
	periodToggle bool
	edgeStamp    time.Time
}

// NewQuadratureDecoder binds a decoder to its two input lines and starts
// consuming edges. The initial line levels seed the previous packed read
// so the first real edge decodes as a legal transition.
func NewQuadratureDecoder(a, b DigitalLine, segmentsPerRev int, logger logging.Logger) (*QuadratureDecoder, error) {
	if segmentsPerRev <= 0 {
		return nil, errors.Errorf("segments per revolution must be positive, got %d", segmentsPerRev)
	}
	d := &QuadratureDecoder{
		a:        a,
		b:        b,
		segments: int64(segmentsPerRev),
		logger:   logger,
	}
	d.direction.Store(int32(CW))

	packed, err := d.sample()
	if err != nil {
		return nil, errors.Wrap(err, "initial encoder sample")
	}
	d.prevPacked = packed

	a.Watch(d.edgeA)
	b.Watch(d.edgeB)
	return d, nil
}

// sample reads both channels and packs them as (B<<1)|A.
func (d *QuadratureDecoder) sample() (uint8, error) {
	a, err := d.a.Read()
	if err != nil {
		return 0, err
	}
	b, err := d.b.Read()
	if err != nil {
		return 0, err
	}
	return uint8(b<<1 | a), nil
}

func (d *QuadratureDecoder) edgeA() {
	d.process(true)
}

func (d *QuadratureDecoder) edgeB() {
	d.process(false)
}

func (d *QuadratureDecoder) process(reference bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	packed, err := d.sample()
	if err != nil {
		// A transient read failure drops the event; the next edge
		// resynchronizes against the stored previous read.
		if d.dropped.Add(1) == 1 {
			d.logger.Debugw("encoder sample failed during edge, dropping event", "error", err)
		}
		return
	}

	delta := qem[d.prevPacked*4+packed]
	if delta == qemSkip {
		// Both channels changed between samples: an edge was skipped,
		// likely because the process is being scheduled too slowly.
		if d.illegal.Add(1) == 1 {
			d.logger.Warn("execution might be too slow, reading wrong values from the encoder")
		}
		delta = 0
	}
	if delta != 0 {
		d.count.Add(int64(delta))
		d.direction.Store(int32(delta))
	}
	d.prevPacked = packed

	if reference {
		d.trackPeriod()
	}
}

// trackPeriod estimates the interval between alternate reference-channel
// edges: odd events record a timestamp, even events publish the elapsed
// time. Diagnostic only; the controller never reads it.
func (d *QuadratureDecoder) trackPeriod() {
	now := time.Now()
	if d.periodToggle {
		d.periodNS.Store(now.Sub(d.edgeStamp).Nanoseconds())
	} else {
		d.edgeStamp = now
	}
	d.periodToggle = !d.periodToggle
}

// Angle returns 360 * count / segments in degrees.
func (d *QuadratureDecoder) Angle() float64 {
	return 360 * float64(d.count.Load()) / float64(d.segments)
}

// SetZero resets the counter so the current position reads as zero.
func (d *QuadratureDecoder) SetZero() {
	d.count.Store(0)
}

// Direction reports the sense of the last counted transition.
func (d *QuadratureDecoder) Direction() Direction {
	return Direction(d.direction.Load())
}

// Period returns the last measured reference-channel pulse period.
func (d *QuadratureDecoder) Period() time.Duration {
	return time.Duration(d.periodNS.Load())
}

// Stats returns the decode diagnostics counters.
func (d *QuadratureDecoder) Stats() DecoderStats {
	return DecoderStats{
		Count:              d.count.Load(),
		IllegalTransitions: d.illegal.Load(),
		DroppedReads:       d.dropped.Load(),
	}
}

// Close releases both input lines.
func (d *QuadratureDecoder) Close() error {
	err := d.a.Close()
	if berr := d.b.Close(); err == nil {
		err = berr
	}
	return err
}

// EdgeForRate maps a decode rate to the kernel edge mode: 2x counts rising
// edges only, 4x counts both.
func EdgeForRate(rate int) (Edge, error) {
	switch rate {
	case 2:
		return EdgeRising, nil
	case 4:
		return EdgeBoth, nil
	}
	return "", errors.Errorf("invalid encoder rate %d, only 2x or 4x supported", rate)
}
