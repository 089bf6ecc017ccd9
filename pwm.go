package planararm

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"go.viam.com/rdk/logging"
)

// PWMChannel is the actuation surface a motor drives: period, duty cycle
// and an enable switch, all in the units of the kernel PWM sysfs interface
// (nanoseconds). Implemented by SysfsPWM and by test fakes.
type PWMChannel interface {
	SetPeriod(ns uint64) error
	Period() uint64
	// SetDuty writes the on-time; values above the period are clamped.
	SetDuty(ns uint64) error
	Duty() uint64
	SetEnabled(enabled bool) error
	Close() error
}

// SysfsPWM is one exported channel of a kernel PWM chip. The duty_cycle
// handle is kept open since duty updates are the controller's hot path.
type SysfsPWM struct {
	channel int
	root    string
	chip    string
	duty    *os.File
	logger  logging.Logger

	periodNS uint64
	dutyNS   uint64
}

// OpenPWM exports the channel under the chip directory and opens its
// attribute files. Export or attribute failures are fatal: the channel
// cannot be driven.
func OpenPWM(chipPath string, channel int, logger logging.Logger) (*SysfsPWM, error) {
	if err := sysfsExport(chipPath+"/export", channel); err != nil {
		return nil, err
	}
	root := fmt.Sprintf("%s/pwm%d", chipPath, channel)

	duty, err := sysfsOpenAttr(root, "duty_cycle", os.O_WRONLY)
	if err != nil {
		return nil, err
	}

	p := &SysfsPWM{
		channel: channel,
		root:    root,
		chip:    chipPath,
		duty:    duty,
		logger:  logger,
	}
	logger.Debugf("pwm%d exported under %s", channel, chipPath)
	return p, nil
}

// SetPeriod writes the PWM period. The kernel rejects a period below the
// current duty cycle, so the duty is lowered first when needed.
func (p *SysfsPWM) SetPeriod(ns uint64) error {
	if p.dutyNS > ns {
		if err := p.SetDuty(ns); err != nil {
			return err
		}
	}
	if err := sysfsWriteAttr(p.root, "period", fmt.Sprintf("%d", ns)); err != nil {
		return err
	}
	p.periodNS = ns
	return nil
}

// Period returns the last configured period.
func (p *SysfsPWM) Period() uint64 {
	return p.periodNS
}

// SetDuty writes the channel on-time, clamped to the period.
func (p *SysfsPWM) SetDuty(ns uint64) error {
	if p.periodNS > 0 && ns > p.periodNS {
		ns = p.periodNS
	}
	if err := seekWriteUint(p.duty, ns); err != nil {
		return errors.Wrapf(err, "pwm%d duty write", p.channel)
	}
	p.dutyNS = ns
	return nil
}

// Duty returns the last written duty cycle.
func (p *SysfsPWM) Duty() uint64 {
	return p.dutyNS
}

// SetEnabled starts or stops the channel output.
func (p *SysfsPWM) SetEnabled(enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return sysfsWriteAttr(p.root, "enable", v)
}

// Close disables the channel, releases handles and unexports it.
func (p *SysfsPWM) Close() error {
	if err := p.SetEnabled(false); err != nil {
		p.logger.Warnw("pwm disable failed", "channel", p.channel, "error", err)
	}
	err := p.duty.Close()
	if uerr := sysfsExport(p.chip+"/unexport", p.channel); uerr != nil {
		p.logger.Warnw("pwm unexport failed", "channel", p.channel, "error", uerr)
	}
	return err
}
