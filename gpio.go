package planararm

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/sys/unix"

	"go.viam.com/rdk/logging"
)

// Edge selects which signal transitions the kernel reports on a GPIO line.
type Edge string

// Edge modes accepted by /sys/class/gpio/gpioN/edge.
const (
	EdgeRising Edge = "rising"
	EdgeBoth   Edge = "both"
)

// DigitalLine is the input surface a decoder consumes: a level read plus an
// edge subscription. Implemented by SysfsGPIO and by test fakes.
type DigitalLine interface {
	// Read returns the current line level, 0 or 1.
	Read() (int, error)
	// Watch starts delivering one callback per kernel edge notification.
	// Callbacks for one line are serialized. Watch may be called once.
	Watch(onEdge func())
	Close() error
}

// SysfsGPIO is one exported input line of the kernel GPIO sysfs interface.
// A background watcher polls the value file with POLLPRI and invokes the
// bound consumer callback once per edge.
type SysfsGPIO struct {
	pin    int
	base   string
	root   string
	logger logging.Logger

	// Guards the shared file offset: the watcher's rearm read and consumer
	// Reads both seek the value handle.
	valueMu sync.Mutex
	value   *os.File

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// OpenGPIO exports the pin, configures it as an edge-triggered input and
// opens its value file. A pin that cannot be exported or configured is
// unusable, so every failure here is fatal.
func OpenGPIO(basePath string, pin int, edge Edge, logger logging.Logger) (*SysfsGPIO, error) {
	if err := sysfsExport(basePath+"/export", pin); err != nil {
		return nil, err
	}
	root := fmt.Sprintf("%s/gpio%d", basePath, pin)

	if err := sysfsWriteAttr(root, "direction", "in"); err != nil {
		return nil, err
	}
	if err := sysfsWriteAttr(root, "edge", string(edge)); err != nil {
		return nil, err
	}
	value, err := sysfsOpenAttr(root, "value", os.O_RDONLY)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	g := &SysfsGPIO{
		pin:        pin,
		base:       basePath,
		root:       root,
		value:      value,
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
	logger.Debugf("gpio%d exported as %s-edge input", pin, edge)
	return g, nil
}

// Read returns the current level of the line.
func (g *SysfsGPIO) Read() (int, error) {
	g.valueMu.Lock()
	b, err := seekReadByte(g.value)
	g.valueMu.Unlock()
	if err != nil {
		return 0, errors.Wrapf(err, "gpio%d value read", g.pin)
	}
	switch b {
	case '0':
		return 0, nil
	case '1':
		return 1, nil
	}
	return 0, errors.Errorf("gpio%d: unexpected value %q", g.pin, b)
}

// Watch spawns the edge watcher. Each kernel notification on the value
// file produces exactly one onEdge call; the calls are serialized because
// a line has a single watcher.
func (g *SysfsGPIO) Watch(onEdge func()) {
	g.activeBackgroundWorkers.Add(1)
	goutils.ManagedGo(func() {
		g.watch(onEdge)
	}, g.activeBackgroundWorkers.Done)
}

func (g *SysfsGPIO) watch(onEdge func()) {
	// An exported pin reports a pending state on the first poll; consume it
	// so only real transitions reach the consumer.
	if _, err := g.Read(); err != nil {
		g.logger.Debugw("initial gpio drain failed", "pin", g.pin, "error", err)
	}

	fds := []unix.PollFd{{Fd: int32(g.value.Fd()), Events: unix.POLLPRI | unix.POLLERR}}
	for g.cancelCtx.Err() == nil {
		fds[0].Revents = 0
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			g.logger.Errorw("gpio poll failed, stopping watcher", "pin", g.pin, "error", err)
			return
		}
		if n == 0 {
			// Poll timeout, used only to re-check cancellation.
			continue
		}
		if fds[0].Revents&unix.POLLPRI == 0 {
			continue
		}
		// The level itself is re-sampled by the consumer; this read just
		// rearms the interrupt.
		g.valueMu.Lock()
		_, err = seekReadByte(g.value)
		g.valueMu.Unlock()
		if err != nil {
			continue
		}
		onEdge()
	}
}

// Close stops the watcher, releases the value handle and unexports the pin.
func (g *SysfsGPIO) Close() error {
	g.cancelFunc()
	g.activeBackgroundWorkers.Wait()
	err := g.value.Close()
	if uerr := sysfsExport(g.base+"/unexport", g.pin); uerr != nil {
		g.logger.Warnw("gpio unexport failed", "pin", g.pin, "error", uerr)
	}
	return err
}
