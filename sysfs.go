package planararm

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Helpers shared by the GPIO and PWM sysfs layers. The kernel creates the
// per-pin attribute directory when the pin number is written to the class
// export file, and tears it down again on unexport.

// sysfsExport writes the pin number to an export (or unexport) file. An
// EBUSY from export means the pin is already exported, which is fine.
func sysfsExport(exportPath string, number int) error {
	f, err := os.OpenFile(exportPath, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", exportPath)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(number)); err != nil && !errors.Is(err, unix.EBUSY) {
		if os.IsPermission(err) {
			return errors.Wrapf(err, "no access to %s, run as root or set up udev rules", exportPath)
		}
		return errors.Wrapf(err, "failed to export %d via %s", number, exportPath)
	}
	return nil
}

// sysfsOpenAttr opens an attribute file under an exported pin directory.
// There is a window after export where udev has not yet made the new files
// accessible, so permission errors are retried briefly.
func sysfsOpenAttr(dir, attr string, flag int) (*os.File, error) {
	path := filepath.Join(dir, attr)
	var f *os.File
	var err error
	for start := time.Now(); ; {
		f, err = os.OpenFile(path, flag, 0)
		if err == nil || !os.IsPermission(err) {
			break
		}
		if time.Since(start) > 5*time.Second {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return f, nil
}

// sysfsWriteAttr writes a value to an attribute file, opening and closing
// it around the write. Used for one-shot configuration attributes.
func sysfsWriteAttr(dir, attr, value string) error {
	f, err := sysfsOpenAttr(dir, attr, os.O_WRONLY)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return errors.Wrapf(err, "failed to write %q to %s", value, filepath.Join(dir, attr))
	}
	return nil
}

// seekWriteUint rewrites an open attribute file with a decimal value. The
// file stays open across calls since these are hot-path writes.
func seekWriteUint(f *os.File, v uint64) error {
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	var buf [20]byte
	_, err := f.Write(strconv.AppendUint(buf[:0], v, 10))
	return err
}

// seekReadByte reads the first byte of an open attribute file.
func seekReadByte(f *os.File) (byte, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	var buf [4]byte
	n, err := f.Read(buf[:])
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("empty sysfs read")
	}
	return buf[0], nil
}
