package blockdev

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dotvezz/usbmount/internal/log"
)

// UdevadmProbe implements Probe against sysfs and the udevadm binary.
// Device identifiers are resolved sysfs paths.
type UdevadmProbe struct {
	sysRoot string
	runner  func(args ...string) ([]byte, error)
}

// UdevadmOption is a functional option for UdevadmProbe.
type UdevadmOption func(*UdevadmProbe)

// WithSysRoot overrides the sysfs root directory (for testing).
func WithSysRoot(dir string) UdevadmOption {
	return func(p *UdevadmProbe) {
		p.sysRoot = dir
	}
}

// WithRunner overrides the udevadm command runner (for testing).
func WithRunner(runner func(args ...string) ([]byte, error)) UdevadmOption {
	return func(p *UdevadmProbe) {
		p.runner = runner
	}
}

// NewUdevadmProbe creates a probe over the host sysfs.
func NewUdevadmProbe(opts ...UdevadmOption) *UdevadmProbe {
	p := &UdevadmProbe{
		sysRoot: "/sys",
		runner:  runUdevadm,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func runUdevadm(args ...string) ([]byte, error) {
	out, err := exec.Command("udevadm", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("udevadm %s: %w (output: %q)", strings.Join(args, " "), err, string(out))
	}
	return out, nil
}

// List enumerates every device under <sysRoot>/class/block.
func (p *UdevadmProbe) List() ([]RawDevice, error) {
	classDir := filepath.Join(p.sysRoot, "class", "block")
	entries, err := os.ReadDir(classDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", classDir, err)
	}

	devices := make([]RawDevice, 0, len(entries))
	for _, entry := range entries {
		syspath, err := filepath.EvalSymlinks(filepath.Join(classDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", entry.Name(), err)
		}

		raw, err := p.At(syspath)
		if err != nil {
			return nil, err
		}
		devices = append(devices, raw)
	}

	return devices, nil
}

// At builds a RawDevice from the sysfs directory at syspath.
func (p *UdevadmProbe) At(syspath string) (RawDevice, error) {
	if _, err := os.Stat(syspath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return RawDevice{}, ErrNotFound
		}
		return RawDevice{}, fmt.Errorf("stat %s: %w", syspath, err)
	}

	raw := RawDevice{
		ID:          syspath,
		SizeSectors: -1,
	}

	if v, err := readAttr(syspath, "dev"); err == nil {
		raw.DevID = v
	}
	if v, err := readAttr(syspath, "size"); err == nil {
		sectors, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return RawDevice{}, fmt.Errorf("device %s: bad size attribute %q", syspath, v)
		}
		raw.SizeSectors = sectors
	}

	props, err := p.properties(syspath)
	if err != nil {
		return RawDevice{}, err
	}
	raw.Properties = props
	raw.Devnode = props["DEVNAME"]

	raw.HasUSBAncestor = p.hasUSBAncestor(syspath)

	slaves, err := readSlaves(syspath)
	if err != nil {
		return RawDevice{}, err
	}
	raw.Slaves = slaves

	return raw, nil
}

// properties queries the udev database for the device at syspath.
func (p *UdevadmProbe) properties(syspath string) (map[string]string, error) {
	out, err := p.runner("info", "--query", "property", "--path", syspath)
	if err != nil {
		return nil, fmt.Errorf("query properties of %s: %w", syspath, err)
	}
	return parseProperties(bytes.NewReader(out))
}

// parseProperties reads KEY=value lines as printed by
// udevadm info --query property.
func parseProperties(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		props[key] = value
	}
	return props, scanner.Err()
}

// hasUSBAncestor walks the parent chain of a sysfs device directory
// looking for a node of the usb subsystem.
func (p *UdevadmProbe) hasUSBAncestor(syspath string) bool {
	root := filepath.Clean(p.sysRoot)
	for dir := filepath.Dir(syspath); strings.HasPrefix(dir, root+string(os.PathSeparator)); dir = filepath.Dir(dir) {
		target, err := os.Readlink(filepath.Join(dir, "subsystem"))
		if err != nil {
			continue
		}
		if filepath.Base(target) == "usb" {
			return true
		}
	}
	return false
}

// readSlaves lists the backing devices of a device-mapper node via its
// sysfs slaves directory. Devices without one yield no slaves.
func readSlaves(syspath string) ([]string, error) {
	slavesDir := filepath.Join(syspath, "slaves")
	entries, err := os.ReadDir(slavesDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", slavesDir, err)
	}

	slaves := make([]string, 0, len(entries))
	for _, entry := range entries {
		resolved, err := filepath.EvalSymlinks(filepath.Join(slavesDir, entry.Name()))
		if err != nil {
			log.Debug("unresolvable slave entry", "device", syspath, "slave", entry.Name(), "error", err)
			continue
		}
		slaves = append(slaves, resolved)
	}

	return slaves, nil
}

func readAttr(syspath, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(syspath, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
