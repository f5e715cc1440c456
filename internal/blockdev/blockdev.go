// Package blockdev discovers block devices attached through USB,
// either directly or behind a device-mapper layer, and correlates them
// with the live mount table.
package blockdev

import (
	"errors"
	"fmt"

	"github.com/dotvezz/usbmount/internal/log"
	"github.com/dotvezz/usbmount/internal/mountinfo"
)

// Well-known udev property names carried by RawDevice.Properties. The
// dbus backend maps UDisks2 data onto the same keys.
const (
	PropFSType  = "ID_FS_TYPE"
	PropFSLabel = "ID_FS_LABEL"
	PropModel   = "ID_MODEL"
	PropDMName  = "DM_NAME"
)

// ErrNotFound is returned by Probe.At when no device exists at the
// given identifier.
var ErrNotFound = errors.New("device not found")

// RawDevice is one node of the block subsystem as reported by a Probe,
// before classification.
type RawDevice struct {
	// ID is a backend-specific stable identifier: the sysfs path for
	// the udevadm backend, the D-Bus object path for the udisks
	// backend. Slaves entries are identifiers of the same kind.
	ID string
	// Devnode is the /dev special file path.
	Devnode string
	// DevID is the "major:minor" pair matching mount table identifiers.
	DevID string
	// SizeSectors is the device size in 512-byte sectors, or -1 when
	// the backend could not read it.
	SizeSectors int64
	// HasUSBAncestor reports whether a device of the usb subsystem
	// appears in the parent chain.
	HasUSBAncestor bool
	// Slaves identifies the backing devices of a device-mapper node.
	Slaves []string
	// Properties holds udev-style properties (PropFSType etc.).
	Properties map[string]string
}

// Probe enumerates block devices. Implementations: UdevadmProbe and
// UDisksProbe.
type Probe interface {
	// List returns every device in the block subsystem.
	List() ([]RawDevice, error)
	// At returns the device with the given identifier, or ErrNotFound.
	At(id string) (RawDevice, error)
}

// Device is a partition eligible for mount/unmount. Instances are
// read-only snapshots built fresh on every run.
type Device struct {
	// Path is the block special file, e.g. /dev/sdb1.
	Path string
	// Label is the filesystem label, empty when unset.
	Label string
	// Filesystem is the detected filesystem type. Always present;
	// devices without one are never part of the inventory.
	Filesystem string
	// SizeBytes is the partition size (sector count times 512).
	SizeBytes uint64
	// USBModel is the model string of the upstream USB device, empty
	// when the device does not report one.
	USBModel string
	// MountPoints lists where the device is currently mounted, in
	// mount table order. Empty when unmounted.
	MountPoints []string
}

// Mounted reports whether the device has at least one mount point.
func (d Device) Mounted() bool {
	return len(d.MountPoints) > 0
}

type outcome int

const (
	excluded outcome = iota
	included
	// ambiguousTopology marks a device-mapper device with more than
	// one slave. Whether such a device should count as USB-attached is
	// not decidable from a single slave, so it is surfaced and skipped
	// instead of silently picking one.
	ambiguousTopology
)

// Classifier builds the inventory of USB-backed partitions.
type Classifier struct {
	probe  Probe
	mounts *mountinfo.Table
}

// NewClassifier creates a classifier over the given probe and mount
// table.
func NewClassifier(probe Probe, mounts *mountinfo.Table) *Classifier {
	return &Classifier{
		probe:  probe,
		mounts: mounts,
	}
}

// List enumerates the block subsystem and returns every classified
// device. Devices that fail the classification predicate are omitted
// silently; a classified device missing a required attribute is an
// error.
func (c *Classifier) List() ([]Device, error) {
	raws, err := c.probe.List()
	if err != nil {
		return nil, fmt.Errorf("enumerate block devices: %w", err)
	}

	var devices []Device
	for _, raw := range raws {
		dev, result, err := c.classify(raw)
		if err != nil {
			return nil, err
		}

		switch result {
		case included:
			devices = append(devices, dev)
		case ambiguousTopology:
			log.Warn("device-mapper device has multiple slaves, skipping",
				"device", raw.ID, "slaves", raw.Slaves)
		}
	}

	return devices, nil
}

func (c *Classifier) classify(raw RawDevice) (Device, outcome, error) {
	fsType, ok := raw.Properties[PropFSType]
	if !ok {
		// No filesystem signature, nothing we could mount.
		return Device{}, excluded, nil
	}

	// modelProps is where the USB model is read from: the device's own
	// properties in the direct case, the slave's in the dm case.
	var modelProps map[string]string

	switch {
	case raw.HasUSBAncestor:
		modelProps = raw.Properties

	case hasProp(raw, PropDMName):
		slave, result, err := c.resolveSlave(raw)
		if err != nil || result != included {
			return Device{}, result, err
		}
		modelProps = slave.Properties

	default:
		return Device{}, excluded, nil
	}

	// The predicate established this device should be mountable; a
	// missing attribute now means a broken assumption about the host.
	if raw.Devnode == "" {
		return Device{}, excluded, fmt.Errorf("device %s: no devnode", raw.ID)
	}
	if raw.DevID == "" {
		return Device{}, excluded, fmt.Errorf("device %s: no dev identifier", raw.ID)
	}
	if raw.SizeSectors < 0 {
		return Device{}, excluded, fmt.Errorf("device %s: no size attribute", raw.ID)
	}

	dev := Device{
		Path:        raw.Devnode,
		Label:       raw.Properties[PropFSLabel],
		Filesystem:  fsType,
		SizeBytes:   uint64(raw.SizeSectors) * 512,
		USBModel:    modelProps[PropModel],
		MountPoints: c.mounts.Lookup(raw.DevID),
	}

	return dev, included, nil
}

func hasProp(raw RawDevice, key string) bool {
	_, ok := raw.Properties[key]
	return ok
}

// resolveSlave resolves the single backing device of a device-mapper
// node and checks its USB ancestry.
func (c *Classifier) resolveSlave(raw RawDevice) (RawDevice, outcome, error) {
	switch len(raw.Slaves) {
	case 0:
		return RawDevice{}, excluded, nil
	case 1:
		// continue below
	default:
		return RawDevice{}, ambiguousTopology, nil
	}

	slave, err := c.probe.At(raw.Slaves[0])
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RawDevice{}, excluded, nil
		}
		return RawDevice{}, excluded, fmt.Errorf("resolve slave of %s: %w", raw.ID, err)
	}

	if !slave.HasUSBAncestor {
		return RawDevice{}, excluded, nil
	}

	return slave, included, nil
}
