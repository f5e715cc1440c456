package blockdev

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/dotvezz/usbmount/internal/log"
)

const (
	udisksService     = "org.freedesktop.UDisks2"
	udisksRootPath    = "/org/freedesktop/UDisks2"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	udisksBlockInterface = "org.freedesktop.UDisks2.Block"
	udisksDriveInterface = "org.freedesktop.UDisks2.Drive"
)

// managedObjects is the GetManagedObjects result shape:
// object path -> interface name -> property name -> value.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// UDisksProbe implements Probe against the UDisks2 daemon. Device
// identifiers are UDisks2 block object paths.
type UDisksProbe struct {
	conn      DBusConnection
	connectFn func() (DBusConnection, error)

	// objects caches the managed object tree for the lifetime of the
	// probe; this process is one-shot, so a single snapshot is enough.
	objects managedObjects
}

// UDisksOption is a functional option for UDisksProbe.
type UDisksOption func(*UDisksProbe)

// WithConnection sets a custom DBus connection (for testing).
func WithConnection(conn DBusConnection) UDisksOption {
	return func(p *UDisksProbe) {
		p.conn = conn
		p.connectFn = nil
	}
}

// NewUDisksProbe creates a probe talking to udisksd on the system bus.
func NewUDisksProbe(opts ...UDisksOption) (*UDisksProbe, error) {
	p := &UDisksProbe{
		connectFn: ConnectSystemBus,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.conn == nil {
		conn, err := p.connectFn()
		if err != nil {
			return nil, fmt.Errorf("connect to system bus: %w", err)
		}
		p.conn = conn
	}

	return p, nil
}

// Close closes the DBus connection.
func (p *UDisksProbe) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// List enumerates every UDisks2 block device.
func (p *UDisksProbe) List() ([]RawDevice, error) {
	objects, err := p.managedObjects()
	if err != nil {
		return nil, err
	}

	var devices []RawDevice
	for path, interfaces := range objects {
		blockProps, ok := interfaces[udisksBlockInterface]
		if !ok {
			continue
		}
		raw, err := p.rawFromBlock(path, blockProps, objects)
		if err != nil {
			return nil, err
		}
		devices = append(devices, raw)
	}

	return devices, nil
}

// At returns the block device at the given UDisks2 object path.
func (p *UDisksProbe) At(id string) (RawDevice, error) {
	objects, err := p.managedObjects()
	if err != nil {
		return RawDevice{}, err
	}

	blockProps, ok := objects[dbus.ObjectPath(id)][udisksBlockInterface]
	if !ok {
		return RawDevice{}, ErrNotFound
	}

	return p.rawFromBlock(dbus.ObjectPath(id), blockProps, objects)
}

// managedObjects fetches (once) the full UDisks2 object tree.
func (p *UDisksProbe) managedObjects() (managedObjects, error) {
	if p.objects != nil {
		return p.objects, nil
	}

	obj := p.conn.Object(udisksService, dbus.ObjectPath(udisksRootPath))

	var result managedObjects
	call := obj.Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&result); err != nil {
		return nil, fmt.Errorf("store GetManagedObjects result: %w", err)
	}

	p.objects = result
	return result, nil
}

// rawFromBlock maps a UDisks2 Block object onto a RawDevice, pulling
// USB ancestry and the model from its Drive object.
func (p *UDisksProbe) rawFromBlock(path dbus.ObjectPath, props map[string]dbus.Variant, objects managedObjects) (RawDevice, error) {
	raw := RawDevice{
		ID:          string(path),
		SizeSectors: -1,
		Properties:  make(map[string]string),
	}

	raw.Devnode = cString(variantBytes(props["Device"]))
	if raw.Devnode == "" {
		return RawDevice{}, fmt.Errorf("block object %s: missing Device property", path)
	}

	if devno, ok := variantUint64(props["DeviceNumber"]); ok {
		raw.DevID = fmt.Sprintf("%d:%d", unix.Major(devno), unix.Minor(devno))
	}
	if size, ok := variantUint64(props["Size"]); ok {
		raw.SizeSectors = int64(size / 512)
	}

	// IdType carries any detected superblock signature, crypto_LUKS
	// included, matching udev's ID_FS_TYPE.
	if fsType, ok := variantString(props["IdType"]); ok && fsType != "" {
		raw.Properties[PropFSType] = fsType
	}
	if label, ok := variantString(props["IdLabel"]); ok && label != "" {
		raw.Properties[PropFSLabel] = label
	}

	// A cleartext device unlocked from an encrypted block names its
	// backing device; that is the dm "slaves" relation here.
	if backing, ok := variantObjectPath(props["CryptoBackingDevice"]); ok && backing != "/" {
		raw.Properties[PropDMName] = strings.TrimPrefix(raw.Devnode, "/dev/")
		raw.Slaves = []string{string(backing)}
	}

	if drivePath, ok := variantObjectPath(props["Drive"]); ok && drivePath != "/" {
		driveProps, ok := objects[drivePath][udisksDriveInterface]
		if !ok {
			log.Debug("drive object not found", "block", path, "drive", drivePath)
		} else {
			if bus, _ := variantString(driveProps["ConnectionBus"]); bus == "usb" {
				raw.HasUSBAncestor = true
			}
			if model, _ := variantString(driveProps["Model"]); model != "" {
				raw.Properties[PropModel] = model
			}
		}
	}

	return raw, nil
}

func variantString(v dbus.Variant) (string, bool) {
	s, ok := v.Value().(string)
	return s, ok
}

func variantUint64(v dbus.Variant) (uint64, bool) {
	n, ok := v.Value().(uint64)
	return n, ok
}

func variantObjectPath(v dbus.Variant) (dbus.ObjectPath, bool) {
	p, ok := v.Value().(dbus.ObjectPath)
	return p, ok
}

func variantBytes(v dbus.Variant) []byte {
	b, _ := v.Value().([]byte)
	return b
}

// cString interprets a NUL-terminated byte array as a string, the way
// UDisks2 encodes device paths.
func cString(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
