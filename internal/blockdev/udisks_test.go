package blockdev

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBusObject implements dbus.BusObject for testing
type mockBusObject struct {
	callResults map[string]*dbus.Call
}

func (m *mockBusObject) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	if call, ok := m.callResults[method]; ok {
		return call
	}
	return &dbus.Call{Err: dbus.ErrMsgNoObject}
}

func (m *mockBusObject) CallWithContext(_ context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call {
	return m.Call(method, flags, args...)
}

func (m *mockBusObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return m.Call(method, flags, args...)
}

func (m *mockBusObject) GoWithContext(_ context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return m.Call(method, flags, args...)
}

func (m *mockBusObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (m *mockBusObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (m *mockBusObject) GetProperty(p string) (dbus.Variant, error) {
	return dbus.Variant{}, nil
}

func (m *mockBusObject) StoreProperty(p string, value any) error {
	return nil
}

func (m *mockBusObject) SetProperty(p string, v any) error {
	return nil
}

func (m *mockBusObject) Destination() string {
	return udisksService
}

func (m *mockBusObject) Path() dbus.ObjectPath {
	return dbus.ObjectPath(udisksRootPath)
}

// mockDBusConnection implements DBusConnection for testing
type mockDBusConnection struct {
	root *mockBusObject
}

func (m *mockDBusConnection) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return m.root
}

func (m *mockDBusConnection) Close() error {
	return nil
}

func managedObjectsCall(objects managedObjects) *dbus.Call {
	return &dbus.Call{Body: []any{objects}}
}

func mockProbe(t *testing.T, objects managedObjects) *UDisksProbe {
	t.Helper()
	conn := &mockDBusConnection{
		root: &mockBusObject{
			callResults: map[string]*dbus.Call{
				dbusObjectManager + ".GetManagedObjects": managedObjectsCall(objects),
			},
		},
	}
	probe, err := NewUDisksProbe(WithConnection(conn))
	require.NoError(t, err)
	return probe
}

const (
	testBlockPath = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb1")
	testDrivePath = dbus.ObjectPath("/org/freedesktop/UDisks2/drives/Cruzer_Blade")
)

func usbManagedObjects() managedObjects {
	return managedObjects{
		testBlockPath: {
			udisksBlockInterface: {
				"Device":              dbus.MakeVariant(append([]byte("/dev/sdb1"), 0)),
				"DeviceNumber":        dbus.MakeVariant(uint64(8<<8 | 17)),
				"Size":                dbus.MakeVariant(uint64(1048576)),
				"IdType":              dbus.MakeVariant("vfat"),
				"IdLabel":             dbus.MakeVariant("STICK"),
				"Drive":               dbus.MakeVariant(testDrivePath),
				"CryptoBackingDevice": dbus.MakeVariant(dbus.ObjectPath("/")),
			},
		},
		testDrivePath: {
			udisksDriveInterface: {
				"ConnectionBus": dbus.MakeVariant("usb"),
				"Model":         dbus.MakeVariant("Cruzer Blade"),
			},
		},
	}
}

func TestUDisksProbeList(t *testing.T) {
	probe := mockProbe(t, usbManagedObjects())

	devices, err := probe.List()
	require.NoError(t, err)
	require.Len(t, devices, 1, "drive objects are not block devices")

	raw := devices[0]
	assert.Equal(t, string(testBlockPath), raw.ID)
	assert.Equal(t, "/dev/sdb1", raw.Devnode, "trailing NUL stripped")
	assert.Equal(t, "8:17", raw.DevID)
	assert.Equal(t, int64(2048), raw.SizeSectors)
	assert.True(t, raw.HasUSBAncestor)
	assert.Equal(t, "vfat", raw.Properties[PropFSType])
	assert.Equal(t, "STICK", raw.Properties[PropFSLabel])
	assert.Equal(t, "Cruzer Blade", raw.Properties[PropModel])
	assert.Empty(t, raw.Slaves)
}

func TestUDisksProbeCryptoBackingDevice(t *testing.T) {
	objects := usbManagedObjects()
	cleartext := dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/dm_2d0")
	objects[cleartext] = map[string]map[string]dbus.Variant{
		udisksBlockInterface: {
			"Device":              dbus.MakeVariant(append([]byte("/dev/dm-0"), 0)),
			"DeviceNumber":        dbus.MakeVariant(uint64(254 << 8)),
			"Size":                dbus.MakeVariant(uint64(524288)),
			"IdType":              dbus.MakeVariant("ext4"),
			"Drive":               dbus.MakeVariant(dbus.ObjectPath("/")),
			"CryptoBackingDevice": dbus.MakeVariant(testBlockPath),
		},
	}
	probe := mockProbe(t, objects)

	raw, err := probe.At(string(cleartext))
	require.NoError(t, err)

	assert.False(t, raw.HasUSBAncestor)
	assert.Equal(t, "dm-0", raw.Properties[PropDMName])
	assert.Equal(t, []string{string(testBlockPath)}, raw.Slaves)

	// The slave resolves back to the USB block device.
	slave, err := probe.At(raw.Slaves[0])
	require.NoError(t, err)
	assert.True(t, slave.HasUSBAncestor)
}

func TestUDisksProbeAtUnknownPath(t *testing.T) {
	probe := mockProbe(t, usbManagedObjects())

	_, err := probe.At("/org/freedesktop/UDisks2/block_devices/nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}
