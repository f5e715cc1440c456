package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotvezz/usbmount/internal/blockdev"
	"github.com/dotvezz/usbmount/internal/identity"
	"github.com/dotvezz/usbmount/internal/mountpath"
)

type mountCall struct {
	source, target, fsType, options string
}

// fakeMounter records mount calls and fails unmounts for targets
// listed in failUnmount.
type fakeMounter struct {
	mounts      []mountCall
	unmounts    []string
	failMount   error
	failUnmount map[string]error
}

func (m *fakeMounter) Mount(source, target, fsType, options string) error {
	if m.failMount != nil {
		return m.failMount
	}
	m.mounts = append(m.mounts, mountCall{source, target, fsType, options})
	return nil
}

func (m *fakeMounter) Unmount(target string) error {
	if err := m.failUnmount[target]; err != nil {
		return err
	}
	m.unmounts = append(m.unmounts, target)
	return nil
}

type fixedAllocator struct {
	path string
	err  error
}

func (a fixedAllocator) Allocate(blockdev.Device) (string, error) {
	return a.path, a.err
}

type fixedResolver struct{}

func (fixedResolver) Current() (identity.User, error) {
	return identity.User{Username: "joe", UID: 1000, GID: 1000}, nil
}

func newTestDriver(m *fakeMounter, allocPath string) *Driver {
	return NewDriver(m, fixedAllocator{path: allocPath}, fixedResolver{})
}

func TestMountAlreadyMounted(t *testing.T) {
	m := &fakeMounter{}
	d := newTestDriver(m, "/unused")

	dev := blockdev.Device{
		Path:        "/dev/sdb1",
		Filesystem:  "vfat",
		MountPoints: []string{"/mnt/stick", "/srv/backup"},
	}

	_, err := d.Mount(dev, "", "")
	var amErr *AlreadyMountedError
	require.ErrorAs(t, err, &amErr)
	assert.Equal(t, "/mnt/stick", amErr.MountPoint, "first existing mount point is reported")
	assert.Empty(t, m.mounts, "no filesystem mutation on rejection")
}

func TestMountAllocatesPathWhenMissing(t *testing.T) {
	m := &fakeMounter{}
	d := newTestDriver(m, "/var/run/media/joe/STICK")

	dev := blockdev.Device{Path: "/dev/sdb1", Filesystem: "ext4"}

	path, err := d.Mount(dev, "", "")
	require.NoError(t, err)
	assert.Equal(t, "/var/run/media/joe/STICK", path)

	require.Len(t, m.mounts, 1)
	assert.Equal(t, mountCall{"/dev/sdb1", "/var/run/media/joe/STICK", "ext4", ""}, m.mounts[0])
}

func TestMountUsesExplicitPath(t *testing.T) {
	m := &fakeMounter{}
	d := NewDriver(m, fixedAllocator{err: errors.New("must not be called")}, fixedResolver{})

	dev := blockdev.Device{Path: "/dev/sdb1", Filesystem: "ext4"}

	path, err := d.Mount(dev, "/mnt/here", "")
	require.NoError(t, err)
	assert.Equal(t, "/mnt/here", path)
}

func TestMountDefaultOptions(t *testing.T) {
	tests := []struct {
		fsType      string
		options     string
		wantOptions string
	}{
		{"vfat", "", "uid=1000,gid=1000"},
		{"ntfs", "", "uid=1000,gid=1000"},
		{"exfat", "", "uid=1000,gid=1000"},
		{"ext4", "", ""},
		{"vfat", "ro", "ro"},
		{"ext4", "noatime", "noatime"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%q", tt.fsType, tt.options), func(t *testing.T) {
			m := &fakeMounter{}
			d := newTestDriver(m, "/mnt/auto")

			dev := blockdev.Device{Path: "/dev/sdb1", Filesystem: tt.fsType}
			_, err := d.Mount(dev, "", tt.options)
			require.NoError(t, err)

			require.Len(t, m.mounts, 1)
			assert.Equal(t, tt.wantOptions, m.mounts[0].options)
		})
	}
}

func TestUnmountNotMounted(t *testing.T) {
	d := newTestDriver(&fakeMounter{}, "/unused")

	_, err := d.Unmount(blockdev.Device{Path: "/dev/sdb1"})
	assert.ErrorIs(t, err, ErrNotMounted)
}

// markedDir creates a mount-point directory carrying the marker file.
func markedDir(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, mountpath.MarkerFile), nil, 0o644))
	return dir
}

func TestUnmountPartialFailure(t *testing.T) {
	first := markedDir(t, "first")
	second := markedDir(t, "second")

	m := &fakeMounter{failUnmount: map[string]error{first: errors.New("target is busy")}}
	d := newTestDriver(m, "/unused")

	dev := blockdev.Device{Path: "/dev/sdb1", MountPoints: []string{first, second}}

	results, err := d.Unmount(dev)
	require.NoError(t, err)
	require.Len(t, results, 2, "second point is still attempted after the first fails")

	assert.Error(t, results[0].Err)
	assert.False(t, results[0].Removed)
	assert.DirExists(t, first, "failed mount point is left alone")

	assert.NoError(t, results[1].Err)
	assert.True(t, results[1].Removed)
	assert.NoDirExists(t, second)
}

func TestUnmountLeavesForeignDirectories(t *testing.T) {
	dir := t.TempDir() // no marker file

	m := &fakeMounter{}
	d := newTestDriver(m, "/unused")

	results, err := d.Unmount(blockdev.Device{Path: "/dev/sdb1", MountPoints: []string{dir}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.NoError(t, results[0].Err)
	assert.False(t, results[0].Removed)
	assert.DirExists(t, dir)
}
