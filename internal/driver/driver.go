// Package driver orchestrates mount and unmount actions against a
// classified device, enforcing the mounted-state pre-conditions and
// cleaning up self-created mount directories.
package driver

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dotvezz/usbmount/internal/blockdev"
	"github.com/dotvezz/usbmount/internal/identity"
	"github.com/dotvezz/usbmount/internal/log"
	"github.com/dotvezz/usbmount/internal/mount"
	"github.com/dotvezz/usbmount/internal/mountpath"
)

// ErrNotMounted is returned by Unmount for a device without any mount
// point.
var ErrNotMounted = errors.New("device has no mount point")

// AlreadyMountedError is returned by Mount for a device that is
// already mounted somewhere.
type AlreadyMountedError struct {
	Device     string
	MountPoint string
}

func (e *AlreadyMountedError) Error() string {
	return fmt.Sprintf("device %s already mounted at %s", e.Device, e.MountPoint)
}

// defaultOptionFilesystems lists the filesystem types that get an
// explicit uid/gid mapping when the caller supplied no options. These
// have no native ownership, so without the mapping everything would
// belong to root after escalation.
var defaultOptionFilesystems = []string{"ntfs", "vfat", "exfat"}

// PathAllocator derives a mount directory for a device. Implemented by
// mountpath.Allocator.
type PathAllocator interface {
	Allocate(dev blockdev.Device) (string, error)
}

// PointResult is the outcome of unmounting one mount point.
type PointResult struct {
	MountPoint string
	// Removed reports whether the mount directory carried the marker
	// file and was cleaned up.
	Removed bool
	Err     error
}

// Driver executes mount and unmount actions.
type Driver struct {
	mounter mount.Mounter
	alloc   PathAllocator
	ident   identity.Resolver
}

// NewDriver creates a driver over the given mounter, path allocator
// and identity resolver.
func NewDriver(mounter mount.Mounter, alloc PathAllocator, ident identity.Resolver) *Driver {
	return &Driver{
		mounter: mounter,
		alloc:   alloc,
		ident:   ident,
	}
}

// Mount mounts the device and returns the mount path. When path is
// empty, a directory is allocated under the auto-mount root. A device
// that is already mounted is rejected before any filesystem mutation.
func (d *Driver) Mount(dev blockdev.Device, path, options string) (string, error) {
	if dev.Mounted() {
		return "", &AlreadyMountedError{Device: dev.Path, MountPoint: dev.MountPoints[0]}
	}

	if path == "" {
		allocated, err := d.alloc.Allocate(dev)
		if err != nil {
			return "", fmt.Errorf("allocate mount path: %w", err)
		}
		path = allocated
	}

	if options == "" && slices.Contains(defaultOptionFilesystems, dev.Filesystem) {
		user, err := d.ident.Current()
		if err != nil {
			return "", fmt.Errorf("resolve mount ownership: %w", err)
		}
		options = fmt.Sprintf("uid=%d,gid=%d", user.UID, user.GID)
	}

	if err := d.mounter.Mount(dev.Path, path, dev.Filesystem, options); err != nil {
		return "", err
	}

	log.Info("device mounted", "device", dev.Path, "path", path, "fs", dev.Filesystem)
	return path, nil
}

// Unmount unmounts every known mount point of the device. A failure at
// one point does not stop processing of the remaining points; each
// result is reported individually. After a successful unmount, the
// mount directory is removed when it carries the marker file.
func (d *Driver) Unmount(dev blockdev.Device) ([]PointResult, error) {
	if !dev.Mounted() {
		return nil, ErrNotMounted
	}

	results := make([]PointResult, 0, len(dev.MountPoints))
	for _, point := range dev.MountPoints {
		res := PointResult{MountPoint: point}

		if err := d.mounter.Unmount(point); err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}

		removed, err := mountpath.Cleanup(point)
		if err != nil {
			res.Err = fmt.Errorf("unmounted, but cleanup failed: %w", err)
		}
		res.Removed = removed
		results = append(results, res)
	}

	log.Info("device unmounted", "device", dev.Path, "points", len(results))
	return results, nil
}
