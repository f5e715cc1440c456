// Package mountpath allocates collision-free mount directories under
// the auto-mount root and cleans them up again after unmount. A marker
// file inside each created directory is the only reliable signal that
// the directory is ours to remove.
package mountpath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dotvezz/usbmount/internal/blockdev"
	"github.com/dotvezz/usbmount/internal/identity"
	"github.com/dotvezz/usbmount/internal/log"
)

// MarkerFile is the sentinel dropped into every directory this tool
// creates.
const MarkerFile = ".create_by_usbmount"

// Allocator computes and creates mount directories of the form
// <root>/<user>/<name>[-<n>].
type Allocator struct {
	root  string
	ident identity.Resolver
}

// NewAllocator creates an allocator rooted at the auto-mount directory.
func NewAllocator(root string, ident identity.Resolver) *Allocator {
	return &Allocator{
		root:  root,
		ident: ident,
	}
}

// Allocate picks an unused path for the device, creates the directory
// (with parents) and drops the marker file into it. The base name is
// the partition label when set, else the devnode base name; an
// existing path gets a numeric suffix starting at -0.
func (a *Allocator) Allocate(dev blockdev.Device) (string, error) {
	base := dev.Label
	if base == "" {
		base = filepath.Base(dev.Path)
	}

	user, err := a.ident.Current()
	if err != nil {
		return "", err
	}

	path := filepath.Join(a.root, user.Username, base)
	if pathExists(path) {
		for n := 0; ; n++ {
			candidate := fmt.Sprintf("%s-%d", path, n)
			if !pathExists(candidate) {
				path = candidate
				break
			}
		}
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create mount path %s: %w", path, err)
	}
	if err := os.WriteFile(filepath.Join(path, MarkerFile), nil, 0o644); err != nil {
		return "", fmt.Errorf("create marker file in %s: %w", path, err)
	}

	log.Debug("allocated mount path", "device", dev.Path, "path", path)
	return path, nil
}

// Cleanup removes the marker and the now-empty directory at path when
// the marker is present. Directories without the marker were not
// created by this tool and are left untouched. It reports whether the
// directory was removed.
func Cleanup(path string) (bool, error) {
	marker := filepath.Join(path, MarkerFile)
	if !pathExists(marker) {
		return false, nil
	}

	if err := os.Remove(marker); err != nil {
		return false, fmt.Errorf("remove marker file %s: %w", marker, err)
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("remove mount path %s: %w", path, err)
	}

	log.Debug("removed mount path", "path", path)
	return true, nil
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
