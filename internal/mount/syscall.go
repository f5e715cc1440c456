package mount

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dotvezz/usbmount/internal/log"
)

// SyscallMounter implements Mounter using the mount(2)/umount(2)
// syscalls directly.
type SyscallMounter struct{}

// NewSyscallMounter creates a new syscall-based mounter
func NewSyscallMounter() *SyscallMounter {
	return &SyscallMounter{}
}

// Mount mounts the source device at the target directory
func (m *SyscallMounter) Mount(source, target, fsType, options string) error {
	log.Debug("mounting filesystem", "source", source, "target", target, "type", fsType, "options", options)

	if err := unix.Mount(source, target, fsType, 0, options); err != nil {
		return fmt.Errorf("mount %s to %s: %w", source, target, err)
	}

	log.Debug("mounted successfully", "source", source, "target", target)
	return nil
}

// Unmount unmounts the target directory
func (m *SyscallMounter) Unmount(target string) error {
	log.Debug("unmounting", "target", target)

	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}

	log.Debug("unmounted successfully", "target", target)
	return nil
}
