// Package sudo re-executes the process with elevated privileges.
package sudo

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/dotvezz/usbmount/internal/log"
)

// EscalateIfNeeded replaces the current process with a sudo invocation
// of the same binary and arguments when not already running as root.
// On success it does not return; sudo sets SUDO_USER/SUDO_UID/SUDO_GID
// so the escalated process can still attribute work to the invoking
// user.
func EscalateIfNeeded() error {
	if os.Geteuid() == 0 {
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable: %w", err)
	}

	sudoPath, err := exec.LookPath("sudo")
	if err != nil {
		return fmt.Errorf("sudo not found, rerun as root or use --skip-escalate: %w", err)
	}

	argv := append([]string{"sudo", exe}, os.Args[1:]...)
	log.Debug("escalating privileges", "sudo", sudoPath, "exe", exe)

	if err := unix.Exec(sudoPath, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec sudo: %w", err)
	}
	return nil
}
