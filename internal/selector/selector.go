// Package selector renders classified devices as one-line summaries
// and drives the interactive picker.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/manifoldco/promptui"

	"github.com/dotvezz/usbmount/internal/blockdev"
)

// ErrCanceled is returned when the operator dismisses the prompt.
var ErrCanceled = errors.New("selection canceled")

// Describe renders a device the way the info listing shows it:
//
//	/dev/sdb1 [MountPoint(["/mnt/stick"]) FileSystem("vfat") Size("1.0 MiB") Label("STICK") Model(None)]
func Describe(dev blockdev.Device) string {
	return fmt.Sprintf("%s [MountPoint(%s) FileSystem(%s) Size(%s) Label(%s) Model(%s)]",
		dev.Path,
		formatMountPoints(dev.MountPoints),
		formatString(dev.Filesystem),
		formatString(humanize.IBytes(dev.SizeBytes)),
		formatOptional(dev.Label),
		formatOptional(dev.USBModel),
	)
}

// describeForMount omits the (empty) mount point list shown to the
// operator when picking a device to mount.
func describeForMount(dev blockdev.Device) string {
	return fmt.Sprintf("%s [FileSystem(%s) Size(%s) Label(%s) Model(%s)]",
		dev.Path,
		formatString(dev.Filesystem),
		formatString(humanize.IBytes(dev.SizeBytes)),
		formatOptional(dev.Label),
		formatOptional(dev.USBModel),
	)
}

func formatString(s string) string {
	return fmt.Sprintf("%q", s)
}

func formatOptional(s string) string {
	if s == "" {
		return "None"
	}
	return fmt.Sprintf("%q", s)
}

func formatMountPoints(points []string) string {
	quoted := make([]string, 0, len(points))
	for _, p := range points {
		quoted = append(quoted, fmt.Sprintf("%q", p))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// Pick prompts the operator to choose one of the devices. The rows
// include mount points only when withMountPoints is set (unmounted
// candidates have nothing to show there).
func Pick(prompt string, devices []blockdev.Device, withMountPoints bool) (blockdev.Device, error) {
	rows := make([]string, 0, len(devices))
	for _, dev := range devices {
		if withMountPoints {
			rows = append(rows, Describe(dev))
		} else {
			rows = append(rows, describeForMount(dev))
		}
	}

	sel := promptui.Select{
		Label:        prompt,
		Items:        rows,
		HideSelected: true,
	}

	index, _, err := sel.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort) {
			return blockdev.Device{}, ErrCanceled
		}
		return blockdev.Device{}, fmt.Errorf("interactive selection: %w", err)
	}

	return devices[index], nil
}
