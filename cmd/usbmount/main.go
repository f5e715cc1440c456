package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/dotvezz/usbmount/internal/blockdev"
	"github.com/dotvezz/usbmount/internal/config"
	"github.com/dotvezz/usbmount/internal/driver"
	"github.com/dotvezz/usbmount/internal/identity"
	"github.com/dotvezz/usbmount/internal/log"
	"github.com/dotvezz/usbmount/internal/mount"
	"github.com/dotvezz/usbmount/internal/mountinfo"
	"github.com/dotvezz/usbmount/internal/mountpath"
	"github.com/dotvezz/usbmount/internal/selector"
	"github.com/dotvezz/usbmount/internal/sudo"
	"github.com/dotvezz/usbmount/internal/validation"
	"github.com/dotvezz/usbmount/internal/version"
)

// errNoDevices means the classifier found nothing mountable at all.
var errNoDevices = errors.New("usb block device not found")

func main() {
	// Ignore SIGINT for the whole run: a ^C during the sudo password
	// prompt or the interactive picker must not kill this process
	// before sudo itself exits. The disposition survives the
	// re-exec under sudo.
	signal.Ignore(os.Interrupt)

	cmd := &cli.Command{
		Name:  "usbmount",
		Usage: "External storage devices mounting tool",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "skip-escalate",
				Aliases: []string{"s"},
				Usage:   "Do not escalate privileges via sudo",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path",
				Value:   config.DefaultConfigPath,
			},
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"V"},
				Usage:   "Print version information",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "mount",
				Aliases:   []string{"m"},
				Usage:     "Mount an external storage partition",
				ArgsUsage: "[device] [mountpath]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "auto-mount-dir",
						Aliases: []string{"d"},
						Usage:   "Root directory for auto-allocated mount paths",
					},
					&cli.StringFlag{
						Name:    "mount-option",
						Aliases: []string{"o"},
						Usage:   "Mount options passed to mount(2)",
					},
				},
				Action: runMount,
			},
			{
				Name:      "umount",
				Aliases:   []string{"u"},
				Usage:     "Unmount an external storage partition",
				ArgsUsage: "[device]",
				Action:    runUmount,
			},
			{
				Name:    "info",
				Aliases: []string{"i"},
				Usage:   "List all external storage partitions",
				Action:  runInfo,
			},
		},
		Action: runRoot,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runRoot(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("version") {
		fmt.Println(version.String())
		return nil
	}
	return cli.ShowAppHelp(cmd)
}

// setup initializes logging and loads the effective configuration.
func setup(cmd *cli.Command) (*config.Config, error) {
	log.Setup(cmd.Bool("verbose"))

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg.Merge(
		cmd.String("auto-mount-dir"),
		"", // backend has no CLI flag, config file only
		cmd.String("mount-option"),
	)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// inventory builds the mount table once and classifies the block
// subsystem against it.
func inventory(cfg *config.Config) ([]blockdev.Device, error) {
	table, err := mountinfo.Load()
	if err != nil {
		return nil, fmt.Errorf("parse mount table: %w", err)
	}

	probe, err := newProbe(cfg.Backend)
	if err != nil {
		return nil, err
	}

	return blockdev.NewClassifier(probe, table).List()
}

func newProbe(backend string) (blockdev.Probe, error) {
	switch backend {
	case "udevadm":
		return blockdev.NewUdevadmProbe(), nil
	case "dbus":
		return blockdev.NewUDisksProbe()
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'udevadm' or 'dbus')", backend)
	}
}

// chooseDevice applies the shared selection rules: an explicit device
// path must be part of the inventory; with no explicit path, a single
// candidate is auto-selected and several go through the interactive
// picker, filtered by mounted state.
func chooseDevice(devices []blockdev.Device, devPath, prompt, emptyMsg string, wantMounted bool) (blockdev.Device, error) {
	if devPath != "" {
		if err := validation.ValidateDevicePath(devPath); err != nil {
			return blockdev.Device{}, err
		}
		for _, dev := range devices {
			if dev.Path == devPath {
				return dev, nil
			}
		}
		return blockdev.Device{}, fmt.Errorf("device %q not found or not a portable block device", devPath)
	}

	switch len(devices) {
	case 0:
		return blockdev.Device{}, errNoDevices
	case 1:
		return devices[0], nil
	}

	candidates := make([]blockdev.Device, 0, len(devices))
	for _, dev := range devices {
		if dev.Mounted() == wantMounted {
			candidates = append(candidates, dev)
		}
	}
	if len(candidates) == 0 {
		return blockdev.Device{}, errors.New(emptyMsg)
	}

	return selector.Pick(prompt, candidates, wantMounted)
}

func newDriver(cfg *config.Config) *driver.Driver {
	ident := identity.NewResolver()
	return driver.NewDriver(
		mount.NewSyscallMounter(),
		mountpath.NewAllocator(cfg.AutoMountDir, ident),
		ident,
	)
}

func runMount(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("skip-escalate") {
		if err := sudo.EscalateIfNeeded(); err != nil {
			return err
		}
	}

	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	devices, err := inventory(cfg)
	if err != nil {
		return err
	}

	dev, err := chooseDevice(devices,
		cmd.Args().Get(0),
		"pick the device you want mount",
		"all devices already mounted",
		false,
	)
	if err != nil {
		return err
	}

	mountPath := cmd.Args().Get(1)
	path, err := newDriver(cfg).Mount(dev, mountPath, cfg.MountOption)
	if err != nil {
		return fmt.Errorf("mount %s: %w", dev.Path, err)
	}

	// The allocated path is the scriptable output of this command.
	fmt.Println(path)
	return nil
}

func runUmount(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("skip-escalate") {
		if err := sudo.EscalateIfNeeded(); err != nil {
			return err
		}
	}

	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	devices, err := inventory(cfg)
	if err != nil {
		return err
	}

	dev, err := chooseDevice(devices,
		cmd.Args().Get(0),
		"pick the device you want umount",
		"no mounted device found",
		true,
	)
	if err != nil {
		return err
	}

	results, err := newDriver(cfg).Unmount(dev)
	if err != nil {
		return fmt.Errorf("umount %s: %w", dev.Path, err)
	}

	for _, res := range results {
		if res.Err != nil {
			fmt.Fprintf(os.Stderr, "failed to unmount %s at %s: %v\n", dev.Path, res.MountPoint, res.Err)
			continue
		}
		fmt.Println(res.MountPoint)
	}
	return nil
}

func runInfo(ctx context.Context, cmd *cli.Command) error {
	cfg, err := setup(cmd)
	if err != nil {
		return err
	}

	devices, err := inventory(cfg)
	if err != nil {
		return err
	}

	for _, dev := range devices {
		fmt.Println(selector.Describe(dev))
	}
	return nil
}
