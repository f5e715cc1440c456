package mount

// Mounter defines the interface for mount/unmount operations
type Mounter interface {
	// Mount mounts the source device at the target directory with the
	// given filesystem type and comma-separated option string (may be
	// empty)
	Mount(source, target, fsType, options string) error
	// Unmount unmounts the target directory
	Unmount(target string) error
}
