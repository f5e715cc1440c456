// Package mountinfo parses /proc/self/mountinfo and indexes mount
// points by the major:minor device identifier.
package mountinfo

import "fmt"

// Entry is a single line of mountinfo.
type Entry struct {
	MountID        int
	ParentID       int
	DevID          string // "major:minor", matches the sysfs dev attribute
	Root           string
	MountPoint     string
	Options        string
	OptionalFields []string
	FSType         string
	Source         string
	SuperOptions   string
}

// ParseError describes a mountinfo line that did not match the kernel
// format. The file is kernel-provided, so callers normally treat this
// as fatal, but the decision is theirs.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed mountinfo line %q: %s", e.Line, e.Reason)
}

// Table maps a major:minor device identifier to the mount points where
// that device is mounted, in file order. It is immutable once built;
// the entry point constructs it once per run and hands it to the
// device classifier.
type Table struct {
	points map[string][]string
}

// Lookup returns the mount points recorded for the given major:minor
// identifier, in the order they appeared in the mount table. Unknown
// identifiers yield a nil slice.
func (t *Table) Lookup(id string) []string {
	return t.points[id]
}
