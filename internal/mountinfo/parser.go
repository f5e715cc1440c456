package mountinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const mountInfoPath = "/proc/self/mountinfo"

// Load parses the mount table of the current process.
func Load() (*Table, error) {
	file, err := os.Open(mountInfoPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", mountInfoPath, err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads mountinfo-formatted lines from r and builds the device
// identifier index. A device mounted at several points (bind mounts)
// accumulates all of them.
func Parse(r io.Reader) (*Table, error) {
	table := &Table{points: make(map[string][]string)}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			return nil, err
		}

		table.points[entry.DevID] = append(table.points[entry.DevID], entry.MountPoint)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mountinfo: %w", err)
	}

	return table, nil
}

// parseLine tokenizes one mountinfo line:
//
//	36 35 98:0 /mnt1 /mnt2 rw,noatime master:1 - ext3 /dev/root rw,errors=continue
//	(1)(2)(3)   (4)   (5)      (6)      (7)   (8) (9)   (10)         (11)
//
// Field (7) is a list of zero or more optional tags terminated by the
// "-" separator (8).
func parseLine(s string) (Entry, error) {
	var e Entry

	fields := strings.Fields(s)
	if len(fields) < 10 {
		return e, &ParseError{Line: s, Reason: fmt.Sprintf("expected at least 10 fields, found %d", len(fields))}
	}

	var err error
	e.MountID, err = strconv.Atoi(fields[0])
	if err != nil {
		return e, &ParseError{Line: s, Reason: fmt.Sprintf("bad mount ID %q", fields[0])}
	}
	e.ParentID, err = strconv.Atoi(fields[1])
	if err != nil {
		return e, &ParseError{Line: s, Reason: fmt.Sprintf("bad parent ID %q", fields[1])}
	}

	major, minor, ok := strings.Cut(fields[2], ":")
	if !ok {
		return e, &ParseError{Line: s, Reason: fmt.Sprintf("bad device identifier %q", fields[2])}
	}
	if _, err := strconv.Atoi(major); err != nil {
		return e, &ParseError{Line: s, Reason: fmt.Sprintf("bad device major number %q", major)}
	}
	if _, err := strconv.Atoi(minor); err != nil {
		return e, &ParseError{Line: s, Reason: fmt.Sprintf("bad device minor number %q", minor)}
	}
	e.DevID = fields[2]

	e.Root = unescapeField(fields[3])
	e.MountPoint = unescapeField(fields[4])
	e.Options = fields[5]

	// Skip ahead to the optional-field terminator.
	i := 6
	for i < len(fields) && fields[i] != "-" {
		i++
	}
	if i == len(fields) {
		return e, &ParseError{Line: s, Reason: "optional field list is not terminated"}
	}
	e.OptionalFields = fields[6:i]

	tail := fields[i+1:]
	if len(tail) != 3 {
		return e, &ParseError{Line: s, Reason: fmt.Sprintf("expected 3 fields after separator, found %d", len(tail))}
	}
	e.FSType = tail[0]
	e.Source = unescapeField(tail[1])
	e.SuperOptions = tail[2]

	return e, nil
}

// unescapeField unescapes special characters in mountinfo path fields.
// The kernel escapes spaces as \040, tabs as \011, etc.
func unescapeField(s string) string {
	s = strings.ReplaceAll(s, "\\040", " ")
	s = strings.ReplaceAll(s, "\\011", "\t")
	s = strings.ReplaceAll(s, "\\012", "\n")
	s = strings.ReplaceAll(s, "\\134", "\\")
	return s
}
