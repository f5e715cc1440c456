package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// mountOptionPattern matches a single mount option token: a key,
// optionally followed by =value. The option string is passed to
// mount(2) verbatim, so only plain filesystem-option characters are
// accepted.
var mountOptionPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+(=[A-Za-z0-9_./:@+-]*)?$`)

// ValidateDevicePath validates a user-supplied device path: it must be
// an absolute path under /dev.
func ValidateDevicePath(path string) error {
	if !strings.HasPrefix(path, "/dev/") || path == "/dev/" {
		return fmt.Errorf("device path must be an absolute path under /dev, got %q", path)
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("device path must not contain path traversal, got %q", path)
	}
	return nil
}

// ValidateMountOptions validates a user-supplied mount option string:
// comma-separated key[=value] tokens. An empty string is valid and
// means no options.
func ValidateMountOptions(options string) error {
	if options == "" {
		return nil
	}

	for _, token := range strings.Split(options, ",") {
		if token == "" {
			return fmt.Errorf("mount options contain an empty token: %q", options)
		}
		if !mountOptionPattern.MatchString(token) {
			return fmt.Errorf("invalid mount option %q", token)
		}
	}

	return nil
}
