// Package hostos identifies the operating-system family commands are generated for.
package hostos

import (
	"runtime"
	"strings"
)

// Family is one of the three supported OS families.
type Family int

const (
	Linux Family = iota
	MacOS
	Windows
)

func (f Family) String() string {
	switch f {
	case MacOS:
		return "macOS"
	case Windows:
		return "Windows"
	default:
		return "Linux"
	}
}

// Platforms returns the document platform tags preferred for f, best first.
func (f Family) Platforms() []string {
	switch f {
	case MacOS:
		return []string{"osx", "common", "linux"}
	case Windows:
		return []string{"windows", "common"}
	default:
		return []string{"linux", "common"}
	}
}

// Parse maps a user supplied name to a family. Unknown names report false.
func Parse(name string) (Family, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "linux":
		return Linux, true
	case "darwin", "macos", "osx", "mac":
		return MacOS, true
	case "windows", "win":
		return Windows, true
	default:
		return Linux, false
	}
}

// Detect returns the family named by override, or the running host's family.
// Hosts other than darwin and windows are treated as Linux-like.
func Detect(override string) Family {
	if f, ok := Parse(override); ok {
		return f
	}
	f, _ := Parse(runtime.GOOS)
	return f
}
