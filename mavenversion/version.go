// Package mavenversion implements the VERSION_COMPARATOR total order
// and release/snapshot classification used throughout the tracker.
//
// This is deliberately not Maven's own ComparableVersion algorithm:
// the tracker's comparator is a simpler component-split order with its
// own numeric/alphabetic tie-breaking rules, defined independently of
// any build-tool's qualifier tables.
package mavenversion

import (
	"regexp"
	"strings"
)

var releasePattern = regexp.MustCompile(`^\d+(\.\d+)*$`)

// IsRelease reports whether v is a pure dotted-numeric release
// version, as opposed to a snapshot or qualifier version.
func IsRelease(v string) bool {
	return releasePattern.MatchString(v)
}

// Compare implements VERSION_COMPARATOR: split each version string on
// '.', '-', '_'; compare components left to right. A component is
// numeric iff every character is a digit. Numeric components compare
// numerically; alphabetic components compare lexicographically ("-SNAPSHOT"
// included). When one side's component is numeric and the other is
// not, the numeric side sorts smaller. If every compared component is
// equal, the longer version (more components) sorts greater.
//
// Compare returns a value <0, 0, or >0, following the usual
// comparator convention.
func Compare(a, b string) int {
	ca, cb := split(a), split(b)
	n := len(ca)
	if len(cb) < n {
		n = len(cb)
	}
	for i := 0; i < n; i++ {
		if c := compareComponent(ca[i], cb[i]); c != 0 {
			return c
		}
	}
	return len(ca) - len(cb)
}

// Less reports whether a sorts strictly before b.
func Less(a, b string) bool { return Compare(a, b) < 0 }

func split(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == '.' || r == '-' || r == '_'
	})
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func compareComponent(a, b string) int {
	aNum, bNum := isNumeric(a), isNumeric(b)
	switch {
	case aNum && bNum:
		return compareNumeric(a, b)
	case aNum && !bNum:
		return -1
	case !aNum && bNum:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// compareNumeric compares two digit strings as arbitrary-precision
// non-negative integers, ignoring leading zeros.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(a, b)
}
