// Package version compares dotted numeric version strings and picks a game
// release out of a candidate set.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"factorio-server-manager/domain"
)

// Segments parses a dotted numeric version into its integer segments.
func Segments(v string) ([]int, error) {
	if v == "" {
		return nil, fmt.Errorf("%w: empty version", domain.ErrInvalidArgument)
	}
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: version %q", domain.ErrInvalidArgument, v)
		}
		out[i] = n
	}
	return out, nil
}

// Validate reports whether v is a well-formed dotted numeric version.
func Validate(v string) error {
	_, err := Segments(v)
	return err
}

// segmentsLenient never fails; unparsable segments count as 0.
func segmentsLenient(v string) []int {
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i], _ = strconv.Atoi(p)
	}
	return out
}

// Compare compares a and b segment by segment, stopping at the end of the
// shorter one. Extra trailing segments are ignored, so Compare("0.17",
// "0.17.79") == 0. Resolution relies on this; use CompareStrict when two
// fully specified versions must be told apart.
func Compare(a, b string) int {
	sa, sb := segmentsLenient(a), segmentsLenient(b)
	n := min(len(sa), len(sb))
	for i := 0; i < n; i++ {
		if d := sa[i] - sb[i]; d != 0 {
			return d
		}
	}
	return 0
}

// CompareStrict compares a and b treating missing segments as zero.
func CompareStrict(a, b string) int {
	sa, sb := segmentsLenient(a), segmentsLenient(b)
	n := max(len(sa), len(sb))
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(sa) {
			x = sa[i]
		}
		if i < len(sb) {
			y = sb[i]
		}
		if d := x - y; d != 0 {
			return d
		}
	}
	return 0
}

// LessOrEqual reports Compare(a, b) <= 0.
func LessOrEqual(a, b string) bool {
	return Compare(a, b) <= 0
}
