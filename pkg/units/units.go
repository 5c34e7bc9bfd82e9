// Package units provides binary size unit multipliers (1024-based) and
// parsing of human-readable memory sizes.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Binary size multipliers.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// ErrInvalidSize is returned for sizes that cannot be parsed or are below
// one mebibyte.
var ErrInvalidSize = errors.New("invalid memory size")

// ParseMiB parses a size such as "4GB", "512MiB" or "2147483648" and returns
// it in whole mebibytes, rounded down. An empty string yields zero.
func ParseMiB(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidSize, s, err)
	}

	mib := n / MiB
	if mib == 0 {
		return 0, fmt.Errorf("%w: %q is below 1MiB", ErrInvalidSize, s)
	}

	return int(mib), nil //nolint:gosec // a uint64 byte count divided by 2^20 fits int.
}

// FormatMiB renders a mebibyte count the way ParseMiB accepts it.
func FormatMiB(mib int) string {
	if mib <= 0 {
		return "0"
	}

	return humanize.IBytes(uint64(mib) * MiB)
}
