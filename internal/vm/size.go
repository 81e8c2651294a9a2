package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize parses a disk size argument into KiB, the unit the disk API
// expects. A bare number is taken as bytes; a trailing unit letter selects
// k/m/g/t binary multiples (of KiB).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n / 1024, nil
	}

	unit := s[len(s)-1]
	number, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	var mult int64
	switch unit {
	case 'k', 'K':
		mult = 1
	case 'm', 'M':
		mult = 1 << 10
	case 'g', 'G':
		mult = 1 << 20
	case 't', 'T':
		mult = 1 << 30
	default:
		return 0, fmt.Errorf("invalid size unit %q in %q", string(unit), s)
	}
	return int64(number * float64(mult)), nil
}
