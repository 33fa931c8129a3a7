package config

import (
	"errors"
	"regexp"
	"strconv"
)

// ErrRangeSpec means the lower bound of a range exceeds the upper bound.
var ErrRangeSpec = errors.New("config: invalid range specified")

var (
	intRangeRe   = regexp.MustCompile(`\s*(\-?\d*):(\-?\d*)`)
	floatRangeRe = regexp.MustCompile(`\s*([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?):([-+]?[0-9]*\.?[0-9]*([eE][-+]?[0-9]+)?)`)
)

// ParseIntRange parses "first:last". A missing bound takes the default
// lo or hi, and given bounds are clamped to [lo, hi].
func ParseIntRange(r string, lo, hi int) (int, int, error) {
	m := intRangeRe.FindStringSubmatch(r)
	first, last := lo, hi
	if len(m) >= 2 && m[1] != "" {
		first, _ = strconv.Atoi(m[1])
		first = max(first, lo)
	}
	if len(m) >= 3 && m[2] != "" {
		last, _ = strconv.Atoi(m[2])
		last = min(last, hi)
	}
	if first > last {
		return last, last, ErrRangeSpec
	}
	return first, last, nil
}

// ParseFloat64Range parses ranges like "-12.01e1:+6" the way
// ParseIntRange parses integer ranges.
func ParseFloat64Range(r string, lo, hi float64) (float64, float64, error) {
	m := floatRangeRe.FindStringSubmatch(r)
	first, last := lo, hi
	if len(m) >= 2 && m[1] != "" {
		first, _ = strconv.ParseFloat(m[1], 64)
		first = max(first, lo)
	}
	if len(m) >= 4 && m[3] != "" {
		last, _ = strconv.ParseFloat(m[3], 64)
		last = min(last, hi)
	}
	if first > last {
		return last, last, ErrRangeSpec
	}
	return first, last, nil
}
