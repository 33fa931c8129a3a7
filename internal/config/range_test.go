package config

import (
	"errors"
	"testing"
)

func TestParseFloat64Range(t *testing.T) {
	tests := []struct {
		name     string
		r        string
		lo, hi   float64
		min, max float64
		err      error
	}{
		{"valid", "0.5:1.5", 0, 2, 0.5, 1.5, nil},
		{"empty", "", 0, 2, 0, 2, nil},
		{"reversed", "2.5:1.5", 0, 2, 1.5, 1.5, ErrRangeSpec},
		{"only max", ":1.5", 0, 2, 0, 1.5, nil},
		{"only min", "0.5:", 0, 2, 0.5, 2, nil},
		{"colon only", ":", 0, 2, 0, 2, nil},
		{"exponents", "-2.0e10:3.0e10", -1e12, 1e12, -2e10, 3e10, nil},
		{"clamped", "-2.0:2.0", -1, 1, -1, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			min, max, err := ParseFloat64Range(tt.r, tt.lo, tt.hi)
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected error %v, got: %v", tt.err, err)
			}
			if min != tt.min {
				t.Errorf("Expected min to be %g, got: %g", tt.min, min)
			}
			if max != tt.max {
				t.Errorf("Expected max to be %g, got: %g", tt.max, max)
			}
		})
	}
}

func TestParseIntRange(t *testing.T) {
	tests := []struct {
		r        string
		min, max int
		err      error
	}{
		{"10:20", 10, 20, nil},
		{"  5:", 5, 100, nil},
		{":7", 1, 7, nil},
		{"0:200", 1, 100, nil},
		{"30:20", 20, 20, ErrRangeSpec},
	}
	for _, tt := range tests {
		min, max, err := ParseIntRange(tt.r, 1, 100)
		if !errors.Is(err, tt.err) {
			t.Errorf("%q: expected error %v, got: %v", tt.r, tt.err, err)
		}
		if min != tt.min || max != tt.max {
			t.Errorf("%q: expected %d:%d, got: %d:%d", tt.r, tt.min, tt.max, min, max)
		}
	}
}
