package unit

import (
	"strings"
	"testing"
)

func TestLooseEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"string number equals int", "4", 4, true},
		{"int equals string number", 4, "4", true},
		{"float equals int", 4.0, 4, true},
		{"string float equals float", "4.5", 4.5, true},
		{"padded numeric string", " 42 ", 42, true},
		{"different numbers", "4", 5, false},
		{"bool equals string bool", true, "true", true},
		{"false equals string false", "false", false, true},
		{"bool mismatch", true, "false", false},
		{"identical strings", "abc", "abc", true},
		{"different strings", "abc", "abd", false},
		{"nil equals nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"value vs nil", 0, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looseEqual(tt.a, tt.b); got != tt.want {
				t.Errorf("looseEqual(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"int", 7, 7, true},
		{"int64", int64(-3), -3, true},
		{"uint", uint(9), 9, true},
		{"float64", 2.5, 2.5, true},
		{"float32", float32(1.5), 1.5, true},
		{"numeric string", "3.25", 3.25, true},
		{"padded string", "  10 ", 10, true},
		{"css pixels rejected", "42px", 0, false},
		{"word", "many", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toFloat(tt.in)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("toFloat(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestLeadingFloat(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"plain number", 12, 12, true},
		{"css pixels", "42px", 42, true},
		{"css fraction", "1.5em", 1.5, true},
		{"negative", "-8px", -8, true},
		{"no digits", "px", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := leadingFloat(tt.in)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("leadingFloat(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestToBool(t *testing.T) {
	tests := []struct {
		name string
		in   any
		flag bool
		ok   bool
	}{
		{"true", true, true, true},
		{"false", false, false, true},
		{"string true", "true", true, true},
		{"string false", "false", false, true},
		{"padded string", " true ", true, true},
		{"one", 1, false, false},
		{"yes", "yes", false, false},
		{"nil", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag, ok := toBool(tt.in)
			if ok != tt.ok || (ok && flag != tt.flag) {
				t.Errorf("toBool(%v) = (%v, %v), want (%v, %v)", tt.in, flag, ok, tt.flag, tt.ok)
			}
		})
	}
}

func TestBuildDiff(t *testing.T) {
	diff := buildDiff("hello world", "hello there")
	if diff == "" {
		t.Fatal("diff should not be empty for differing values")
	}
	if !strings.Contains(diff, "expected") || !strings.Contains(diff, "actual") {
		t.Errorf("diff missing file labels:\n%s", diff)
	}
	if !strings.Contains(diff, "-hello world") || !strings.Contains(diff, "+hello there") {
		t.Errorf("diff missing change markers:\n%s", diff)
	}
}
