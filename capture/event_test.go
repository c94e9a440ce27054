package capture

import "testing"

func TestNormalizeMillis(t *testing.T) {
	cases := []struct {
		name string
		in   int64
		want int64
	}{
		{"zero", 0, 0},
		{"seconds", 1_600_000_000, 1_600_000_000_000},
		{"seconds upper edge", 9_999_999_999, 9_999_999_999_000},
		{"millis lower edge", 10_000_000_000, 10_000_000_000},
		{"millis", 1_600_000_000_000, 1_600_000_000_000},
		{"millis upper edge", 9_999_999_999_999, 9_999_999_999_999},
		{"micros lower edge", 10_000_000_000_000, 10_000_000_000},
		{"micros", 1_600_000_000_000_000, 1_600_000_000_000},
		{"nanos lower edge", 10_000_000_000_000_000, 10_000_000_000},
		{"nanos", 1_600_000_000_000_000_000, 1_600_000_000_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeMillis(tc.in); got != tc.want {
				t.Errorf("NormalizeMillis(%d) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}
