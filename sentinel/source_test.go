package sentinel

import (
	"testing"
	"time"
)

func TestFormatLast(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "1m"},
		{45 * time.Second, "1m"},
		{90 * time.Second, "2m"},
		{3 * time.Minute, "3m"},
		{time.Hour, "1h"},
		{2 * time.Hour, "2h"},
		{90 * time.Minute, "90m"},
	}
	for _, tc := range cases {
		if got := formatLast(tc.in); got != tc.want {
			t.Errorf("formatLast(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
