package ui

import (
	"strings"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	cases := map[int64]string{
		0:                      "0 B",
		512:                    "512 B",
		1024:                   "1.0 KiB",
		3 * 1024 * 1024:        "3.0 MiB",
		1536:                   "1.5 KiB",
		5 * 1024 * 1024 * 1024: "5.0 GiB",
	}
	for in, want := range cases {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestLinkBadge(t *testing.T) {
	tests := []struct {
		connected, connecting, raw bool
		want                       []string
		absent                     string
	}{
		{true, false, false, []string{"CONNECTED"}, "RAW"},
		{true, false, true, []string{"CONNECTED", "RAW"}, "DISCONNECTED"},
		{false, true, false, []string{"CONNECTING"}, "RAW"},
		{false, false, true, []string{"DISCONNECTED"}, "RAW"},
	}
	for _, tt := range tests {
		got := LinkBadge(tt.connected, tt.connecting, tt.raw)
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("LinkBadge(%v, %v, %v) = %q, missing %q", tt.connected, tt.connecting, tt.raw, got, w)
			}
		}
		if strings.Contains(got, tt.absent) {
			t.Errorf("LinkBadge(%v, %v, %v) = %q, should not contain %q", tt.connected, tt.connecting, tt.raw, got, tt.absent)
		}
	}
}
