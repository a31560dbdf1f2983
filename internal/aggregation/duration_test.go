package aggregation

import "testing"

func TestParseScormDuration(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"01:02:03", 3723},
		{"00:00:00.5", 0},
		{"0000:10:00.25", 600},
		{"abc", 0},
		{"45", 45},
		{"1:30", 90},
		{"", 0},
		{"1:2:3:4", 0},
		{"-5", 0},
		{"01:xx:03", 0},
		{"PT1H2M3S", 3723},
		{"PT0.5S", 0},
		{"P1DT1S", 86401},
		{"P", 0},
		{"PT", 0},
		{"9999999999999999:00:00", 0},
		{"153722867280912930:00", 9223372036854775800},
		{"153722867280912931:00", 0},
		{"9223372036854775807", 9223372036854775807},
		{"PT99999999999999999999H", 0},
	}
	for _, tc := range cases {
		if got := ParseScormDuration(tc.in); got != tc.want {
			t.Fatalf("ParseScormDuration(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
