package domain

import "testing"

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"1", 1_000_000},
		{"100", 100_000_000},
		{"101.000001", 101_000_001},
		{"95.95", 95_950_000},
		{"-3.5", -3_500_000},
		{"+2", 2_000_000},
		{".5", 500_000},
		{"7.", 7_000_000},
		{" 42 ", 42_000_000},
		{"0.000001", 1},
		{"-0.000001", -1},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if err != nil {
			t.Errorf("ParseAmount(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAmount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	bad := []string{
		"",
		" ",
		".",
		"-",
		"abc",
		"1,5",
		"1.2.3",
		"1e6",
		"0.0000001",          // 7 fractional digits
		"10000000000000",     // above the magnitude bound
		"--1",
	}
	for _, in := range bad {
		if _, err := ParseAmount(in); err == nil {
			t.Errorf("ParseAmount(%q) accepted, want error", in)
		} else if Classify(err) != ClassValidation {
			t.Errorf("ParseAmount(%q) error class = %s, want validation", in, Classify(err))
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{101_000_000, "101"},
		{95_950_000, "95.95"},
		{-3_500_000, "-3.5"},
		{1, "0.000001"},
		{-1, "-0.000001"},
		{100_500_000, "100.5"},
	}
	for _, tt := range tests {
		if got := FormatAmount(tt.in); got != tt.want {
			t.Errorf("FormatAmount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatAmount_RoundTrip(t *testing.T) {
	values := []int64{0, 1, -1, 999_999, 1_000_000, 101_000_001, -42_123_456, MaxAmountMicros}
	for _, v := range values {
		back, err := ParseAmount(FormatAmount(v))
		if err != nil {
			t.Fatalf("round trip of %d: %v", v, err)
		}
		if back != v {
			t.Errorf("round trip of %d came back as %d", v, back)
		}
	}
}

func TestMulBps(t *testing.T) {
	tests := []struct {
		v, bps, want int64
	}{
		{100_000_000, 500, 5_000_000},       // 5% of 100
		{101_000_000, 9500, 95_950_000},     // 101 * 0.95
		{101_000_000, 10500, 106_050_000},   // 101 * 1.05
		{0, 500, 0},
		{100, 0, 0},
		{-101_000_000, 9500, -95_950_000},   // truncation toward zero
		{3, 3333, 0},                        // 0.9999 truncates to 0
		{MaxAmountMicros, 20000, 2 * MaxAmountMicros}, // exceeds int64 in the intermediate product
	}
	for _, tt := range tests {
		if got := MulBps(tt.v, tt.bps); got != tt.want {
			t.Errorf("MulBps(%d, %d) = %d, want %d", tt.v, tt.bps, got, tt.want)
		}
	}
}

func TestSafeMul(t *testing.T) {
	if got, err := SafeMul(3, 7_000_000); err != nil || got != 21_000_000 {
		t.Errorf("SafeMul(3, 7e6) = %d, %v", got, err)
	}
	if got, err := SafeMul(0, 9); err != nil || got != 0 {
		t.Errorf("SafeMul(0, 9) = %d, %v", got, err)
	}
	if _, err := SafeMul(1<<62, 4); err == nil {
		t.Error("SafeMul overflow accepted")
	}
	if _, err := SafeMul(-1, 4); err == nil {
		t.Error("SafeMul negative operand accepted")
	}
}
