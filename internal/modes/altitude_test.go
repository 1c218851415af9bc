package modes

import "testing"

func TestDecodeAC12(t *testing.T) {
	tests := []struct {
		name   string
		field  int
		want   int
		wantOk bool
	}{
		{"25ft increments", 0xC38, 38000, true},
		{"not available", 0, 0, false},
		{"lowest value", 0x010, -1000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeAC12(tt.field)
			if ok != tt.wantOk || got != tt.want {
				t.Errorf("Expected %d (%v), got %d (%v)", tt.want, tt.wantOk, got, ok)
			}
		})
	}
}

func TestDecodeAC13(t *testing.T) {
	if got, ok := DecodeAC13(0x1838); !ok || got != 38000 {
		t.Errorf("Expected 38000, got %d (%v)", got, ok)
	}
	if _, ok := DecodeAC13(0x1878); ok {
		t.Error("Expected metric altitude to be rejected")
	}
	if _, ok := DecodeAC13(0); ok {
		t.Error("Expected empty field to be rejected")
	}
}

func TestGillhamFromID13(t *testing.T) {
	tests := []struct {
		field int
		want  int
	}{
		{0x0AAA, 0x7700},
		{0x0080, 0x4000},
		{0x1000, 0x0010},
		{0x0001, 0x0004},
		{0, 0},
	}

	for _, tt := range tests {
		if got := GillhamFromID13(tt.field); got != tt.want {
			t.Errorf("GillhamFromID13(%04X): expected %04X, got %04X", tt.field, tt.want, got)
		}
	}
}

func TestModeCFromGillham_Invalid(t *testing.T) {
	// No C bits set
	if _, ok := ModeCFromGillham(0x1000); ok {
		t.Error("Expected code without C bits to be invalid")
	}
	// D1 set
	if _, ok := ModeCFromGillham(0x0011); ok {
		t.Error("Expected code with D1 to be invalid")
	}
}
