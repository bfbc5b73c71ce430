package util

import "testing"

func TestParseLookback(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{input: "", want: 0},
		{input: "3M", want: 3},
		{input: "12m", want: 12},
		{input: "1Y", want: 12},
		{input: "2years", want: 24},
		{input: "18", want: 18},
		{input: " 6M ", want: 6},
		{input: "0M", wantErr: true},
		{input: "M3", wantErr: true},
		{input: "3W", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLookback(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseLookback(%q) expected error, got %d", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLookback(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseLookback(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatLookback(t *testing.T) {
	if got := FormatLookback(6); got != "6M" {
		t.Errorf("FormatLookback(6) = %q, want 6M", got)
	}
	if got := FormatLookback(0); got != "3M" {
		t.Errorf("FormatLookback(0) = %q, want 3M", got)
	}
}
