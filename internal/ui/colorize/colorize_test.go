package colorize

import (
	"testing"
)

func TestNoColor(t *testing.T) {
	t.Setenv("RVROP_NO_COLOR", "1")

	line := "0x00010074    addi a0,a0,1"
	if got := ColorizeInstructionLine(line); got != line {
		t.Errorf("ColorizeInstructionLine with colors disabled = %q", got)
	}
	got, err := ColorizeAssembly("ret")
	if err != nil || got != "ret" {
		t.Errorf("ColorizeAssembly = %q, %v", got, err)
	}
}

func TestColorizePreservesText(t *testing.T) {
	t.Setenv("RVROP_NO_COLOR", "")

	line := "0x00010074    ld ra,8(sp)"
	got := ColorizeInstructionLine(line)
	if StripANSI(got) != line {
		t.Errorf("visible text changed: %q", StripANSI(got))
	}
}

func TestStripANSI(t *testing.T) {
	tests := map[string]string{
		"plain":                          "plain",
		"\x1b[31mred\x1b[0m":             "red",
		"a\x1b[38;2;79;79;79mb\x1b[0mc": "abc",
	}
	for in, want := range tests {
		if got := StripANSI(in); got != want {
			t.Errorf("StripANSI(%q) = %q, want %q", in, got, want)
		}
	}
}
