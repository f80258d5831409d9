package cli

import (
	"errors"
	"testing"
)

func TestParseAcceptsThreeOrFourArgs(t *testing.T) {
	args, err := Parse([]string{"/dev/ttyUSB0", "SARA-R5", "M9"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if args.Device != "/dev/ttyUSB0" || args.CellModuleType != "SARA-R5" || args.GNSSModuleType != "M9" {
		t.Fatalf("unexpected parse result: %+v", args)
	}
	if args.ConfigPath != "" {
		t.Fatalf("ConfigPath should default to empty, got %q", args.ConfigPath)
	}

	args, err = Parse([]string{"/dev/ttyUSB0", "SARA-R5", "M9", "/etc/app.conf"})
	if err != nil {
		t.Fatalf("Parse with config path: %v", err)
	}
	if args.ConfigPath != "/etc/app.conf" {
		t.Fatalf("ConfigPath = %q, want /etc/app.conf", args.ConfigPath)
	}
}

func TestParseCellModuleTypePrefixMatch(t *testing.T) {
	args, err := Parse([]string{"/dev/ttyUSB0", "SARA-R510", "M9"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if args.CellModuleType != "SARA-R5" {
		t.Fatalf("CellModuleType = %q, want SARA-R5 (prefix match)", args.CellModuleType)
	}
}

func TestParseRejectsUnknownGNSSType(t *testing.T) {
	if _, err := Parse([]string{"/dev/ttyUSB0", "SARA-R5", "M99"}); err == nil {
		t.Fatalf("expected error for unrecognised gnss module type")
	}
}

func TestParseRejectsNonDevPath(t *testing.T) {
	if _, err := Parse([]string{"COM3", "SARA-R5", "M9"}); err == nil {
		t.Fatalf("expected error for non /dev/ serial device")
	}
}

func TestParseHelp(t *testing.T) {
	_, err := Parse([]string{"-h"})
	if !errors.Is(err, ErrHelp) {
		t.Fatalf("Parse(-h) err = %v, want ErrHelp", err)
	}
	_, err = Parse([]string{"--help"})
	if !errors.Is(err, ErrHelp) {
		t.Fatalf("Parse(--help) err = %v, want ErrHelp", err)
	}
}

func TestParseWrongArgCount(t *testing.T) {
	if _, err := Parse([]string{"/dev/ttyUSB0"}); err == nil {
		t.Fatalf("expected error for too few args")
	}
	if _, err := Parse([]string{"/dev/ttyUSB0", "SARA-R5", "M9", "app.conf", "extra"}); err == nil {
		t.Fatalf("expected error for too many args")
	}
}
