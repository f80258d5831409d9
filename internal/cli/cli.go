// Package cli parses the agent's positional command line:
// <serial-device> <cellModuleType> <gnssModuleType> [configPath].
package cli

import (
	"fmt"
	"strings"
)

// Exit codes per §6: bad parameters, startup failure, and the
// TEST_STARTUP early-exit path all report distinct codes so a
// supervising process can tell them apart.
const (
	ExitBadParameters = -1
	ExitStartupFailed = -2
	ExitTestStartup   = -3
)

// CellModuleTypes lists the recognised cellular module types in the
// order §6 gives them. Matching against this list is a *prefix* match
// (SARA-R5 matches SARA-R510), preserved per the open question in §9.
var CellModuleTypes = []string{
	"SARA-U201",
	"SARA-R5",
	"SARA-R422",
	"SARA-R412M-03B",
	"SARA-R412M-02B",
	"SARA-R410M-03B",
	"SARA-R410M-02B",
	"LARA-R6",
	"LENA-R8",
}

// GNSSModuleTypes lists the recognised GNSS module types.
var GNSSModuleTypes = []string{"M8", "M9", "M10"}

// Args is the parsed command line.
type Args struct {
	Device         string
	CellModuleType string
	GNSSModuleType string
	ConfigPath     string
}

const usage = `Usage: cellagent <serial-device> <cellModuleType> <gnssModuleType> [configPath]

  serial-device    path to the modem's serial device, e.g. /dev/ttyUSB0
  cellModuleType   one of: ` + "SARA-U201, SARA-R5, SARA-R422, SARA-R412M-03B, SARA-R412M-02B, SARA-R410M-03B, SARA-R410M-02B, LARA-R6, LENA-R8" + `
  gnssModuleType   one of: M8, M9, M10
  configPath       optional path to the configuration file (default app.conf)

  -h, --help       show this message
`

// Usage returns the help text printed for -h/--help or a parse error.
func Usage() string { return usage }

// matchPrefix finds the first candidate in list that value is a prefix
// match against (candidate is a prefix of value), returning the
// canonical candidate name.
func matchPrefix(value string, list []string) (string, bool) {
	for _, candidate := range list {
		if strings.HasPrefix(value, candidate) {
			return candidate, true
		}
	}
	return "", false
}

// Parse parses argv (not including the program name). It returns
// ErrHelp when -h/--help was given; any other error means the
// arguments were malformed and the caller should exit with
// ExitBadParameters after printing Usage().
func Parse(argv []string) (Args, error) {
	for _, a := range argv {
		if a == "-h" || a == "--help" {
			return Args{}, ErrHelp
		}
	}
	if len(argv) < 3 || len(argv) > 4 {
		return Args{}, fmt.Errorf("expected 3 or 4 positional arguments, got %d", len(argv))
	}

	device := argv[0]
	if !strings.HasPrefix(device, "/dev/") {
		return Args{}, fmt.Errorf("serial device %q must start with /dev/", device)
	}

	cellType, ok := matchPrefix(argv[1], CellModuleTypes)
	if !ok {
		return Args{}, fmt.Errorf("unrecognised cell module type %q", argv[1])
	}

	gnssType, ok := matchPrefix(argv[2], GNSSModuleTypes)
	if !ok {
		return Args{}, fmt.Errorf("unrecognised gnss module type %q", argv[2])
	}

	configPath := ""
	if len(argv) == 4 {
		configPath = argv[3]
	}

	return Args{
		Device:         device,
		CellModuleType: cellType,
		GNSSModuleType: gnssType,
		ConfigPath:     configPath,
	}, nil
}

// ErrHelp is returned by Parse when help was requested; it is not a
// parse failure and should not be treated as ExitBadParameters.
var ErrHelp = helpError{}

type helpError struct{}

func (helpError) Error() string { return "help requested" }
