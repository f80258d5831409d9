package modem

import (
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixture is the scripted modem behaviour a Sim session replays. It is
// the format consumed by the modemsim tool and by tests that need a
// modem without a real serial device.
type Fixture struct {
	Info             ModuleInfo      `yaml:"info"`
	OperatorName     string          `yaml:"operatorName"`
	OperatorMCC      string          `yaml:"operatorMCC"`
	OperatorMNC      string          `yaml:"operatorMNC"`
	NetworkTimeUnix  int64           `yaml:"networkTimeUnix"`
	NTPTimeUnix      int64           `yaml:"ntpTimeUnix"`
	SignalReadings   []SignalReading `yaml:"signalReadings"`
	Fixes            []Fix           `yaml:"fixes"`
	ScanResults      []Operator      `yaml:"scanResults"`
	RegistrationFail bool            `yaml:"registrationFail"`
}

// LoadFixture parses a YAML fixture document.
func LoadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Fixture) networkTime() time.Time {
	if f.NetworkTimeUnix == 0 {
		return time.Now().UTC()
	}
	return time.Unix(f.NetworkTimeUnix, 0).UTC()
}

func (f *Fixture) ntpTime() time.Time {
	if f.NTPTimeUnix == 0 {
		return time.Now().UTC()
	}
	return time.Unix(f.NTPTimeUnix, 0).UTC()
}
