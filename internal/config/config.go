// Package config loads the agent's KV-line configuration file and
// exposes typed accessors over it. The accumulating-validation-error
// style follows the teacher's JSON config loader, adapted to this
// module's simpler line-oriented format.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Recognised configuration keys.
const (
	KeyAPN                    = "APN"
	KeyMNOProfile             = "MNOPROFILE"
	KeyURAT                   = "URAT"
	KeyMQTTBrokerName         = "MQTT_BROKER_NAME"
	KeyMQTTUsername           = "MQTT_USERNAME"
	KeyMQTTPassword           = "MQTT_PASSWORD"
	KeyMQTTClientID           = "MQTT_CLIENTID"
	KeyMQTTType               = "MQTT_TYPE"
	KeyMQTTKeepAlive          = "MQTT_KEEPALIVE"
	KeyMQTTTimeout            = "MQTT_TIMEOUT"
	KeyMQTTSecurity           = "MQTT_SECURITY"
	KeySecurityCertValidLevel = "SECURITY_CERT_VALID_LEVEL"
	KeySecurityTLSVersion     = "SECURITY_TLS_VERSION"
	KeySecurityCipherSuite    = "SECURITY_CIPHER_SUITE"
	KeySecurityClientName     = "SECURITY_CLIENT_NAME"
	KeySecurityClientKey      = "SECURITY_CLIENT_KEY"
	KeySecurityServerNameInd  = "SECURITY_SERVER_NAME_IND"
	KeyLogLevel               = "LOG_LEVEL"
	KeyUbxlibLogging          = "UBXLIB_LOGGING"
	KeyAppTopicHeader         = "APP_TOPIC_HEADER"
	KeyAppDwellTime           = "APP_DWELL_TIME"
	KeyTestStartup            = "TEST_STARTUP"
)

// unsetValue is the literal config-file token meaning "unset"; the
// accessor must report it as absent, not as the four-character string.
const unsetValue = "NULL"

// DefaultFileName is used when the CLI does not supply a config path.
const DefaultFileName = "app.conf"

// MQTTType values.
const (
	MQTTTypePlain = "MQTT"
	MQTTTypeSN    = "MQTT-SN"
)

// RestrictedAPNs lists APNs known not to provide general Internet
// egress; the registration manager skips its NTP fallback for these.
var RestrictedAPNs = []string{"TSUDP"}

// Store is a read-only, typed view over a parsed configuration file.
type Store struct {
	values map[string]string
}

// multiErr accumulates every validation problem found so a
// misconfigured agent reports them all in one line, rather than
// failing on the first.
type multiErr []string

func (m *multiErr) addf(f string, a ...any) { *m = append(*m, fmt.Sprintf(f, a...)) }
func (m multiErr) Error() string            { return "config validation failed: " + strings.Join(m, "; ") }

// Load reads and parses the configuration file at path.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader parses the KV-line format directly from a reader,
// useful for tests that don't want to touch the filesystem.
func LoadFromReader(r io.Reader) (*Store, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	var errs multiErr
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		idx := strings.IndexByte(line, ' ')
		if idx < 0 {
			if trimmed == KeyTestStartup {
				// presence-only key: a bare line is a complete record
				values[trimmed] = ""
				continue
			}
			errs.addf("line %d: expected \"<KEY> <VALUE>\", got %q", lineNo, line)
			continue
		}
		key := line[:idx]
		value := line[idx+1:]
		if key == "" {
			errs.addf("line %d: empty key", lineNo)
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &Store{values: values}, nil
}

// Get returns the raw value for key and whether it is set. A literal
// "NULL" value, or an absent key, both report ok=false.
func (s *Store) Get(key string) (string, bool) {
	v, present := s.values[key]
	if !present || v == unsetValue {
		return "", false
	}
	return v, true
}

// GetDefault returns the value for key, or def if unset.
func (s *Store) GetDefault(key, def string) string {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// GetBool follows the config file's convention that only the literal
// string "TRUE" is true; anything else (including unset) is false.
func (s *Store) GetBool(key string) bool {
	v, ok := s.Get(key)
	return ok && v == "TRUE"
}

// GetInt parses an integer-valued key, returning def if unset or
// unparseable.
func (s *Store) GetInt(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Has reports whether key is present at all (used for presence-only
// keys like TEST_STARTUP, where the value is irrelevant).
func (s *Store) Has(key string) bool {
	_, present := s.values[key]
	return present
}

// IsRestrictedAPN reports whether apn is in the restricted list that
// skips the NTP-fallback path in the registration manager.
func IsRestrictedAPN(apn string) bool {
	for _, r := range RestrictedAPNs {
		if strings.HasPrefix(apn, r) {
			return true
		}
	}
	return false
}
