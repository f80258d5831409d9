package config

import (
	"strings"
	"testing"
)

const sample = `# comment line
APN internet
MQTT_BROKER_NAME tcp://test.example:1883
MQTT_KEEPALIVE TRUE
MQTT_TIMEOUT 30
MQTT_CLIENTID NULL

APP_TOPIC_HEADER U-BLOX
TEST_STARTUP
`

func TestLoadFromReaderParsesRecords(t *testing.T) {
	store, err := LoadFromReader(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if v, ok := store.Get(KeyAPN); !ok || v != "internet" {
		t.Errorf("APN = %q, %v", v, ok)
	}
	if !store.GetBool(KeyMQTTKeepAlive) {
		t.Errorf("MQTT_KEEPALIVE should be true")
	}
	if got := store.GetInt(KeyMQTTTimeout, -1); got != 30 {
		t.Errorf("MQTT_TIMEOUT = %d, want 30", got)
	}
	if !store.Has(KeyTestStartup) {
		t.Errorf("TEST_STARTUP should be present")
	}
}

func TestNullValueReportsUnset(t *testing.T) {
	store, err := LoadFromReader(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	v, ok := store.Get(KeyMQTTClientID)
	if ok {
		t.Errorf("MQTT_CLIENTID should report unset, got %q", v)
	}
}

func TestMissingKeyUsesDefault(t *testing.T) {
	store, err := LoadFromReader(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := store.GetDefault("APP_DWELL_TIME", "5000"); got != "5000" {
		t.Errorf("GetDefault = %q, want 5000", got)
	}
}

func TestMalformedLineAccumulatesError(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("APN\nMQTT_TIMEOUT 30\nBADLINE\n"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestIsRestrictedAPN(t *testing.T) {
	if !IsRestrictedAPN("TSUDP") {
		t.Errorf("TSUDP should be restricted")
	}
	if IsRestrictedAPN("internet") {
		t.Errorf("internet should not be restricted")
	}
}
