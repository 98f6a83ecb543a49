package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyACM1" {
		t.Errorf("Serial.Port = %q, want /dev/ttyACM1", cfg.Serial.Port)
	}
	if cfg.Serial.Baud != 115200 {
		t.Errorf("Serial.Baud = %d, want 115200", cfg.Serial.Baud)
	}
	if cfg.MQTT.ClientID != "server" || cfg.MQTT.Host != "localhost" || cfg.MQTT.Port != 1883 {
		t.Errorf("MQTT = %+v, want server@localhost:1883", cfg.MQTT)
	}
	if got := cfg.MQTTReconnectDelay(); got != 5*time.Second {
		t.Errorf("MQTTReconnectDelay() = %v, want 5s", got)
	}
	if got := cfg.SerialReconnectDelay(); got != 5*time.Second {
		t.Errorf("SerialReconnectDelay() = %v, want 5s", got)
	}
	if got := cfg.AnemometerFilter(); got != 0 {
		t.Errorf("AnemometerFilter() = %v, want 0", got)
	}
	if got := cfg.KeepAlive(); got != 30*time.Second {
		t.Errorf("KeepAlive() = %v, want 30s", got)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB3
  baud: 9600
  reconnection_delay_ms: 250
mqtt:
  host: broker.local
  port: 8883
  client_id: bridge-1
filter:
  anemometer_seconds: 3
transformers:
  sps30:
    script_code: "function transform(p) { return p; }"
storage:
  database:
    enabled: true
    type: sqlite
    dsn: /tmp/bridge.db
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyUSB3" || cfg.Serial.Baud != 9600 {
		t.Errorf("Serial = %+v", cfg.Serial)
	}
	if got := cfg.SerialReconnectDelay(); got != 250*time.Millisecond {
		t.Errorf("SerialReconnectDelay() = %v, want 250ms", got)
	}
	if cfg.MQTT.Host != "broker.local" || cfg.MQTT.Port != 8883 || cfg.MQTT.ClientID != "bridge-1" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if got := cfg.AnemometerFilter(); got != 3*time.Second {
		t.Errorf("AnemometerFilter() = %v, want 3s", got)
	}
	if _, ok := cfg.Transformers["sps30"]; !ok {
		t.Errorf("Transformers = %v, want sps30 entry", cfg.Transformers)
	}
	if !cfg.Storage.Database.Enabled || cfg.Storage.Database.Type != "sqlite" {
		t.Errorf("Storage.Database = %+v", cfg.Storage.Database)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyUSB3
mqtt:
  host: broker.local
`)

	flags := NewFlagSet("test")
	if err := flags.Parse([]string{"--port", "/dev/ttyACM9", "--filter-seconds", "7"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	loader, err := NewLoader(path, flags)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyACM9" {
		t.Errorf("Serial.Port = %q, want flag value", cfg.Serial.Port)
	}
	if cfg.MQTT.Host != "broker.local" {
		t.Errorf("MQTT.Host = %q, want file value", cfg.MQTT.Host)
	}
	if cfg.Filter.AnemometerSeconds != 7 {
		t.Errorf("Filter.AnemometerSeconds = %d, want 7", cfg.Filter.AnemometerSeconds)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
serial:
  baud: 0
mqtt:
  port: 70000
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() expected validation error")
	}
	for _, want := range []string{"serial.baud", "mqtt.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Serial: SerialConfig{Port: "/dev/ttyACM1", Baud: 115200},
		MQTT:   MQTTConfig{Host: "localhost", Port: 1883},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	cfg.Filter.AnemometerSeconds = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted negative filter")
	}
}
