package main

import (
	"testing"

	"github.com/BurntSushi/toml"
)

const sampleTOML = `
debug = true
device_id = 42
version = 3
nvs_path = "/tmp/pca301gw.nvs"

[mqtt]
host = "broker.local"
port = 1883
topic_prefix = "pca301gw"

[radio]
backend = "periph"
spi_bus = "/dev/spidev0.0"
intr_pin = "GPIO25"
is_hw = true

[pca301]
default_channel = 2
pair_enable = true
auto_poll = true
retries = 3
response_timeout_ms = 750
frame_dump = false
`

func TestConfigDecodesTOML(t *testing.T) {
	var cfg Config
	if _, err := toml.Decode(sampleTOML, &cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !cfg.Debug || cfg.DeviceID != 42 || cfg.Version != 3 {
		t.Fatalf("top-level fields: %+v", cfg)
	}
	if cfg.Mqtt.Host != "broker.local" || cfg.Mqtt.Port != 1883 {
		t.Fatalf("mqtt: %+v", cfg.Mqtt)
	}
	if cfg.Radio.Backend != "periph" || !cfg.Radio.IsHW {
		t.Fatalf("radio: %+v", cfg.Radio)
	}
	if cfg.Pca301.DefaultChannel != 2 || cfg.Pca301.ResponseTimeoutMS != 750 {
		t.Fatalf("pca301: %+v", cfg.Pca301)
	}
}
