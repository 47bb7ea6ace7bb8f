// Copyright (c) 2017-2018, Sven Bachmann <dev@mcbachmann.de>
//
// Licensed under the MIT license, see LICENSE for details.

package main

// Config is the gateway's TOML configuration, adapted from mqttradio's
// Config shape to a single radio/module instead of a list of each.
type Config struct {
	Debug    bool
	DeviceID uint32 `toml:"device_id"`
	Version  byte
	NVSPath  string `toml:"nvs_path"`
	Mqtt     MqttConfig
	Radio    RadioConfig
	Pca301   Pca301Config
}

// MqttConfig is the optional broker to mirror register changes onto. Host
// empty disables the publisher entirely.
type MqttConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	TopicPrefix string `toml:"topic_prefix"`
}

// RadioConfig describes the SPI/GPIO wiring for the RFM69 module, and its
// hardware variant. The frequency/bitrate/RSSI/deviation tuning itself
// lives in NVS (pca301.RadioConfig), not here. An NVS commit through the
// register interface stores the tuning the radio was configured with at
// startup; writes to the raw RFM69 registers are not carried into NVS.
type RadioConfig struct {
	Backend    string // "embd" or "periph"
	SpiBus     string `toml:"spi_bus"`
	IntrPin    string `toml:"intr_pin"`
	IsHW       bool   `toml:"is_hw"`
}

// Pca301Config seeds the pca301.Config tunables at startup. Every one of
// them can also be changed at runtime through the PCA301 common register
// range; the config file gives a fresh gateway its starting values.
type Pca301Config struct {
	DefaultChannel    byte   `toml:"default_channel"`
	PairEnable        bool   `toml:"pair_enable"`
	AutoPoll          bool   `toml:"auto_poll"`
	Retries           byte
	ResponseTimeoutMS uint64 `toml:"response_timeout_ms"`
	FrameDump         bool   `toml:"frame_dump"`
}
