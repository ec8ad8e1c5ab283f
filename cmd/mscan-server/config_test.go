package main

import (
	"testing"
)

func TestConfigValidate_Defaults(t *testing.T) {
	if err := defaultConfig().validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badLayout", func(c *appConfig) { c.layout = "mpc5200" }},
		{"badBus", func(c *appConfig) { c.bus = "usb" }},
		{"busNeedsSim", func(c *appConfig) { c.backend = "uio"; c.bus = "serial" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"zeroClock", func(c *appConfig) { c.clock = 0 }},
		{"badMinBRP", func(c *appConfig) { c.minBRP = 65 }},
		{"zeroBitrate", func(c *appConfig) { c.bitrate = 0 }},
		{"fastBitrate", func(c *appConfig) { c.bitrate = 2000000 }},
		{"badRetries", func(c *appConfig) { c.openRetries = 0 }},
		{"badTxWait", func(c *appConfig) { c.txWait = 0 }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
	}
	for _, tc := range tests {
		c := defaultConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestConfigValidate_UIOWithoutBus(t *testing.T) {
	c := defaultConfig()
	c.backend = "uio"
	c.layout = "odin"
	if err := c.validate(); err != nil {
		t.Fatalf("uio backend without bus should validate, got %v", err)
	}
}
