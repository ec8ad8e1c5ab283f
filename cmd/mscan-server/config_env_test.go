package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	c := defaultConfig()
	t.Setenv("MSCAN_SERVER_BAUD", "230400")
	t.Setenv("MSCAN_SERVER_MDNS_ENABLE", "true")
	t.Setenv("MSCAN_SERVER_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("MSCAN_SERVER_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("MSCAN_SERVER_CLOCK", "16000000")
	t.Setenv("MSCAN_SERVER_LAYOUT", "odin")
	t.Setenv("MSCAN_SERVER_LOOPBACK", "on")
	t.Setenv("MSCAN_SERVER_TX_WAIT", "5ms")
	t.Setenv("MSCAN_SERVER_BUS", " socketcan ")
	if err := applyEnvOverrides(c, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baud != 230400 {
		t.Fatalf("expected baud override, got %d", c.baud)
	}
	if !c.mdnsEnable || !c.loopback {
		t.Fatalf("expected boolean overrides, mdns=%v loopback=%v", c.mdnsEnable, c.loopback)
	}
	if c.serialReadTO != 100*time.Millisecond || c.txWait != 5*time.Millisecond {
		t.Fatalf("duration overrides: serial %v tx-wait %v", c.serialReadTO, c.txWait)
	}
	if c.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", c.logMetricsEvery)
	}
	if c.clock != 16000000 || c.layout != "odin" || c.bus != "socketcan" {
		t.Fatalf("controller overrides: clock %d layout %s bus %q", c.clock, c.layout, c.bus)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	c := defaultConfig()
	t.Setenv("MSCAN_SERVER_BAUD", "230400")
	t.Setenv("MSCAN_SERVER_BITRATE", "125000")
	if err := applyEnvOverrides(c, map[string]struct{}{"baud": {}, "bitrate": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if c.baud != 115200 || c.bitrate != 500000 {
		t.Fatalf("explicit flags overridden: baud %d bitrate %d", c.baud, c.bitrate)
	}
}

func TestApplyEnvOverrides_MetricsAddrMayBeEmpty(t *testing.T) {
	c := defaultConfig()
	c.metricsAddr = ":9100"
	t.Setenv("MSCAN_SERVER_METRICS", "")
	if err := applyEnvOverrides(c, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if c.metricsAddr != "" {
		t.Fatalf("empty MSCAN_SERVER_METRICS should disable metrics, got %q", c.metricsAddr)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	for key, val := range map[string]string{
		"MSCAN_SERVER_HUB_BUFFER":  "notint",
		"MSCAN_SERVER_CLOCK":       "-1",
		"MSCAN_SERVER_TX_WAIT":     "soon",
		"MSCAN_SERVER_MDNS_ENABLE": "maybe",
	} {
		t.Run(key, func(t *testing.T) {
			c := defaultConfig()
			t.Setenv(key, val)
			if err := applyEnvOverrides(c, map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%s", key, val)
			}
		})
	}
}
