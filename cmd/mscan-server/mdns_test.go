package main

import (
	"slices"
	"strings"
	"testing"
)

func TestMDNSTXT(t *testing.T) {
	cfg := defaultConfig()
	txt := mdnsTXT(cfg, defaultPlan(cfg))
	for _, want := range []string{"backend=sim", "layout=z15", "bitrate=500000", "rx_objects=2,3", "tx_object=1", "loopback=false"} {
		if !slices.Contains(txt, want) {
			t.Fatalf("TXT %v missing %q", txt, want)
		}
	}

	p := defaultPlan(cfg)
	p.objects = p.objects[1:]
	for _, rec := range mdnsTXT(cfg, p) {
		if strings.HasPrefix(rec, "tx_object=") {
			t.Fatalf("unexpected %q without a gateway tx object", rec)
		}
	}
}

func TestMDNSInstance(t *testing.T) {
	cfg := defaultConfig()
	cfg.mdnsName = "bench-gw"
	if got := mdnsInstance(cfg); got != "bench-gw" {
		t.Fatalf("instance=%q", got)
	}
	cfg.mdnsName = ""
	if got := mdnsInstance(cfg); !strings.HasPrefix(got, "mscan-server-") {
		t.Fatalf("instance=%q", got)
	}
}
