package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const mdnsServiceType = "_mscan-gw._tcp"

// mdnsInstance is the advertised instance name, derived from the host
// name unless configured.
func mdnsInstance(cfg *appConfig) string {
	if cfg.mdnsName != "" {
		return cfg.mdnsName
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return "mscan-server-" + host
}

// mdnsTXT lists what a client needs to know before connecting: the core,
// the bus speed and which message objects the gateway serves.
func mdnsTXT(cfg *appConfig, p *plan) []string {
	rx := make([]string, 0, 2)
	for _, nr := range p.gatewayRx() {
		rx = append(rx, strconv.Itoa(nr))
	}
	txt := []string{
		"backend=" + cfg.backend,
		"layout=" + cfg.layout,
		"bitrate=" + strconv.FormatUint(uint64(p.bitrate), 10),
		"rx_objects=" + strings.Join(rx, ","),
		"loopback=" + strconv.FormatBool(p.loopback),
		"version=" + version,
	}
	if nr := p.gatewayTx(); nr >= 0 {
		txt = append(txt, "tx_object="+strconv.Itoa(nr))
	}
	return txt
}

// advertise registers the gateway once its listener is bound and
// withdraws the record when ctx is done.
func advertise(ctx context.Context, g *gateway, p *plan) {
	if !g.cfg.mdnsEnable {
		return
	}
	select {
	case <-g.srv.Ready():
	case <-ctx.Done():
		return
	}
	port := listenPort(g.srv.Addr())
	instance := mdnsInstance(g.cfg)
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, mdnsTXT(g.cfg, p), nil)
	if err != nil {
		g.l.Warn("mdns_start_failed", "error", err)
		return
	}
	g.l.Info("mdns_started", "service", mdnsServiceType, "name", instance, "port", port)
	<-ctx.Done()
	svc.Shutdown()
}
