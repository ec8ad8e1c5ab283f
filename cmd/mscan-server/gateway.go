package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/cnl"
	"github.com/kstaniek/go-mscan/internal/hub"
	"github.com/kstaniek/go-mscan/internal/metrics"
	"github.com/kstaniek/go-mscan/internal/mscan"
	"github.com/kstaniek/go-mscan/internal/server"
)

// gateway ties the register backend, the engine, the hub and the TCP
// server together.
type gateway struct {
	cfg  *appConfig
	plan *plan
	l    *slog.Logger

	be   *registerBackend
	ctrl *mscan.Controller
	hub  *hub.Hub
	srv  *server.Server
	wg   sync.WaitGroup // bus receive loops
}

// newGateway opens the backend, initializes the controller, applies the
// object plan and builds the TCP server. Nothing runs until run is called.
func newGateway(ctx context.Context, cfg *appConfig, p *plan, l *slog.Logger) (*gateway, error) {
	g := &gateway{cfg: cfg, plan: p, l: l}
	be, err := initBackend(ctx, cfg, l, &g.wg)
	if err != nil {
		return nil, err
	}
	g.be = be
	g.ctrl, err = mscan.New(mscan.Config{
		Clock:  uint32(cfg.clock),
		MinBRP: uint32(cfg.minBRP),
		Layout: be.layout,
		Logger: l.With("component", "mscan"),
	}, be.access)
	if err != nil {
		g.close()
		return nil, fmt.Errorf("controller init: %w", err)
	}
	if err := p.apply(g.ctrl, uint32(cfg.minBRP)); err != nil {
		g.close()
		return nil, err
	}
	g.hub = initHub(cfg, l)

	opts := []server.ServerOption{
		server.WithHub(g.hub),
		server.WithCodec(&cnl.Codec{}),
		server.WithLogger(l),
		server.WithListenAddr(cfg.listenAddr),
		server.WithMaxClients(cfg.maxClients),
		server.WithHandshakeTimeout(cfg.handshakeTO),
		server.WithReadDeadline(cfg.clientReadTO),
	}
	if nr := p.gatewayTx(); nr >= 0 {
		opts = append(opts, server.WithSend(objectSender(g.ctrl, nr, cfg.txWait)))
	} else {
		l.Warn("no_gateway_tx_object", "effect", "client frames are dropped")
		opts = append(opts, server.WithFrameFilter(func(*can.Frame) bool { return false }))
	}
	g.srv = server.NewServer(opts...)
	return g, nil
}

// initHub builds the client fan-out. An unknown policy falls back to drop.
func initHub(cfg *appConfig, l *slog.Logger) *hub.Hub {
	h := hub.New()
	h.OutBufSize = cfg.hubBuffer
	p, ok := hub.ParsePolicy(cfg.hubPolicy)
	if !ok {
		l.Warn("unknown_hub_policy", "policy", cfg.hubPolicy, "used", p.String())
	}
	h.Policy = p
	l.Info("hub_config", "policy", h.Policy.String(), "buffer", h.OutBufSize)
	return h
}

// run serves until ctx is done or a component fails.
func (g *gateway) run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := g.ctrl.Serve(ctx, g.be.irq); err != nil && ctx.Err() == nil {
			metrics.IncError(metrics.ErrIRQWait)
			return fmt.Errorf("irq loop: %w", err)
		}
		return nil
	})
	if g.be.sim != nil {
		eg.Go(func() error { return runTxPump(ctx, g.be.sim, g.be.busSend, g.l) })
	}
	for _, nr := range g.plan.gatewayRx() {
		nr := nr
		eg.Go(func() error {
			if err := g.hub.Pump(ctx, rxObject{c: g.ctrl, nr: nr}); err != nil {
				metrics.IncError(metrics.ErrObjectRead)
				return fmt.Errorf("rx object %d: %w", nr, err)
			}
			return nil
		})
	}
	eg.Go(func() error { return monitorErrors(ctx, g.ctrl, g.l) })
	eg.Go(func() error {
		if err := g.srv.Serve(ctx); err != nil {
			return fmt.Errorf("tcp server: %w", err)
		}
		return nil
	})
	g.l.Info("gateway_running",
		"backend", g.cfg.backend,
		"tx_object", g.plan.gatewayTx(),
		"rx_objects", g.plan.gatewayRx(),
		"node", g.ctrl.NodeStatus().String())
	return eg.Wait()
}

// close shuts the controller and the backend down. Blocked object readers
// are woken by Controller.Close.
func (g *gateway) close() {
	if g.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.handshakeTO)
		_ = g.srv.Shutdown(ctx)
		cancel()
	}
	if g.ctrl != nil {
		_ = g.ctrl.Close()
	}
	if g.be != nil {
		g.be.cleanup()
	}
	g.wg.Wait()
}

// debugRoute serves the controller dump on the metrics HTTP server.
func (g *gateway) debugRoute() metrics.Route {
	return metrics.Route{
		Pattern: "/debug/mscan",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = io.WriteString(w, g.ctrl.Dump())
		}),
	}
}

// rxObject reads a receive message object for the hub.
type rxObject struct {
	c  *mscan.Controller
	nr int
}

func (o rxObject) Read(ctx context.Context) (can.Frame, error) {
	return o.c.Read(ctx, o.nr, mscan.Forever)
}

// objectSender writes client frames to transmit object nr, waiting at most
// wait for queue space.
func objectSender(c *mscan.Controller, nr int, wait time.Duration) server.SendFunc {
	return func(ctx context.Context, fr can.Frame) error {
		return c.Write(ctx, nr, fr, wait)
	}
}

// monitorErrors drains the error object and logs every entry until ctx is
// done.
func monitorErrors(ctx context.Context, c *mscan.Controller, l *slog.Logger) error {
	for {
		e, err := c.ReadError(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			metrics.IncError(metrics.ErrObjectRead)
			return fmt.Errorf("error object: %w", err)
		}
		switch e.Code {
		case mscan.BusOffSet, mscan.WarnSet:
			l.Warn("node_state_edge", "event", e.Code.Name(), "node", c.NodeStatus().String(), "detail", e.Code.String())
		case mscan.BusOffClr, mscan.WarnClr:
			l.Info("node_state_edge", "event", e.Code.Name(), "node", c.NodeStatus().String(), "detail", e.Code.String())
		case mscan.QueueOverrun:
			l.Warn("object_overrun", "obj", e.Obj)
		default:
			l.Warn("error_entry", "event", e.Code.Name(), "obj", e.Obj)
		}
	}
}
