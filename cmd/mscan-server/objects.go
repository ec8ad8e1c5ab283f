package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/kstaniek/go-mscan/internal/bustiming"
	"github.com/kstaniek/go-mscan/internal/can"
	"github.com/kstaniek/go-mscan/internal/mscan"
)

// objectsFile is the TOML layout of --objects:
//
//	bitrate = 250000
//	samples3 = false
//	loopback = false
//	error_capacity = 32
//
//	[timing]            # raw timing, wins over bitrate
//	brp = 4
//	sjw = 1
//	tseg1 = 13
//	tseg2 = 2
//
//	[[filter]]          # hardware acceptance filters, at most two
//	code = 0
//	mask = 4294967295
//	extended = false
//
//	[[object]]
//	nr = 1
//	dir = "tx"
//	capacity = 64
//	gateway = true      # client frames go here
//
//	[[object]]
//	nr = 2
//	dir = "rx"
//	capacity = 256
//	code = 256          # mask defaults to all ones (accept all)
//	mask = 255
//	remote = "data"     # any|data|remote
//	ids = [256, 257]    # accept field, standard identifiers only
//	gateway = true      # frames go to clients
type objectsFile struct {
	Bitrate       uint32         `toml:"bitrate"`
	Samples3      bool           `toml:"samples3"`
	Loopback      *bool          `toml:"loopback"`
	ErrorCapacity int            `toml:"error_capacity"`
	Timing        *timingSpec    `toml:"timing"`
	Filters       []hwFilterSpec `toml:"filter"`
	Objects       []objectSpec   `toml:"object"`
}

type timingSpec struct {
	BRP   uint8 `toml:"brp"`
	SJW   uint8 `toml:"sjw"`
	TSeg1 uint8 `toml:"tseg1"`
	TSeg2 uint8 `toml:"tseg2"`
}

type hwFilterSpec struct {
	Code     uint32  `toml:"code"`
	Mask     *uint32 `toml:"mask"`
	Extended bool    `toml:"extended"`
	Remote   string  `toml:"remote"`
}

type objectSpec struct {
	Nr       int      `toml:"nr"`
	Dir      string   `toml:"dir"`
	Capacity int      `toml:"capacity"`
	Code     uint32   `toml:"code"`
	Mask     *uint32  `toml:"mask"`
	Extended bool     `toml:"extended"`
	Remote   string   `toml:"remote"`
	IDs      []uint32 `toml:"ids"`
	Gateway  bool     `toml:"gateway"`
}

const defaultErrorCapacity = 32

// objectPlan is one message object to configure.
type objectPlan struct {
	nr       int
	dir      mscan.Direction
	capacity int
	filter   can.Filter
	gateway  bool
}

// plan is the controller setup applied before going online.
type plan struct {
	bitrate  uint32
	spl      bool
	timing   *bustiming.Timing
	loopback bool
	filters  []can.Filter
	errorCap int
	objects  []objectPlan
}

// defaultPlan routes client frames to object 1 and every received standard
// (object 2) and extended (object 3) frame to the clients.
func defaultPlan(cfg *appConfig) *plan {
	return &plan{
		bitrate:  uint32(cfg.bitrate),
		loopback: cfg.loopback,
		errorCap: defaultErrorCapacity,
		objects: []objectPlan{
			{nr: 1, dir: mscan.Transmit, capacity: 64, gateway: true},
			{nr: 2, dir: mscan.Receive, capacity: 256, filter: can.AcceptAll(), gateway: true},
			{nr: 3, dir: mscan.Receive, capacity: 256, filter: can.AcceptAllExtended(), gateway: true},
		},
	}
}

// loadPlan returns the default plan or the one described by cfg.objectsFile.
func loadPlan(cfg *appConfig) (*plan, error) {
	if cfg.objectsFile == "" {
		return defaultPlan(cfg), nil
	}
	var f objectsFile
	md, err := toml.DecodeFile(cfg.objectsFile, &f)
	if err != nil {
		return nil, fmt.Errorf("objects file: %w", err)
	}
	if und := md.Undecoded(); len(und) > 0 {
		return nil, fmt.Errorf("objects file: unknown keys %v", und)
	}
	return f.plan(cfg)
}

func parsePlan(data string, cfg *appConfig) (*plan, error) {
	var f objectsFile
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, err
	}
	if und := md.Undecoded(); len(und) > 0 {
		return nil, fmt.Errorf("unknown keys %v", und)
	}
	return f.plan(cfg)
}

func (f *objectsFile) plan(cfg *appConfig) (*plan, error) {
	p := &plan{
		bitrate:  f.Bitrate,
		spl:      f.Samples3,
		loopback: cfg.loopback,
		errorCap: f.ErrorCapacity,
	}
	if p.bitrate == 0 {
		p.bitrate = uint32(cfg.bitrate)
	}
	if f.Loopback != nil {
		p.loopback = *f.Loopback
	}
	if p.errorCap == 0 {
		p.errorCap = defaultErrorCapacity
	}
	if p.errorCap < 0 {
		return nil, fmt.Errorf("error_capacity must be >= 0")
	}
	if t := f.Timing; t != nil {
		bt := bustiming.Timing{BRP: t.BRP, SJW: t.SJW, TSeg1: t.TSeg1, TSeg2: t.TSeg2, SPL: f.Samples3}
		if err := bt.Validate(); err != nil {
			return nil, err
		}
		p.timing = &bt
	}
	if len(f.Filters) > 2 {
		return nil, fmt.Errorf("at most two hardware filters (got %d)", len(f.Filters))
	}
	for i, hf := range f.Filters {
		flt, err := buildFilter(hf.Code, hf.Mask, hf.Extended, hf.Remote, nil)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		p.filters = append(p.filters, flt)
	}

	seen := map[int]bool{}
	gatewayTx := 0
	for _, o := range f.Objects {
		if o.Nr <= mscan.ErrorObject || o.Nr >= mscan.NumObjects {
			return nil, fmt.Errorf("object %d: %w", o.Nr, mscan.ErrBadMsgNum)
		}
		if seen[o.Nr] {
			return nil, fmt.Errorf("object %d configured twice", o.Nr)
		}
		seen[o.Nr] = true
		dir, err := mscan.ParseDirection(strings.ToLower(o.Dir))
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", o.Nr, err)
		}
		if o.Capacity < 0 || (dir != mscan.Disabled && o.Capacity == 0) {
			return nil, fmt.Errorf("object %d: capacity %d", o.Nr, o.Capacity)
		}
		op := objectPlan{nr: o.Nr, dir: dir, capacity: o.Capacity, gateway: o.Gateway}
		switch dir {
		case mscan.Receive:
			op.filter, err = buildFilter(o.Code, o.Mask, o.Extended, o.Remote, o.IDs)
			if err != nil {
				return nil, fmt.Errorf("object %d: %w", o.Nr, err)
			}
		case mscan.Transmit:
			if o.Gateway {
				gatewayTx++
			}
		default:
			if o.Gateway {
				return nil, fmt.Errorf("object %d: a disabled object cannot serve the gateway", o.Nr)
			}
		}
		p.objects = append(p.objects, op)
	}
	if gatewayTx > 1 {
		return nil, errors.New("more than one gateway transmit object")
	}
	return p, nil
}

// buildFilter turns the file representation into a can.Filter. A missing
// mask accepts every identifier.
func buildFilter(code uint32, mask *uint32, ext bool, remote string, ids []uint32) (can.Filter, error) {
	f := can.Filter{Code: code, Mask: 0xffffffff}
	if mask != nil {
		f.Mask = *mask
	}
	if ext {
		f.CFlags |= can.Extended
	}
	switch strings.ToLower(remote) {
	case "", "any":
	case "data":
		f.MFlags |= can.RTR
	case "remote":
		f.MFlags |= can.RTR
		f.CFlags |= can.RTR
	default:
		return f, fmt.Errorf("remote must be any|data|remote (got %q)", remote)
	}
	if len(ids) > 0 {
		f.MFlags |= can.UseAccField
		for _, id := range ids {
			if id > can.CAN_SFF_MASK {
				return f, fmt.Errorf("accept field id 0x%x is not a standard identifier", id)
			}
			f.AccField.Set(id)
		}
	}
	if !f.Valid() {
		return f, fmt.Errorf("%w: accept field with extended filter", mscan.ErrBadParameter)
	}
	return f, nil
}

// gatewayTx returns the object client frames are written to, or -1.
func (p *plan) gatewayTx() int {
	for _, o := range p.objects {
		if o.gateway && o.dir == mscan.Transmit {
			return o.nr
		}
	}
	return -1
}

// gatewayRx returns the objects whose frames are broadcast to clients.
func (p *plan) gatewayRx() []int {
	var out []int
	for _, o := range p.objects {
		if o.gateway && o.dir == mscan.Receive {
			out = append(out, o.nr)
		}
	}
	return out
}

// apply programs the controller and takes it online.
func (p *plan) apply(c *mscan.Controller, minBRP uint32) error {
	switch {
	case p.timing != nil:
		if err := c.SetBusTiming(*p.timing); err != nil {
			return fmt.Errorf("bus timing: %w", err)
		}
	default:
		if code, ok := bustiming.CodeFor(p.bitrate); ok {
			err := c.SetBitrate(code, p.spl)
			if err == nil {
				break
			}
			if !errors.Is(err, mscan.ErrBadSpeed) {
				return fmt.Errorf("bitrate %s: %w", code, err)
			}
		}
		t, err := bustiming.Compute(p.bitrate, c.Clock(), minBRP, p.spl)
		if err != nil {
			return fmt.Errorf("bitrate %d: %w", p.bitrate, err)
		}
		if err := c.SetBusTiming(t); err != nil {
			return fmt.Errorf("bus timing: %w", err)
		}
	}
	switch len(p.filters) {
	case 1:
		if err := c.SetFilter(p.filters[0], p.filters[0]); err != nil {
			return fmt.Errorf("hardware filter: %w", err)
		}
	case 2:
		if err := c.SetFilter(p.filters[0], p.filters[1]); err != nil {
			return fmt.Errorf("hardware filter: %w", err)
		}
	}
	if err := c.SetLoopback(p.loopback); err != nil {
		return fmt.Errorf("loopback: %w", err)
	}
	if err := c.Configure(mscan.ErrorObject, mscan.Receive, p.errorCap, can.Filter{}); err != nil {
		return fmt.Errorf("error object: %w", err)
	}
	for _, o := range p.objects {
		if err := c.Configure(o.nr, o.dir, o.capacity, o.filter); err != nil {
			return fmt.Errorf("object %d: %w", o.nr, err)
		}
	}
	c.EnableIRQ(true)
	if err := c.Enable(true); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	return nil
}
