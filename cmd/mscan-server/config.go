package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-mscan/internal/bustiming"
	"github.com/kstaniek/go-mscan/internal/hub"
	"github.com/kstaniek/go-mscan/internal/logging"
	"github.com/kstaniek/go-mscan/internal/regs"
)

type appConfig struct {
	// register backend
	backend     string
	layout      string
	clock       uint
	minBRP      uint
	uioDev      string
	openRetries int

	// bus of the simulated core
	bus          string
	canIf        string
	serialDev    string
	baud         int
	serialReadTO time.Duration

	// controller defaults, overridden by the objects file
	objectsFile string
	bitrate     uint
	loopback    bool
	txWait      time.Duration

	// gateway
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func defaultConfig() *appConfig {
	return &appConfig{
		backend:      "sim",
		layout:       regs.Z15.Name,
		clock:        bustiming.Clock32MHz,
		minBRP:       bustiming.DefaultMinBRP,
		uioDev:       "/dev/uio0",
		openRetries:  3,
		bus:          "none",
		canIf:        "can0",
		serialDev:    "/dev/ttyUSB0",
		baud:         115200,
		serialReadTO: 50 * time.Millisecond,
		bitrate:      500000,
		txWait:       20 * time.Millisecond,
		listenAddr:   ":20000",
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    512,
		hubPolicy:    "drop",
		handshakeTO:  3 * time.Second,
		clientReadTO: 60 * time.Second,
	}
}

func parseFlags() (*appConfig, bool) {
	d := defaultConfig()
	cfg := &appConfig{}
	fs := flag.CommandLine
	fs.StringVar(&cfg.backend, "backend", d.backend, "Register backend: sim|uio")
	fs.StringVar(&cfg.layout, "layout", d.layout, "Register layout: z15|odin")
	fs.UintVar(&cfg.clock, "clock", d.clock, "CAN input clock in Hz")
	fs.UintVar(&cfg.minBRP, "min-brp", d.minBRP, "Smallest prescaler used by the bitrate search")
	fs.StringVar(&cfg.uioDev, "uio", d.uioDev, "UIO device (when --backend=uio)")
	fs.IntVar(&cfg.openRetries, "open-retries", d.openRetries, "Attempts when opening the UIO device or bus adapter")
	fs.StringVar(&cfg.bus, "bus", d.bus, "Bus of the simulated core: none|socketcan|serial")
	fs.StringVar(&cfg.canIf, "can-if", d.canIf, "SocketCAN interface (when --bus=socketcan)")
	fs.StringVar(&cfg.serialDev, "serial", d.serialDev, "Ampio adapter device path (when --bus=serial)")
	fs.IntVar(&cfg.baud, "baud", d.baud, "Serial baud rate")
	fs.DurationVar(&cfg.serialReadTO, "serial-read-timeout", d.serialReadTO, "Serial read timeout")
	fs.StringVar(&cfg.objectsFile, "objects", "", "TOML file with bus timing, filters and message objects")
	fs.UintVar(&cfg.bitrate, "bitrate", d.bitrate, "Bitrate in bit/s when the objects file sets none")
	fs.BoolVar(&cfg.loopback, "loopback", false, "Loopback mode when the objects file sets none")
	fs.DurationVar(&cfg.txWait, "tx-wait", d.txWait, "How long a client frame may wait for space in the transmit object")
	fs.StringVar(&cfg.listenAddr, "listen", d.listenAddr, "TCP listen address")
	fs.StringVar(&cfg.logFormat, "log-format", d.logFormat, "Log format: text|json")
	fs.StringVar(&cfg.logLevel, "log-level", d.logLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.IntVar(&cfg.hubBuffer, "hub-buffer", d.hubBuffer, "Per-client hub buffer (frames)")
	fs.StringVar(&cfg.hubPolicy, "hub-policy", d.hubPolicy, "Backpressure policy: drop|kick")
	fs.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	fs.IntVar(&cfg.maxClients, "max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	fs.DurationVar(&cfg.handshakeTO, "handshake-timeout", d.handshakeTO, "Client handshake timeout")
	fs.DurationVar(&cfg.clientReadTO, "client-read-timeout", d.clientReadTO, "Per-connection read deadline")
	fs.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Enable mDNS advertisement")
	fs.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default mscan-server-<hostname>)")
	showVersion := fs.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Explicitly set flags take precedence over the environment.
	setFlags := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Fprintf(os.Stderr, "environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate checks values and ranges. It does not open devices or listeners.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if !logging.ValidFormat(c.logFormat) {
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	if _, err := logging.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "sim", "uio":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if _, ok := regs.LayoutByName(c.layout); !ok {
		return fmt.Errorf("invalid layout: %s", c.layout)
	}
	switch c.bus {
	case "none", "socketcan", "serial":
	default:
		return fmt.Errorf("invalid bus: %s", c.bus)
	}
	if c.backend == "uio" && c.bus != "none" {
		return fmt.Errorf("bus %s needs the sim backend", c.bus)
	}
	if _, ok := hub.ParsePolicy(c.hubPolicy); !ok {
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.clock == 0 || c.clock > 1<<32-1 {
		return fmt.Errorf("clock out of range (got %d)", c.clock)
	}
	if c.minBRP < 1 || c.minBRP > 64 {
		return fmt.Errorf("min-brp must be 1..64 (got %d)", c.minBRP)
	}
	if c.bitrate == 0 || c.bitrate > 1000000 {
		return fmt.Errorf("bitrate must be 1..1000000 (got %d)", c.bitrate)
	}
	if c.openRetries < 1 {
		return fmt.Errorf("open-retries must be >= 1 (got %d)", c.openRetries)
	}
	if c.txWait <= 0 {
		return fmt.Errorf("tx-wait must be > 0")
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps MSCAN_SERVER_* environment variables to config
// fields unless the corresponding flag was set. Empty values are ignored.
// The first parse error is returned after all variables were applied.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	e := envApplier{set: set}
	e.setString("backend", "MSCAN_SERVER_BACKEND", &c.backend)
	e.setString("layout", "MSCAN_SERVER_LAYOUT", &c.layout)
	e.setUint("clock", "MSCAN_SERVER_CLOCK", &c.clock)
	e.setUint("min-brp", "MSCAN_SERVER_MIN_BRP", &c.minBRP)
	e.setString("uio", "MSCAN_SERVER_UIO", &c.uioDev)
	e.setInt("open-retries", "MSCAN_SERVER_OPEN_RETRIES", &c.openRetries)
	e.setString("bus", "MSCAN_SERVER_BUS", &c.bus)
	e.setString("can-if", "MSCAN_SERVER_IF", &c.canIf)
	e.setString("serial", "MSCAN_SERVER_SERIAL", &c.serialDev)
	e.setInt("baud", "MSCAN_SERVER_BAUD", &c.baud)
	e.setDuration("serial-read-timeout", "MSCAN_SERVER_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	e.setString("objects", "MSCAN_SERVER_OBJECTS", &c.objectsFile)
	e.setUint("bitrate", "MSCAN_SERVER_BITRATE", &c.bitrate)
	e.setBool("loopback", "MSCAN_SERVER_LOOPBACK", &c.loopback)
	e.setDuration("tx-wait", "MSCAN_SERVER_TX_WAIT", &c.txWait)
	e.setString("listen", "MSCAN_SERVER_LISTEN", &c.listenAddr)
	e.setString("log-format", "MSCAN_SERVER_LOG_FORMAT", &c.logFormat)
	e.setString("log-level", "MSCAN_SERVER_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		// empty disables, so it is applied as is
		if v, ok := os.LookupEnv("MSCAN_SERVER_METRICS"); ok {
			c.metricsAddr = strings.TrimSpace(v)
		}
	}
	e.setInt("hub-buffer", "MSCAN_SERVER_HUB_BUFFER", &c.hubBuffer)
	e.setString("hub-policy", "MSCAN_SERVER_HUB_POLICY", &c.hubPolicy)
	e.setDuration("log-metrics-interval", "MSCAN_SERVER_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	e.setInt("max-clients", "MSCAN_SERVER_MAX_CLIENTS", &c.maxClients)
	e.setDuration("handshake-timeout", "MSCAN_SERVER_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	e.setDuration("client-read-timeout", "MSCAN_SERVER_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	e.setBool("mdns-enable", "MSCAN_SERVER_MDNS_ENABLE", &c.mdnsEnable)
	e.setString("mdns-name", "MSCAN_SERVER_MDNS_NAME", &c.mdnsName)
	return e.err
}

type envApplier struct {
	set map[string]struct{}
	err error
}

// lookup returns the trimmed value of key unless flag was set explicitly.
func (e *envApplier) lookup(flagName, key string) (string, bool) {
	if _, ok := e.set[flagName]; ok {
		return "", false
	}
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envApplier) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func (e *envApplier) setString(flagName, key string, dst *string) {
	if v, ok := e.lookup(flagName, key); ok {
		*dst = v
	}
}

func (e *envApplier) setInt(flagName, key string, dst *int) {
	if v, ok := e.lookup(flagName, key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envApplier) setUint(flagName, key string, dst *uint) {
	if v, ok := e.lookup(flagName, key); ok {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = uint(n)
	}
}

func (e *envApplier) setDuration(flagName, key string, dst *time.Duration) {
	if v, ok := e.lookup(flagName, key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envApplier) setBool(flagName, key string, dst *bool) {
	if v, ok := e.lookup(flagName, key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			e.fail(key, fmt.Errorf("not a boolean: %q", v))
		}
	}
}
