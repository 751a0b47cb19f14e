package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/handset/host/internal/auth"
	"github.com/handset/host/internal/config"
	"github.com/handset/host/internal/discovery"
	"github.com/handset/host/internal/dispatch"
	"github.com/handset/host/internal/envelope"
	"github.com/handset/host/internal/input"
	"github.com/handset/host/internal/logging"
	"github.com/handset/host/internal/mdns"
	"github.com/handset/host/internal/replay"
	"github.com/handset/host/internal/server"
	"github.com/handset/host/internal/storage"
)

// StartConfig holds the flags of the start command. Empty values fall back
// to the config file, then to defaults.
type StartConfig struct {
	Config        string
	Addr          string
	UDPAddr       string
	DiscoveryAddr string
	AdvertiseIP   string
	KDF           string
	KDFSalt       string
	Executor      string
	LogLevel      string
	LogFile       string
	AuditDB       string
	Code          string
	MdnsEnabled   bool
	QR            bool
}

func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &StartConfig{}
	fs.StringVar(&cfg.Config, "config", "", "Path to config file (default: ~/.handset/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "HTTP command address (default: 0.0.0.0:5000)")
	fs.StringVar(&cfg.UDPAddr, "udp-addr", "", "UDP command address (default: 0.0.0.0:5000)")
	fs.StringVar(&cfg.DiscoveryAddr, "discovery-addr", "", `Discovery responder address, or "off" (default: 0.0.0.0:5001)`)
	fs.StringVar(&cfg.AdvertiseIP, "advertise-ip", "", "IP offered to discovering phones (default: routed address)")
	fs.StringVar(&cfg.KDF, "kdf", "", "Key derivation: sha256, pbkdf2, argon2id, hkdf (default: sha256)")
	fs.StringVar(&cfg.KDFSalt, "kdf-salt", "", "Salt for pbkdf2, argon2id and hkdf")
	fs.StringVar(&cfg.Executor, "executor", "", "Input backend: auto, shell, log (default: auto)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	fs.StringVar(&cfg.LogFile, "log-file", "", "Write logs to this file with rotation")
	fs.StringVar(&cfg.AuditDB, "audit-db", "", `Security audit database, or "off" (default: ~/.handset/audit.db)`)
	fs.StringVar(&cfg.Code, "code", "", "Use this pairing code instead of a random one (testing only)")
	fs.BoolVar(&cfg.MdnsEnabled, "mdns", false, "Enable mDNS/Bonjour advertisement (LAN-visible)")
	fs.BoolVar(&cfg.QR, "qr", false, "Display pairing details as a QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: handset start [options]

Start the host. A fresh pairing code is printed at every start; enter it in
the phone app. Commands are accepted over HTTP and UDP and must be sealed
with the key derived from that code.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Track which flags were explicitly set on the command line.
	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	fileCfg, err := config.Load(cfg.Config)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	hostCfg := mergeStartConfig(cfg, fileCfg, explicitFlags)
	hostCfg.ApplyDefaults()
	if err := hostCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:  hostCfg.LogLevel,
		File:   hostCfg.LogFile,
		Stderr: true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	h, err := newHostRuntime(hostCfg, cfg.Code)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Start(ctx); err != nil {
		cancel()
		h.Stop()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	info := h.PairingInfo()
	if hostCfg.QR {
		DisplayQRCode(stdout, info)
	} else {
		DisplayPairingCode(stdout, info)
	}
	fmt.Fprintf(stdout, "Host ready: http %s, udp %s. Press Ctrl+C to stop.\n", h.http.Addr(), h.udp.Addr())

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	cancel()
	h.Stop()
	return 0
}

// mergeStartConfig applies CLI flags over file values. Booleans from the file
// apply only when the flag was not set explicitly, so --mdns=false wins.
func mergeStartConfig(cfg *StartConfig, fileCfg *config.Config, explicitFlags map[string]bool) *config.Config {
	merged := *fileCfg

	if cfg.Addr != "" {
		merged.Addr = cfg.Addr
	}
	if cfg.UDPAddr != "" {
		merged.UDPAddr = cfg.UDPAddr
	}
	if cfg.DiscoveryAddr != "" {
		merged.DiscoveryAddr = cfg.DiscoveryAddr
	}
	if cfg.AdvertiseIP != "" {
		merged.AdvertiseIP = cfg.AdvertiseIP
	}
	if cfg.KDF != "" {
		merged.KDF = cfg.KDF
	}
	if cfg.KDFSalt != "" {
		merged.KDFSalt = cfg.KDFSalt
	}
	if cfg.Executor != "" {
		merged.Executor = cfg.Executor
	}
	if cfg.LogLevel != "" {
		merged.LogLevel = cfg.LogLevel
	}
	if cfg.LogFile != "" {
		merged.LogFile = cfg.LogFile
	}
	if cfg.AuditDB != "" {
		merged.AuditDB = cfg.AuditDB
	}
	if explicitFlags["mdns"] {
		merged.MdnsEnabled = cfg.MdnsEnabled
	}
	if explicitFlags["qr"] {
		merged.QR = cfg.QR
	}
	return &merged
}

// hostRuntime owns every long-lived component of a running host.
type hostRuntime struct {
	cfg     *config.Config
	pairing *auth.Pairing

	guard      *replay.Guard
	pipeline   *server.Pipeline
	pool       *server.Pool
	udp        *server.UDPServer
	http       *server.HTTPServer
	responder  *discovery.Responder
	advertiser *mdns.Advertiser

	store       *storage.SQLiteStore
	auditWriter *storage.AsyncAuditWriter

	wg sync.WaitGroup
}

// newHostRuntime derives the key, opens the audit store and binds the UDP
// command socket. HTTP and discovery are bound by Start.
func newHostRuntime(cfg *config.Config, code string) (*hostRuntime, error) {
	deriver, err := auth.NewDeriver(cfg.KDF, cfg.KDFSalt)
	if err != nil {
		return nil, err
	}
	pairing, err := auth.NewPairing(auth.PairingConfig{
		CodeLength: cfg.PairingCodeLength,
		Code:       code,
		Deriver:    deriver,
	})
	if err != nil {
		return nil, err
	}
	codec, err := envelope.NewCodec(pairing.Key)
	if err != nil {
		return nil, err
	}

	guard, err := replay.NewGuard(replay.Config{
		Tolerance:     cfg.ReplayTolerance(),
		Retention:     cfg.ReplayRetention(),
		SweepInterval: cfg.ReplaySweepInterval(),
	})
	if err != nil {
		return nil, err
	}

	h := &hostRuntime{cfg: cfg, pairing: pairing, guard: guard}

	var audit server.AuditSink
	if cfg.AuditDB != config.Off {
		if err := os.MkdirAll(filepath.Dir(cfg.AuditDB), 0700); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		store, err := storage.NewSQLiteStore(cfg.AuditDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		h.store = store
		h.auditWriter = storage.NewAsyncAuditWriter(store, cfg.AuditMaxRows, storage.DefaultAuditBuffer)
		audit = server.NewAuditStoreAdapter(h.auditWriter)
	}

	h.pipeline = server.NewPipeline(server.PipelineConfig{
		Codec: codec,
		Guard: guard,
		Dispatcher: dispatch.New(dispatch.Config{
			Executor:       newExecutor(cfg.Executor),
			MotionInterval: cfg.MotionInterval(),
		}),
		Audit: audit,
	})

	h.pool = server.NewPool(cfg.Workers, cfg.QueueSize)
	h.udp, err = server.ListenUDP(cfg.UDPAddr, h.pipeline, h.pool)
	if err != nil {
		h.Stop()
		return nil, err
	}

	h.http = server.NewHTTPServer(server.HTTPConfig{
		Addr:        cfg.Addr,
		MaxConns:    cfg.MaxConns,
		MaxInFlight: cfg.MaxInFlight,
	}, h.pipeline)
	h.http.SetStatusHandler(server.NewStatusHandler(server.StatusConfig{
		HTTP:     h.http,
		UDP:      h.udp,
		Pipeline: h.pipeline,
		Pool:     h.pool,
		KDF:      pairing.KDF,
		Nonces:   guard.Len,
	}))

	return h, nil
}

// newExecutor picks the input backend. "auto" uses the shell tools when
// xdotool is installed and falls back to logging otherwise.
func newExecutor(name string) dispatch.Executor {
	switch name {
	case config.ExecutorShell:
		return input.NewShellExecutor()
	case config.ExecutorLog:
		return input.NewLogExecutor()
	default:
		if input.Available() {
			return input.NewShellExecutor()
		}
		logging.Warnf("host: xdotool not found, commands will only be logged")
		return input.NewLogExecutor()
	}
}

// Start binds HTTP and discovery, then launches the background loops.
// The loops end when ctx is cancelled; cancel it before calling Stop.
func (h *hostRuntime) Start(ctx context.Context) error {
	if err := <-h.http.StartAsync(); err != nil {
		return err
	}

	// The responder offers the port HTTP actually bound.
	if h.cfg.DiscoveryAddr != config.Off {
		responder, err := discovery.NewResponder(discovery.Config{
			Addr:        h.cfg.DiscoveryAddr,
			ServicePort: portOf(h.http.Addr()),
			AdvertiseIP: h.cfg.AdvertiseIP,
			RatePerSec:  h.cfg.DiscoveryRatePerSec,
		})
		if err != nil {
			return err
		}
		h.responder = responder
	}

	h.goRun(func() { h.guard.Run(ctx) })
	h.goRun(func() {
		if err := h.udp.Serve(ctx); err != nil {
			logging.Errorf("host: udp server stopped: %v", err)
		}
	})
	if h.responder != nil {
		h.goRun(func() {
			if err := h.responder.Serve(ctx); err != nil {
				logging.Errorf("host: discovery stopped: %v", err)
			}
		})
	}

	if h.cfg.MdnsEnabled {
		h.advertiser = mdns.NewAdvertiser(mdns.Config{
			Port:    portOf(h.http.Addr()),
			UDPPort: portOf(h.udp.Addr().String()),
			KDF:     h.pairing.KDF,
		})
		if err := h.advertiser.Start(); err != nil {
			// Discovery over mDNS is optional; the broadcast responder still works.
			logging.Warnf("host: mdns advertisement failed: %v", err)
			h.advertiser = nil
		}
	}
	return nil
}

func (h *hostRuntime) goRun(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

// PairingInfo returns what the phone needs to connect.
func (h *hostRuntime) PairingInfo() PairingInfo {
	return PairingInfo{
		Code: h.pairing.Code,
		Addr: displayAddr(h.http.Addr(), h.cfg.AdvertiseIP),
		KDF:  h.pairing.KDF,
		Salt: h.cfg.KDFSalt,
	}
}

// Stop releases everything in reverse order of creation. Safe to call on a
// partially built runtime.
func (h *hostRuntime) Stop() {
	if h.advertiser != nil {
		h.advertiser.Stop()
	}
	if h.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.http.Shutdown(ctx); err != nil {
			logging.Warnf("host: http shutdown: %v", err)
		}
		cancel()
	}
	if h.responder != nil {
		h.responder.Close()
	}
	if h.udp != nil {
		h.udp.Close()
	}
	h.wg.Wait()
	if h.pool != nil {
		h.pool.Close()
	}
	if h.auditWriter != nil {
		h.auditWriter.Close()
	}
	if h.store != nil {
		h.store.Close()
	}
}
