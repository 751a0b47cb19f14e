// Package config provides configuration file loading for the host.
// The configuration file lives at ~/.handset/config.toml by default, but can be
// overridden with the --config flag. Files ending in .yaml or .yml are read as
// YAML. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/handset/host/internal/auth"
	apperrors "github.com/handset/host/internal/errors"
	"github.com/handset/host/internal/logging"
)

// Config represents the host configuration file structure.
// Keys are snake_case in both TOML and YAML files.
type Config struct {
	// Addr is the host:port for the reliable (HTTP) command transport.
	// Default: 0.0.0.0:5000
	Addr string `toml:"addr" yaml:"addr"`

	// UDPAddr is the host:port for the low-latency command transport.
	// Default: 0.0.0.0:5000
	UDPAddr string `toml:"udp_addr" yaml:"udp_addr"`

	// DiscoveryAddr is where the discovery responder listens.
	// Default: 0.0.0.0:5001. Set to "off" to disable discovery.
	DiscoveryAddr string `toml:"discovery_addr" yaml:"discovery_addr"`

	// AdvertiseIP overrides the address offered to discovering clients.
	AdvertiseIP string `toml:"advertise_ip" yaml:"advertise_ip"`

	// DiscoveryRatePerSec caps discovery replies per second.
	// Default: 20
	DiscoveryRatePerSec float64 `toml:"discovery_rate_per_sec" yaml:"discovery_rate_per_sec"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level" yaml:"log_level"`

	// LogFile, when set, receives rotated log output.
	LogFile string `toml:"log_file" yaml:"log_file"`

	// PairingCodeLength is the number of digits in the pairing code.
	// Default: 6
	PairingCodeLength int `toml:"pairing_code_length" yaml:"pairing_code_length"`

	// KDF selects the key derivation: sha256, pbkdf2, argon2id, hkdf.
	// Default: sha256
	KDF string `toml:"kdf" yaml:"kdf"`

	// KDFSalt is required by every KDF except sha256.
	KDFSalt string `toml:"kdf_salt" yaml:"kdf_salt"`

	ReplayToleranceMs     int `toml:"replay_tolerance_ms" yaml:"replay_tolerance_ms"`
	ReplayRetentionMs     int `toml:"replay_retention_ms" yaml:"replay_retention_ms"`
	ReplaySweepIntervalMs int `toml:"replay_sweep_interval_ms" yaml:"replay_sweep_interval_ms"`

	// Workers and QueueSize size the UDP worker pool.
	Workers   int `toml:"workers" yaml:"workers"`
	QueueSize int `toml:"queue_size" yaml:"queue_size"`

	// MaxConns caps open HTTP connections; MaxInFlight caps concurrent commands.
	MaxConns    int `toml:"max_conns" yaml:"max_conns"`
	MaxInFlight int `toml:"max_in_flight" yaml:"max_in_flight"`

	// MotionMinIntervalMs is the minimum spacing between pointer moves.
	// Default: 5. Negative disables throttling.
	MotionMinIntervalMs int `toml:"motion_min_interval_ms" yaml:"motion_min_interval_ms"`

	// AuditDB is the SQLite path for the security audit log.
	// Default: ~/.handset/audit.db. Set to "off" to disable.
	AuditDB string `toml:"audit_db" yaml:"audit_db"`

	// AuditMaxRows bounds the audit table.
	// Default: 10000
	AuditMaxRows int `toml:"audit_max_rows" yaml:"audit_max_rows"`

	// MdnsEnabled enables mDNS/Bonjour service advertisement.
	// Default: false (must be explicitly enabled)
	MdnsEnabled bool `toml:"mdns_enabled" yaml:"mdns_enabled"`

	// QR displays the pairing details as a QR code at startup.
	QR bool `toml:"qr" yaml:"qr"`

	// Executor selects the input backend: auto, shell, log.
	// Default: auto
	Executor string `toml:"executor" yaml:"executor"`
}

// DefaultConfigPath returns the default config file location: ~/.handset/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName, "config.toml"), nil
}

// DefaultAuditPath returns ~/.handset/audit.db.
func DefaultAuditPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DirName, "audit.db"), nil
}

// WriteDefault creates a commented config file at path.
// It never overwrites an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# Handset host configuration

# Command transports (HTTP and UDP may share a port number)
addr = %q
udp_addr = %q

# LAN discovery responder ("off" disables)
discovery_addr = %q

# Key derivation: sha256 (legacy clients), pbkdf2, argon2id, hkdf
kdf = %q

# Replay window
replay_tolerance_ms = %d
replay_retention_ms = %d

# Advertise over mDNS/Bonjour
mdns_enabled = false
`, DefaultAddr, DefaultUDPAddr, DefaultDiscoveryAddr, DefaultKDF,
		DefaultReplayToleranceMs, DefaultReplayRetentionMs)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads a config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location.
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
//
// Load does not apply defaults; callers merge flags first, then ApplyDefaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	default:
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			logging.Warnf("config: ignoring unknown keys in %s: %v", path, undecoded)
		}
	}

	return cfg, nil
}

// ApplyDefaults fills every zero-valued field with its default.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.UDPAddr == "" {
		c.UDPAddr = DefaultUDPAddr
	}
	if c.DiscoveryAddr == "" {
		c.DiscoveryAddr = DefaultDiscoveryAddr
	}
	if c.DiscoveryRatePerSec == 0 {
		c.DiscoveryRatePerSec = DefaultDiscoveryRatePerSec
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.PairingCodeLength == 0 {
		c.PairingCodeLength = auth.DefaultCodeLength
	}
	if c.KDF == "" {
		c.KDF = DefaultKDF
	}
	if c.ReplayToleranceMs == 0 {
		c.ReplayToleranceMs = DefaultReplayToleranceMs
	}
	if c.ReplayRetentionMs == 0 {
		c.ReplayRetentionMs = 2 * c.ReplayToleranceMs
	}
	if c.ReplaySweepIntervalMs == 0 {
		c.ReplaySweepIntervalMs = DefaultReplaySweepIntervalMs
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.MotionMinIntervalMs == 0 {
		c.MotionMinIntervalMs = DefaultMotionMinIntervalMs
	}
	if c.AuditDB == "" {
		if p, err := DefaultAuditPath(); err == nil {
			c.AuditDB = p
		} else {
			c.AuditDB = Off
		}
	}
	if c.AuditMaxRows == 0 {
		c.AuditMaxRows = DefaultAuditMaxRows
	}
	if c.Executor == "" {
		c.Executor = ExecutorAuto
	}
}

// Validate rejects values the host cannot run with. Call after ApplyDefaults.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return apperrors.InvalidConfig("log_level", err.Error())
	}
	if c.PairingCodeLength < auth.MinCodeLength {
		return apperrors.InvalidConfig("pairing_code_length", fmt.Sprintf("must be at least %d", auth.MinCodeLength))
	}
	if _, err := auth.NewDeriver(c.KDF, c.KDFSalt); err != nil {
		return err
	}
	if auth.Salted(c.KDF) && c.KDFSalt == "" {
		return apperrors.InvalidConfig("kdf_salt", fmt.Sprintf("is required for kdf %q", c.KDF))
	}
	if c.ReplayToleranceMs < 0 {
		return apperrors.InvalidConfig("replay_tolerance_ms", "must be positive")
	}
	if c.ReplayRetentionMs < 2*c.ReplayToleranceMs {
		return apperrors.InvalidConfig("replay_retention_ms", "must be at least twice replay_tolerance_ms")
	}
	if c.ReplaySweepIntervalMs < 0 {
		return apperrors.InvalidConfig("replay_sweep_interval_ms", "must be positive")
	}
	if c.Workers < 1 || c.QueueSize < 1 {
		return apperrors.InvalidConfig("workers", "workers and queue_size must be positive")
	}
	if c.MaxConns < 1 || c.MaxInFlight < 1 {
		return apperrors.InvalidConfig("max_conns", "max_conns and max_in_flight must be positive")
	}
	if c.DiscoveryRatePerSec < 0 {
		return apperrors.InvalidConfig("discovery_rate_per_sec", "must be positive")
	}
	if c.AuditMaxRows < 1 {
		return apperrors.InvalidConfig("audit_max_rows", "must be positive")
	}
	switch c.Executor {
	case ExecutorAuto, ExecutorShell, ExecutorLog:
	default:
		return apperrors.InvalidConfig("executor", fmt.Sprintf("unknown backend %q", c.Executor))
	}
	return nil
}

// ReplayTolerance returns the tolerance as a duration.
func (c *Config) ReplayTolerance() time.Duration {
	return time.Duration(c.ReplayToleranceMs) * time.Millisecond
}

// ReplayRetention returns the retention as a duration.
func (c *Config) ReplayRetention() time.Duration {
	return time.Duration(c.ReplayRetentionMs) * time.Millisecond
}

// ReplaySweepInterval returns the sweep interval as a duration.
func (c *Config) ReplaySweepInterval() time.Duration {
	return time.Duration(c.ReplaySweepIntervalMs) * time.Millisecond
}

// MotionInterval returns the motion throttle interval; negative disables it.
func (c *Config) MotionInterval() time.Duration {
	return time.Duration(c.MotionMinIntervalMs) * time.Millisecond
}
