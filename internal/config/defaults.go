package config

// DirName is the per-user state directory under $HOME.
const DirName = ".handset"

// Off disables an optional listener or store when used as its address or path.
const Off = "off"

const (
	DefaultAddr          = "0.0.0.0:5000"
	DefaultUDPAddr       = "0.0.0.0:5000"
	DefaultDiscoveryAddr = "0.0.0.0:5001"
	DefaultLogLevel      = "info"
	DefaultKDF           = "sha256"

	DefaultReplayToleranceMs     = 60000
	DefaultReplayRetentionMs     = 120000
	DefaultReplaySweepIntervalMs = 10000

	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultMaxConns    = 64
	DefaultMaxInFlight = 16

	DefaultMotionMinIntervalMs = 5
	DefaultDiscoveryRatePerSec = 20
	DefaultAuditMaxRows        = 10000
)

// Executor backends.
const (
	ExecutorAuto  = "auto"
	ExecutorShell = "shell"
	ExecutorLog   = "log"
)
