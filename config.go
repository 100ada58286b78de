package botbox

// Config holds runtime configuration for a script runtime instance.
type Config struct {
	Sandboxed     bool // true: untrusted bootstrap + resource governor; false: trusted bot entry
	MemoryLimitMB int  // interpreter heap ceiling; 0 = default (256 MiB)

	// Per-run sandbox quotas. Zero values take the defaults below.
	OutputLineLimit int   // max sandbox.print/error calls per run
	OutputCharLimit int64 // max characters of sandbox output per run
	HTTPCallLimit   int64 // max outbound http_fetch calls per run

	// Outbound-call rate shared by every sandbox run on this runtime.
	HTTPRatePerSecond float64 // 0 = default (2/s)

	FetchTimeoutSec  int // per-fetch timeout in seconds; 0 = 30s
	MaxResponseBytes int // max fetch response body size; 0 = 10 MiB
	MaxScriptSizeKB  int // max sandbox source size; 0 = 64 KiB

	// BotScript is extra trusted bootstrap source evaluated after the
	// built-in bot library, typically overriding bot.on_command and
	// bot.think. Ignored for sandboxed runtimes.
	BotScript string

	// Capabilities are host-provided registration hooks run at creation
	// time on trusted runtimes only. Each hook installs its own library
	// and is responsible for its own restrictions.
	Capabilities []func(*Runtime) error

	// Audit, when set, records every sandbox message for later inspection.
	Audit *AuditStore
}

const (
	defaultMemoryLimitMB   = 256
	defaultOutputLineLimit = 10
	defaultOutputCharLimit = 2000
	defaultHTTPCallLimit   = 2
	defaultHTTPRate        = 2.0
	defaultFetchTimeoutSec = 30
	defaultMaxResponse     = 10 * 1024 * 1024
	defaultMaxScriptKB     = 64
)

// withDefaults fills in zero-valued fields.
func (c Config) withDefaults() Config {
	if c.MemoryLimitMB == 0 {
		c.MemoryLimitMB = defaultMemoryLimitMB
	}
	if c.OutputLineLimit == 0 {
		c.OutputLineLimit = defaultOutputLineLimit
	}
	if c.OutputCharLimit == 0 {
		c.OutputCharLimit = defaultOutputCharLimit
	}
	if c.HTTPCallLimit == 0 {
		c.HTTPCallLimit = defaultHTTPCallLimit
	}
	if c.HTTPRatePerSecond == 0 {
		c.HTTPRatePerSecond = defaultHTTPRate
	}
	if c.FetchTimeoutSec == 0 {
		c.FetchTimeoutSec = defaultFetchTimeoutSec
	}
	if c.MaxResponseBytes == 0 {
		c.MaxResponseBytes = defaultMaxResponse
	}
	if c.MaxScriptSizeKB == 0 {
		c.MaxScriptSizeKB = defaultMaxScriptKB
	}
	return c
}
