package wal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DurabilityPolicy selects how aggressively the WAL forces data to stable
// media (spec.md §4.1's three configurable fsync policies).
type DurabilityPolicy int

const (
	// Cache buffers writes and never forces fsync itself. Survives a
	// clean shutdown, not a power loss. Intended for benchmarks and
	// ephemeral instances.
	Cache DurabilityPolicy = iota

	// Standard flushes userspace buffers to the kernel on every write;
	// fsync to stable media happens on a timer or explicit Sync call.
	// Bounded data-loss window.
	Standard

	// Always blocks every mutating operation until its record is
	// fsync'd. Zero data-loss window, at the cost of per-op latency.
	Always
)

func (p DurabilityPolicy) String() string {
	switch p {
	case Cache:
		return "cache"
	case Standard:
		return "standard"
	case Always:
		return "always"
	default:
		return "unknown"
	}
}

// ParsePolicy maps the external config strings ("cache", "standard",
// "always") onto a DurabilityPolicy.
func ParsePolicy(s string) (DurabilityPolicy, bool) {
	switch s {
	case "cache":
		return Cache, true
	case "standard":
		return Standard, true
	case "always":
		return Always, true
	default:
		return 0, false
	}
}

// Options configures a WALWriter.
type Options struct {
	// DirPath is the directory the log file lives in.
	DirPath string

	// BufferSize is the in-process bufio buffer before data reaches the OS.
	BufferSize int

	Policy DurabilityPolicy

	// SyncInterval is the fsync timer period under Standard.
	SyncInterval time.Duration
}

// DefaultOptions returns a Standard-durability configuration.
func DefaultOptions() Options {
	return Options{
		DirPath:      "./strata_wal",
		BufferSize:   64 * 1024,
		Policy:       Standard,
		SyncInterval: time.Second,
	}
}

// Metrics are the Prometheus counters every WALWriter reports through, one
// set per engine instance (spec.md §6's WalCounters diagnostics surface).
type Metrics struct {
	Appends prometheus.Counter
	Syncs   prometheus.Counter
	Bytes   prometheus.Counter
}

// NewMetrics registers a fresh counter set on reg. Callers that don't care
// about scraping can pass prometheus.NewRegistry() and discard it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Appends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_wal_appends_total",
			Help: "Number of WAL entries appended.",
		}),
		Syncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_wal_syncs_total",
			Help: "Number of fsync calls issued by the WAL writer.",
		}),
		Bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_wal_bytes_total",
			Help: "Number of bytes appended to the WAL.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Appends, m.Syncs, m.Bytes)
	}
	return m
}
