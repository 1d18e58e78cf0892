package strata

import (
	"strings"

	dto "github.com/prometheus/client_model/go"

	"github.com/strata-db/strata/pkg/errors"
	"github.com/strata-db/strata/pkg/wal"
)

// Ping reports whether the engine is accepting mutating operations
// (spec.md §6's diagnostics surface).
func (s *Strata) Ping() bool {
	return s.checkPoisoned() == nil
}

// ConfigSet applies one of the recognized runtime configuration keys
// (spec.md §6): auto_embed records a true/false setting on the engine
// (no JSON-to-vector auto-population is performed), durability switches
// the WAL's fsync policy in place.
func (s *Strata) ConfigSet(key, value string) error {
	switch key {
	case "auto_embed":
		switch strings.ToLower(value) {
		case "true":
			s.mu.Lock()
			s.autoEmbed = true
			s.mu.Unlock()
		case "false":
			s.mu.Lock()
			s.autoEmbed = false
			s.mu.Unlock()
		default:
			return errors.InvalidArgumentf("strata: auto_embed must be true or false, got %q", value)
		}
	case "durability":
		policy, ok := wal.ParsePolicy(value)
		if !ok {
			return errors.InvalidArgumentf("strata: durability must be cache, standard, or always, got %q", value)
		}
		s.walWriter.SetPolicy(policy)
	default:
		return errors.InvalidArgumentf("strata: unrecognized config key %q", key)
	}
	return nil
}

// WalCounters is a point-in-time snapshot of the WAL's observability
// counters (spec.md §4.1's wal_appends/sync_calls).
type WalCounters struct {
	Appends uint64
	Syncs   uint64
	Bytes   uint64
}

// WalCounters reads the WAL's Prometheus counters back out of this
// engine's registry, so callers don't need their own metrics scraper
// wired up just to check the numbers spec.md §4.1 calls for.
func (s *Strata) WalCounters() WalCounters {
	var out WalCounters
	families, err := s.registry.Gather()
	if err != nil {
		return out
	}
	for _, fam := range families {
		if len(fam.Metric) == 0 {
			continue
		}
		value := counterValue(fam.Metric[0])
		switch fam.GetName() {
		case "strata_wal_appends_total":
			out.Appends = uint64(value)
		case "strata_wal_syncs_total":
			out.Syncs = uint64(value)
		case "strata_wal_bytes_total":
			out.Bytes = uint64(value)
		}
	}
	return out
}

func counterValue(m *dto.Metric) float64 {
	if m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}
