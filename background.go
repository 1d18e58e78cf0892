package strata

// startBackground wires the periodic maintenance jobs spec.md §4.2 and
// §4.7 describe as "background-only, must not block foreground
// operations": reclaiming tombstoned vector entries and sweeping the
// keyspace of branches that have since been deleted.
func (s *Strata) startBackground() {
	s.cron.AddFunc("@every 1m", func() {
		if n := s.vector.CompactAll(); n > 0 {
			s.logger.Info().Int("reclaimed", n).Msg("vector compaction reclaimed tombstoned entries")
		}
	})
	s.cron.AddFunc("@every 5m", s.purgeRetiredBranches)
	s.cron.Start()
}

// purgeRetiredBranches drops every key still held under a branch id
// that DeleteBranch has already retired, across every primitive that
// keeps its keyspace partitioned by branch.
func (s *Strata) purgeRetiredBranches() {
	s.mu.Lock()
	ids := s.retiredBranches
	s.retiredBranches = nil
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.kv.PurgeBranch(id); err != nil {
			s.logger.Warn().Err(err).Uint32("branch", id).Msg("kv purge failed")
		}
		if err := s.document.PurgeBranch(id); err != nil {
			s.logger.Warn().Err(err).Uint32("branch", id).Msg("document purge failed")
		}
		if err := s.vector.PurgeBranch(id); err != nil {
			s.logger.Warn().Err(err).Uint32("branch", id).Msg("vector purge failed")
		}
		s.graph.PurgeBranch(id)
	}
}
