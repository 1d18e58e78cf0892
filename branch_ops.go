package strata

// CurrentBranch returns the name of the process-scoped current branch.
func (s *Strata) CurrentBranch() string {
	return s.branches.Current()
}

// CurrentBranchID returns the process-scoped current branch's id, for
// callers driving a Session directly (session.Command's Branch field
// is explicit, unlike the façade's own branch-implicit operations).
func (s *Strata) CurrentBranchID() uint32 {
	return s.currentBranch()
}

// SetBranch switches the current branch (spec.md §4.2). Fails with
// NotFound if name doesn't exist.
func (s *Strata) SetBranch(name string) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	return s.guard(s.branches.Set(name))
}

// CreateBranch assigns name a fresh branch id. Fails with AlreadyExists
// if name is taken.
func (s *Strata) CreateBranch(name string) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	_, err := s.branches.Create(name)
	return s.guard(err)
}

// DeleteBranch retires name. Fails with InvalidState if name is the
// current branch or "default", NotFound if absent. The freed id is
// queued for the background garbage collector (spec.md §4.2's
// "background-only, must not block foreground operations").
func (s *Strata) DeleteBranch(name string) error {
	if err := s.checkPoisoned(); err != nil {
		return err
	}
	id, err := s.branches.Delete(name)
	if err != nil {
		return s.guard(err)
	}
	s.mu.Lock()
	s.retiredBranches = append(s.retiredBranches, id)
	s.mu.Unlock()
	return nil
}

// ListBranches returns a snapshot of every branch name, sorted.
func (s *Strata) ListBranches() []string {
	return s.branches.List()
}
