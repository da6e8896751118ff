package engine

// idSet is an insertion-ordered set of value ids.
type idSet struct {
	order []ValueID
	index map[ValueID]int
}

func (s *idSet) add(id ValueID) bool {
	if s.index == nil {
		s.index = make(map[ValueID]int)
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = len(s.order)
	s.order = append(s.order, id)
	return true
}

func (s *idSet) has(id ValueID) bool {
	_, ok := s.index[id]
	return ok
}

func (s *idSet) remove(id ValueID) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	delete(s.index, id)
	copy(s.order[i:], s.order[i+1:])
	s.order = s.order[:len(s.order)-1]
	for j := i; j < len(s.order); j++ {
		s.index[s.order[j]] = j
	}
}

// first returns the oldest member.
func (s *idSet) first() (ValueID, bool) {
	if len(s.order) == 0 {
		return 0, false
	}
	return s.order[0], true
}

func (s *idSet) len() int {
	return len(s.order)
}

func (s *idSet) slice() []ValueID {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]ValueID, len(s.order))
	copy(out, s.order)
	return out
}

func (s *idSet) clear() {
	s.order = nil
	s.index = nil
}

// Pass holds the state of one propagation pass. A store opens a pass,
// records its direct writes with Assign, then hands it to Engine.Propagate.
// Nested passes (started from subscribers) get their own Pass.
type Pass struct {
	engine *Engine

	changed    idSet
	needUpdate idSet
	resolved   map[ValueID]struct{}
	resolving  bool
	recomputed int
}

// NewPass opens a pass for direct writes.
func (e *Engine) NewPass() *Pass {
	return &Pass{engine: e}
}

// Assign writes a static value. Identical values are skipped and report false.
// A changed value joins the changed set and seeds its dependents.
func (p *Pass) Assign(id ValueID, value any) (bool, error) {
	info, err := p.engine.registry.Get(id)
	if err != nil {
		return false, err
	}
	if info.Kind != KindStatic {
		return false, NewReadOnlyError(p.engine.registry.OwnerName(info.Owner), info.Name)
	}
	if Same(info.cached, value) {
		return false, nil
	}
	info.cached = value
	p.changed.add(id)
	for _, dep := range info.dependents.slice() {
		p.needUpdate.add(dep)
	}
	return true, nil
}

// Added records a value registered during this write. Static values count
// as changed; computed values are scheduled so the pass computes them.
func (p *Pass) Added(id ValueID) error {
	info, err := p.engine.registry.Get(id)
	if err != nil {
		return err
	}
	if info.Kind == KindStatic {
		p.changed.add(id)
		return nil
	}
	p.needUpdate.add(id)
	return nil
}

// Dirty reports whether the pass has anything to propagate.
func (p *Pass) Dirty() bool {
	return p.changed.len() > 0 || p.needUpdate.len() > 0
}

func (p *Pass) isResolved(id ValueID) bool {
	_, ok := p.resolved[id]
	return ok
}

func (p *Pass) markResolved(id ValueID) {
	if p.resolving {
		p.resolved[id] = struct{}{}
	}
}

func (p *Pass) reset() {
	p.changed.clear()
	p.needUpdate.clear()
	p.resolved = nil
	p.resolving = false
	p.recomputed = 0
}
