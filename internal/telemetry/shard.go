package telemetry

import "sync"

// shard holds all rings of one domain behind a single lock. One lock per
// domain matches the traffic pattern (each bus reader touches one domain at a
// time) and keeps the reader's snapshot internally consistent.
type shard struct {
	mu       sync.Mutex
	modules  int
	cells    int
	capacity int
	rings    []ring
}

func (s *shard) init(modules, cells, capacity int) {
	s.modules = modules
	s.cells = cells
	s.capacity = capacity
	s.rings = make([]ring, modules*cells)
	for i := range s.rings {
		s.rings[i].samples = make([]Sample, capacity)
	}
}

func (s *shard) inRange(module, cell int) bool {
	return module >= 0 && module < s.modules && cell >= 0 && cell < s.cells
}

func (s *shard) write(module, cell int, sample Sample) bool {
	if !s.inRange(module, cell) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &s.rings[module*s.cells+cell]
	r.samples[r.cursor] = sample
	if r.cursor == s.capacity-1 {
		r.wrapped = true
	}
	r.cursor = (r.cursor + 1) % s.capacity
	return true
}

func (s *shard) history(module, cell int) []Sample {
	if !s.inRange(module, cell) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &s.rings[module*s.cells+cell]
	if !r.wrapped {
		out := make([]Sample, r.cursor)
		copy(out, r.samples[:r.cursor])
		return out
	}

	// Wrapped: the slot at cursor is the oldest sample, so chronological
	// order is tail-from-cursor followed by head-up-to-cursor.
	out := make([]Sample, 0, s.capacity)
	out = append(out, r.samples[r.cursor:]...)
	out = append(out, r.samples[:r.cursor]...)
	return out
}

func (s *shard) latest() [][]*float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	matrix := make([][]*float64, s.modules)
	for m := 0; m < s.modules; m++ {
		matrix[m] = make([]*float64, s.cells)
		for c := 0; c < s.cells; c++ {
			r := &s.rings[m*s.cells+c]
			if r.cursor == 0 && !r.wrapped {
				continue // never written
			}
			idx := (r.cursor - 1 + s.capacity) % s.capacity
			v := r.samples[idx].Value
			matrix[m][c] = &v
		}
	}
	return matrix
}
