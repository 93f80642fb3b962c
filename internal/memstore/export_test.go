package memstore

// LoadCount reports how many times cluster state was rebuilt from the store.
func (s *Store) LoadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}
