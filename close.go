package lethe

// Close releases resources held by the store: the batch worker pool, the
// metadata table, and the index collaborator if it holds closable
// resources.
//
// Close is idempotent. Every operation after the first Close returns
// ErrStoreClosed. The embedder is left open; the caller owns it.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.pool.Close()
	return translateError(s.coord.Close())
}
