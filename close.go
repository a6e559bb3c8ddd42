package tsearch

// Close drops every cached query result. The database handle belongs to
// the caller and is left open.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.cache.Purge()
	return nil
}
