package peer

// checkUnique atomically inserts (channel, sequence) into the
// duplicate-suppression set, reporting whether it was already present
// (SPEC_FULL.md §4.4 step 3, §9 "Duplicate-set eviction"). Entries expire
// after cfg.DuplicateTimeout via the underlying expirable LRU.
func (p *Peer) checkUnique(channel uint8, sequence uint16) (duplicate bool) {
	key := uniqueKey{channel: channel, sequence: sequence}
	p.uniqueMu.Lock()
	defer p.uniqueMu.Unlock()
	if _, ok := p.uniqueSet.Get(key); ok {
		return true
	}
	p.uniqueSet.Add(key, struct{}{})
	return false
}
