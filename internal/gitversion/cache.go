package gitversion

// commitCache memoizes commit classifications across sweeps. Entries carry
// the generation they were last used in; each remote refresh bumps the
// generation and drops entries that were not touched for a full generation.
type commitCache struct {
	entries map[string]*cacheEntry
	epoch   uint8
}

type cacheEntry struct {
	result CommitInfo
	epoch  uint8
}

func newCommitCache() *commitCache {
	return &commitCache{entries: make(map[string]*cacheEntry)}
}

// get returns a cached classification if the entry is at most one generation
// old, promoting it to the current generation.
func (c *commitCache) get(sha string) (CommitInfo, bool) {
	entry, ok := c.entries[sha]
	if !ok {
		return UnknownCommit, false
	}
	if c.epoch-entry.epoch > 1 {
		return UnknownCommit, false
	}
	entry.epoch = c.epoch
	return entry.result, true
}

func (c *commitCache) put(sha string, result CommitInfo) {
	c.entries[sha] = &cacheEntry{result: result, epoch: c.epoch}
}

// cycle advances the generation and evicts entries that were last touched
// more than one generation ago. The counter wraps, the age math stays valid
// through uint8 wraparound.
func (c *commitCache) cycle() {
	c.epoch++
	for sha, entry := range c.entries {
		if c.epoch-entry.epoch > 1 {
			delete(c.entries, sha)
		}
	}
}
