package trading

import (
	"sync"
	"time"
)

// Cooldowns tracks per-symbol "no new entry until" times. Expired entries are
// pruned lazily on lookup and by Prune.
type Cooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
}

// NewCooldowns returns an empty tracker.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{until: make(map[string]time.Time)}
}

// Set blocks symbol until the given time. An existing later expiry is kept.
func (c *Cooldowns) Set(symbol string, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.until[symbol]; ok && cur.After(until) {
		return
	}
	c.until[symbol] = until
}

// Active reports whether symbol is still cooling down at now, and until when.
func (c *Cooldowns) Active(symbol string, now time.Time) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.until[symbol]
	if !ok {
		return time.Time{}, false
	}
	if !now.Before(until) {
		delete(c.until, symbol)
		return time.Time{}, false
	}
	return until, true
}

// Prune drops every entry that has expired at now and returns how many.
func (c *Cooldowns) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for sym, until := range c.until {
		if !now.Before(until) {
			delete(c.until, sym)
			n++
		}
	}
	return n
}

// Snapshot copies the pending entries.
func (c *Cooldowns) Snapshot() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time, len(c.until))
	for k, v := range c.until {
		out[k] = v
	}
	return out
}

// Restore replaces all entries with m.
func (c *Cooldowns) Restore(m map[string]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until = make(map[string]time.Time, len(m))
	for k, v := range m {
		c.until[k] = v
	}
}

// Len returns the number of tracked entries, expired or not.
func (c *Cooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}
