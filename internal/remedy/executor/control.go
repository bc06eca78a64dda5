// SPDX-License-Identifier: Apache-2.0

package executor

import "sync"

// Control pauses and resumes the launching of new actions. Actions already
// running are never interrupted.
type Control struct {
	mu      sync.Mutex
	paused  bool
	changed chan struct{}
}

// NewControl returns a Control in the running state
func NewControl() *Control {
	return &Control{changed: make(chan struct{})}
}

// Pause stops new launches. It reports false if already paused.
func (c *Control) Pause() bool {
	return c.set(true)
}

// Resume allows launches again. It reports false if not paused.
func (c *Control) Resume() bool {
	return c.set(false)
}

func (c *Control) set(paused bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused == paused {
		return false
	}
	c.paused = paused
	close(c.changed)
	c.changed = make(chan struct{})
	return true
}

// Paused reports whether launches are stopped
func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Changed returns a channel closed on the next Pause or Resume
func (c *Control) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}
