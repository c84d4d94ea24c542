package core

import (
	"strings"
	"sync"
	"time"
)

type CrisisModeStatus struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	ActivatedAt time.Time `json:"activatedAt,omitempty"`
}

// CrisisMode is the engine-wide crisis flag. While active every feature
// access computation grants full access.
type CrisisMode struct {
	mu     sync.RWMutex
	status CrisisModeStatus
	Now    func() time.Time
}

func NewCrisisMode() *CrisisMode {
	return &CrisisMode{
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Activate turns crisis mode on and reports whether the flag changed.
func (c *CrisisMode) Activate(reason string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Active {
		return false
	}
	c.status = CrisisModeStatus{
		Active:      true,
		Reason:      strings.TrimSpace(reason),
		ActivatedAt: c.now(),
	}
	return true
}

func (c *CrisisMode) Deactivate() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.status.Active {
		return false
	}
	c.status = CrisisModeStatus{}
	return true
}

func (c *CrisisMode) Active() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Active
}

func (c *CrisisMode) Snapshot() CrisisModeStatus {
	if c == nil {
		return CrisisModeStatus{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *CrisisMode) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}
