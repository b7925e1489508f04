package permission

import "sync"

// Static is an Oracle backed by a fixed grant set, typically loaded from the
// config file when running off-device.
type Static struct {
	mu      sync.RWMutex
	granted map[string]bool
}

// NewStatic returns an oracle granting exactly the given capabilities.
func NewStatic(granted ...string) *Static {
	s := &Static{granted: make(map[string]bool, len(granted))}
	for _, g := range granted {
		s.granted[g] = true
	}
	return s
}

// HasCapability implements Oracle.
func (s *Static) HasCapability(capability string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.granted[capability]
}

// Grant adds capabilities to the grant set.
func (s *Static) Grant(caps ...string) {
	s.mu.Lock()
	for _, c := range caps {
		s.granted[c] = true
	}
	s.mu.Unlock()
}

// Revoke removes capabilities from the grant set.
func (s *Static) Revoke(caps ...string) {
	s.mu.Lock()
	for _, c := range caps {
		delete(s.granted, c)
	}
	s.mu.Unlock()
}
