package media

import "sync"

// SurfaceRegistry is a SurfaceResolver the presentation layer fills in as
// participants appear.
type SurfaceRegistry struct {
	mu       sync.RWMutex
	surfaces map[string]Surface
}

func NewSurfaceRegistry() *SurfaceRegistry {
	return &SurfaceRegistry{surfaces: make(map[string]Surface)}
}

func (r *SurfaceRegistry) Register(participantID string, s Surface) {
	r.mu.Lock()
	r.surfaces[participantID] = s
	r.mu.Unlock()
}

func (r *SurfaceRegistry) Unregister(participantID string) {
	r.mu.Lock()
	delete(r.surfaces, participantID)
	r.mu.Unlock()
}

func (r *SurfaceRegistry) Surface(participantID string) (Surface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.surfaces[participantID]
	return s, ok
}
