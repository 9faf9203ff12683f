package notify

import "sync"

// Hub holds one Center per user, created on first use.
type Hub struct {
	mutex   sync.Mutex
	centers map[string]*Center
	options []Option
}

// NewHub builds a Hub whose centers share the given options.
func NewHub(options ...Option) *Hub {
	return &Hub{centers: make(map[string]*Center), options: options}
}

// For returns the user's Center.
func (hub *Hub) For(userID string) *Center {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	center, ok := hub.centers[userID]
	if !ok {
		center = NewCenter(hub.options...)
		hub.centers[userID] = center
	}
	return center
}

// Release drops the user's Center once it holds nothing, so idle users do not
// accumulate. A later For starts a fresh Center.
func (hub *Hub) Release(userID string) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if center, ok := hub.centers[userID]; ok && center.Len() == 0 {
		delete(hub.centers, userID)
	}
}

// Users reports how many users currently hold a Center.
func (hub *Hub) Users() int {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return len(hub.centers)
}
