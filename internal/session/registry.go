package session

import "sync"

// Registry holds the live session of each chat.
type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Context
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Context)}
}

func (r *Registry) Get(chatID int64) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sc, ok := r.sessions[chatID]
	return sc, ok
}

func (r *Registry) Put(chatID int64, sc *Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[chatID] = sc
}

func (r *Registry) Reset(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, chatID)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
