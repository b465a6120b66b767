package userdb

import "sync"

// Memory is an in-process directory for tests and single-node demo setups.
type Memory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{users: make(map[string]User)}
}

// Add provisions or replaces an account.
func (m *Memory) Add(u User) {
	m.mu.Lock()
	m.users[u.Username] = u
	m.mu.Unlock()
}

// GetUser implements Directory.
func (m *Memory) GetUser(username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
