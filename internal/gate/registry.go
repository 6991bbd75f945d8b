package gate

import (
	"sync"

	"tgtg_watcher/internal/model"
)

// Registry holds one Gate per account.
type Registry struct {
	mu    sync.Mutex
	gates map[string]*Gate
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// Gate returns the gate of an account, creating a closed one if needed.
func (r *Registry) Gate(accountID string) *Gate {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.gates[accountID]
	if !ok {
		g = New(model.Notifications{}, 0)
		r.gates[accountID] = g
	}
	return g
}

// Sync applies the channel configuration of every account to its gate.
func (r *Registry) Sync(accounts []model.Account) {
	for _, a := range accounts {
		r.Gate(a.ID).Update(a.Notifications)
	}
}
