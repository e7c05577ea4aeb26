// Package subscription keeps the many-to-many index between realtime clients
// and the machines they watch.
package subscription

import (
	"sort"
	"sync"
)

// Registry maps client → machines and machine → clients. Both sides are kept
// consistent under one lock and empty sets are pruned.
type Registry struct {
	mu        sync.RWMutex
	byClient  map[string]map[int64]struct{}
	byMachine map[int64]map[string]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byClient:  make(map[string]map[int64]struct{}),
		byMachine: make(map[int64]map[string]struct{}),
	}
}

// Subscribe records (clientID, machineID). It reports whether the pair is new.
func (r *Registry) Subscribe(clientID string, machineID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	machines, ok := r.byClient[clientID]
	if !ok {
		machines = make(map[int64]struct{})
		r.byClient[clientID] = machines
	}
	if _, exists := machines[machineID]; exists {
		return false
	}
	machines[machineID] = struct{}{}

	clients, ok := r.byMachine[machineID]
	if !ok {
		clients = make(map[string]struct{})
		r.byMachine[machineID] = clients
	}
	clients[clientID] = struct{}{}
	return true
}

// Unsubscribe removes (clientID, machineID). It reports whether the pair existed.
func (r *Registry) Unsubscribe(clientID string, machineID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	machines, ok := r.byClient[clientID]
	if !ok {
		return false
	}
	if _, exists := machines[machineID]; !exists {
		return false
	}
	delete(machines, machineID)
	if len(machines) == 0 {
		delete(r.byClient, clientID)
	}
	r.dropClientFromMachine(clientID, machineID)
	return true
}

// RemoveClient drops every subscription of a client and returns the machines
// it was subscribed to.
func (r *Registry) RemoveClient(clientID string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	machines, ok := r.byClient[clientID]
	if !ok {
		return nil
	}
	delete(r.byClient, clientID)

	removed := make([]int64, 0, len(machines))
	for machineID := range machines {
		r.dropClientFromMachine(clientID, machineID)
		removed = append(removed, machineID)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed
}

func (r *Registry) dropClientFromMachine(clientID string, machineID int64) {
	clients := r.byMachine[machineID]
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(r.byMachine, machineID)
	}
}

// Subscribers returns a snapshot of the clients subscribed to a machine
func (r *Registry) Subscribers(machineID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := r.byMachine[machineID]
	out := make([]string, 0, len(clients))
	for clientID := range clients {
		out = append(out, clientID)
	}
	sort.Strings(out)
	return out
}

// MachinesOf returns a snapshot of the machines a client is subscribed to
func (r *Registry) MachinesOf(clientID string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	machines := r.byClient[clientID]
	out := make([]int64, 0, len(machines))
	for machineID := range machines {
		out = append(out, machineID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Machines returns every machine with at least one subscriber
func (r *Registry) Machines() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]int64, 0, len(r.byMachine))
	for machineID := range r.byMachine {
		out = append(out, machineID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSubscribed reports whether the pair exists
func (r *Registry) IsSubscribed(clientID string, machineID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byMachine[machineID][clientID]
	return ok
}
