package broker

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry is the set of subscribed peers keyed by observed remote address. A newer
// subscription from the same address replaces the older one.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	old, ok := r.peers[p.Addr]
	r.peers[p.Addr] = p
	active := len(r.peers)
	r.mu.Unlock()

	if ok && old != p {
		go old.Close()
		slog.Debug("registry replaced", "addr", p.Addr, "connId", old.ConnID)
	}
	slog.Debug("registry added", "addr", p.Addr, "connId", p.ConnID, "active", active)
}

// Remove drops p if it is still the registered peer for its address.
func (r *Registry) Remove(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.peers[p.Addr]; ok && cur == p {
		delete(r.peers, p.Addr)
		return true
	}
	return false
}

// Prune removes every peer whose socket has been observed closed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for addr, p := range r.peers {
		if p.IsClosed() {
			delete(r.peers, addr)
			n++
		}
	}
	return n
}

// Clear closes and removes every peer.
func (r *Registry) Clear() int {
	r.mu.Lock()
	peers := r.peers
	r.peers = make(map[string]*Peer)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Close()
		}()
	}
	wg.Wait()
	return len(peers)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Snapshot returns the registered peers ordered by address.
func (r *Registry) Snapshot() []*Peer {
	r.mu.Lock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
