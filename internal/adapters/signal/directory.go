package signal

import (
	"sort"
	"sync"
)

// Directory maps registered ids to their signalling connection.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]*WsSignalConn
}

func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]*WsSignalConn)}
}

// Register binds id to c unless another connection holds it.
func (d *Directory) Register(id string, c *WsSignalConn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[id]; ok {
		return false
	}
	d.peers[id] = c
	return true
}

func (d *Directory) Unregister(id string, c *WsSignalConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.peers[id] == c {
		delete(d.peers, id)
	}
}

func (d *Directory) Get(id string) (*WsSignalConn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.peers[id]
	return c, ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.peers))
	for id := range d.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
