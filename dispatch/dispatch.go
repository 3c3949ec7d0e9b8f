// Package dispatch implements round-robin endpoint selection over a fixed
// set of upstream addresses for the reverse proxy.
package dispatch

import "sync"

// Dispatcher cycles through a fixed list of upstream addresses in order,
// wrapping back to the start once the list is exhausted. The mutex guards
// only the index read-modify-write; it is never held across any I/O, so a
// slow or stuck upstream can never stall other goroutines' selection.
type Dispatcher struct {
	mu        sync.Mutex
	endpoints []string
	index     int
}

// New builds a Dispatcher over endpoints in the given order. An empty list
// is permitted; Next will simply never return an endpoint.
func New(endpoints []string) *Dispatcher {
	cp := make([]string, len(endpoints))
	copy(cp, endpoints)
	return &Dispatcher{endpoints: cp}
}

// Next returns the next endpoint in round-robin order, or false if no
// endpoints were configured.
func (d *Dispatcher) Next() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.endpoints) == 0 {
		return "", false
	}

	endpoint := d.endpoints[d.index]
	d.index++
	if d.index > len(d.endpoints)-1 {
		d.index = 0
	}
	return endpoint, true
}

// Len reports the number of configured endpoints.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}
