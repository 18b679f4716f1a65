package core

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/duchynet/duchy/net"
)

// DuchyInfo describes one member of the ring as listed in the ring file.
type DuchyInfo struct {
	// Name is the label other duchies know this one by; it doubles as the
	// sender field on forwarded artifacts.
	Name string
	// Address is the host:port of the duchy's ComputationControl endpoint.
	Address string
	// TLS says whether the endpoint expects TLS connections.
	TLS bool
}

// Peer returns the dialable view of this duchy.
func (d *DuchyInfo) Peer() net.Peer {
	return net.CreatePeer(d.Address, d.TLS)
}

// Ring is the fixed set of duchies running the protocol together, in ring
// order. One of them is the aggregator; the others are its secondaries.
type Ring struct {
	// Aggregator is the name of the primary duchy.
	Aggregator string
	Duchies    []*DuchyInfo
}

// LoadRing reads and validates a TOML ring file.
func LoadRing(path string) (*Ring, error) {
	r := new(Ring)
	if _, err := toml.DecodeFile(path, r); err != nil {
		return nil, fmt.Errorf("reading ring file %q: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ring file %q: %w", path, err)
	}
	return r, nil
}

// Validate checks the ring is usable: at least two duchies, unique names and
// an aggregator that is one of them.
func (r *Ring) Validate() error {
	if len(r.Duchies) < 2 {
		return fmt.Errorf("ring needs at least 2 duchies, got %d", len(r.Duchies))
	}
	seen := make(map[string]bool, len(r.Duchies))
	for _, d := range r.Duchies {
		if d.Name == "" || d.Address == "" {
			return fmt.Errorf("duchy entry missing name or address")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate duchy name %q", d.Name)
		}
		seen[d.Name] = true
	}
	if !seen[r.Aggregator] {
		return fmt.Errorf("aggregator %q is not part of the ring", r.Aggregator)
	}
	return nil
}

// Find returns the duchy with the given name.
func (r *Ring) Find(name string) (*DuchyInfo, error) {
	for _, d := range r.Duchies {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no duchy named %q in the ring", name)
}

// Successor returns the duchy after the named one, wrapping around.
func (r *Ring) Successor(name string) (*DuchyInfo, error) {
	for i, d := range r.Duchies {
		if d.Name == name {
			return r.Duchies[(i+1)%len(r.Duchies)], nil
		}
	}
	return nil, fmt.Errorf("no duchy named %q in the ring", name)
}

// Others returns the names of every duchy except the given one, in ring
// order. These are the sender labels a fan-in stage waits on.
func (r *Ring) Others(name string) []string {
	var names []string
	for _, d := range r.Duchies {
		if d.Name != name {
			names = append(names, d.Name)
		}
	}
	return names
}
