package net

// Peer is a simple interface that allows retrieving the address of a
// destination duchy. It might further be enhanced with certificate
// properties and all.
type Peer interface {
	Address() string
	IsTLS() bool
}

type sPeer struct {
	addr string
	tls  bool
}

func (s *sPeer) Address() string {
	return s.addr
}

func (s *sPeer) IsTLS() bool {
	return s.tls
}

// CreatePeer builds a peer from an address.
func CreatePeer(addr string, tls bool) Peer {
	return &sPeer{
		addr: addr,
		tls:  tls,
	}
}
