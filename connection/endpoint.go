// Package connection implements the CORE of an HTTP/1.1 client: a
// single, possibly-TLS, persistent byte stream to one resolved endpoint
// over which HTTP requests are serialized.
package connection

// Endpoint identifies a resolved network address a connection can be
// opened against. It is comparable, so it can be used directly as a
// map key (endpoints are hashable and equality-comparable
// requires nothing more in Go than a plain struct).
type Endpoint struct {
	// Network is passed to net.Dialer.DialContext, e.g. "tcp", "tcp4",
	// "unix".
	Network string
	// Address is the dial target: "host:port" for tcp networks, or a
	// filesystem path for "unix".
	Address string
}

func (e Endpoint) String() string {
	return e.Network + "://" + e.Address
}
