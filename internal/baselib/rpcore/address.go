package rpcore

import (
	"fmt"
	"net/url"
	"strconv"
)

// addressScheme is the URL scheme used by the canonical RpcAddress form,
// jspark://host:port.
const addressScheme = "jspark"

// Address is an (host, port) pair identifying an RpcEnvironment across nodes.
// Equality and hashing are structural: Address is a plain comparable struct,
// so two addresses with the same Host and Port compare equal with ==, and can
// be used directly as a map key.
type Address struct {
	Host string
	Port int
}

// ClientOnlyAddress is the distinguished sender address used by an
// environment with no listening server (a "client-only" node). It has an
// empty host, which ParseAddress would reject, guaranteeing it is never
// confused with a real, reachable address.
var ClientOnlyAddress = Address{Host: "", Port: 0}

// String returns the canonical jspark://host:port form of the address.
func (a Address) String() string {
	return fmt.Sprintf("%s://%s:%d", addressScheme, a.Host, a.Port)
}

// IsClientOnly reports whether this address is the distinguished
// client-only sentinel.
func (a Address) IsClientOnly() bool {
	return a == ClientOnlyAddress
}

// ParseAddress parses the canonical jspark://host:port form produced by
// Address.String. It rejects a missing host or port with ErrInvalidAddress,
// satisfying the round-trip law ParseAddress(addr.String()) == addr for
// every valid address.
func ParseAddress(raw string) (Address, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	if u.Scheme != addressScheme {
		return Address{}, fmt.Errorf(
			"%w: unexpected scheme %q", ErrInvalidAddress, u.Scheme,
		)
	}

	host := u.Hostname()
	if host == "" {
		return Address{}, fmt.Errorf(
			"%w: missing host in %q", ErrInvalidAddress, raw,
		)
	}

	portStr := u.Port()
	if portStr == "" {
		return Address{}, fmt.Errorf(
			"%w: missing port in %q", ErrInvalidAddress, raw,
		)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf(
			"%w: invalid port %q", ErrInvalidAddress, portStr,
		)
	}

	return Address{Host: host, Port: port}, nil
}
