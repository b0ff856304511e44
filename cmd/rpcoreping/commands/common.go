package commands

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/roasbeef/rpcore/internal/baselib/rpcore"
)

// shutdownGrace bounds how long commands wait for an RpcEnvironment to
// unwind its outboxes and connect pool on exit.
const shutdownGrace = 5 * time.Second

// hostPortToAddress parses a "host:port" flag value into an rpcore.Address.
// Flags use the bare host:port form rather than Address's canonical
// jspark://host:port form since that's what users expect to type.
func hostPortToAddress(raw string) (rpcore.Address, error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return rpcore.Address{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return rpcore.Address{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return rpcore.Address{Host: host, Port: port}, nil
}
