package rpctransport

import "github.com/btcsuite/btclog/v2"

// log is the package-level logger for the gRPC-backed transport. It defaults
// to a no-op logger so the package is silent until a caller wires up a real
// backend, mirroring internal/baselib/rpcore's logging convention.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by Server and Client. Call this
// once during process startup, the same way rpcore.UseLogger is wired.
func UseLogger(logger btclog.Logger) {
	log = logger
}
