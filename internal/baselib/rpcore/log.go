package rpcore

import "github.com/btcsuite/btclog/v2"

// log is the package-level logger for the rpcore runtime. It defaults to a
// no-op logger so the package is silent until a caller wires up a real
// backend.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by the Inbox, Dispatcher,
// Outbox and RpcEnvironment. Call this once during process startup.
func UseLogger(logger btclog.Logger) {
	log = logger
}
