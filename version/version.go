// Package version provides identification strings the RPC station
// advertises to control clients.
package version

// DefaultRPCServerAgent is echoed in the WebSocket handshake response so
// clients can tell which build of the station they're talking to.
var DefaultRPCServerAgent string

func init() {
	DefaultRPCServerAgent = "tormenta-rpc/0.1"
}
