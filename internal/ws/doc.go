// Package ws provides WebSocket connection handling and the bridge's JSON
// wire protocol.
//
// The package implements:
//   - Command/Event: the JSON frames exchanged with local control-plane clients
//   - Hub: the set of connected local clients with unordered fan-out broadcast
//   - Handler: connection upgrade, read/write pumps and command dispatch
//
// Commands received from any client are handed to a CommandHandler (the
// bridge's session manager); events produced by the shared upstream session
// are broadcast to every connected client. The hub reports when its client
// set becomes empty, which is the bridge's only session-teardown trigger.
package ws
