// Package connection implements the WebSocket transport under a realtime session.
//
// A Client:
//   - Dials the service endpoint, negotiating the STOMP subprotocols
//   - Delivers every inbound text frame in order on Messages()
//   - Keeps the socket alive with pings and flags stale connections
//   - Reports closures as *CloseError and rejected upgrades as *DialError
package connection
