// Package stomp implements a STOMP 1.2 session client on top of a
// connection.Client WebSocket transport.
//
// The client:
//   - Performs the CONNECT/CONNECTED handshake, presenting caller headers
//   - Dispatches MESSAGE frames to per-subscription handlers, in order, on a
//     single read goroutine
//   - Sends SEND/SUBSCRIBE/UNSUBSCRIBE frames and a receipted DISCONNECT
//   - Negotiates STOMP heart-beating and fails the session when the server
//     goes silent
//
// Frames are encoded and decoded with github.com/go-stomp/stomp/v3/frame.
package stomp
