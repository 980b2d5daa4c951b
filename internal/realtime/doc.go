// Package realtime manages one group's live location session.
//
// A Manager owns a single STOMP session to the realtime service for one group:
//
//   - Connect acquires a bearer token, opens the WebSocket transport, performs
//     the STOMP handshake and subscribes to the group's location topic.
//     Authorization failures are retried a bounded number of times across the
//     manager's lifetime; every other failure is terminal.
//   - SendLocation and the favorite place senders publish JSON bodies on the
//     /app/* destinations. They report only whether the frame was handed to
//     the transport.
//   - SubscribeToFavoritePlaces adds the three favorite place topics.
//   - Disconnect releases every subscription and the session. A manager is
//     not reusable afterwards.
//
// Callbacks are read at delivery time, so they can be registered before or
// after the matching subscription exists. Inbound bodies that fail to decode
// are logged and dropped.
//
// State machine:
//
//	Idle -> Connecting -> Connected -> Disconnected
//	            |  ^
//	            |  +-- auth failure, attempts left (after retry delay)
//	            +----> Failed (terminal)
//
// A canceled Connect context returns the manager to Idle. Disconnect during
// Connecting moves straight to Disconnected and Connect returns ErrClosed.
package realtime
