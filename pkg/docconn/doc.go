// Package docconn implements the DocConnection state machine and frame
// protocol described in spec.md §4.4. See wstransport for the
// reference gorilla/websocket Transport.
package docconn
