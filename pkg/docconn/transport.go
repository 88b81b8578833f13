package docconn

// Transport abstracts the long-lived binary stream a DocConnection
// reads frames from and writes frames to. wstransport.New wraps a
// gorilla/websocket connection as the reference implementation.
type Transport interface {
	// Send writes one binary frame. Must be safe to call from a single
	// writer goroutine only (DocConnection serializes its own sends).
	Send(frame []byte) error

	// Recv blocks until the next binary frame arrives, or returns an
	// error on transport close/failure.
	Recv() (frame []byte, err error)

	// Close terminates the transport.
	Close() error
}
