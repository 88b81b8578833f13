package docconn

import (
	"context"
	"sync"

	"github.com/cuemby/scribe/pkg/docstate"
	"github.com/cuemby/scribe/pkg/log"
	"github.com/cuemby/scribe/pkg/metrics"
	"github.com/cuemby/scribe/pkg/types"
)

// Connection drives one client's binary stream against a shared
// DocState, following the state machine
// Connecting -> Authorized -> Open -> Closing -> Closed.
type Connection struct {
	ID        string
	DocID     types.DocID
	Authz     types.Authorization
	transport Transport
	doc       *docstate.DocState

	stateMu sync.Mutex
	state   types.ConnState

	outbound chan []byte
}

// OutboundQueueDepth is the per-connection bounded outbound frame queue
// depth (spec §4.4), overridable at process startup from
// config.Config.OutboundQueueDepth before any connection is opened.
var OutboundQueueDepth = types.DefaultOutboundQueueDepth

// New builds a Connection already past Connecting: the caller is
// expected to have validated authz before constructing one (spec §4.4:
// "Connecting -> Authorized on entry with a valid authorization").
func New(id string, docID types.DocID, authz types.Authorization, transport Transport, doc *docstate.DocState) *Connection {
	return &Connection{
		ID:        id,
		DocID:     docID,
		Authz:     authz,
		transport: transport,
		doc:       doc,
		state:     types.ConnAuthorized,
		outbound:  make(chan []byte, OutboundQueueDepth),
	}
}

// State returns the connection's current state.
func (c *Connection) State() types.ConnState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Connection) setState(s types.ConnState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Run drives the connection until the transport closes, the context is
// cancelled, or a transport error occurs. It blocks until the
// connection reaches Closed.
func (c *Connection) Run(ctx context.Context) error {
	sub := c.doc.Subscribe(c.ID)
	c.doc.AddRef()
	metrics.OpenConnections.Inc()
	defer metrics.OpenConnections.Dec()

	// Bootstrap the client with the current full state before any
	// inbound frame arrives.
	c.enqueueOutbound(encodeFrame(frameSync, c.doc.AsUpdate()))

	forwardDone := make(chan struct{})
	writeDone := make(chan struct{})
	go func() { defer close(forwardDone); c.forwardLoop(sub) }()
	go func() { defer close(writeDone); c.writeLoop() }()

	// Cancelling ctx closes the transport, which unblocks a pending Recv
	// so the loop below observes the cancellation.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.transport.Close()
		case <-stopWatch:
		}
	}()

	defer func() {
		c.setState(types.ConnClosing)
		// Unsubscribing closes sub, which ends forwardLoop's range —
		// only then is it safe to close outbound without a concurrent
		// sender panicking on a closed channel.
		c.doc.Unsubscribe(c.ID)
		<-forwardDone
		close(c.outbound)
		<-writeDone
		_ = c.transport.Close()
		c.doc.RemoveRef()
		c.setState(types.ConnClosed)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := c.transport.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if c.State() == types.ConnAuthorized {
			c.setState(types.ConnOpen)
		}
		c.handle(frame)
	}
}

// handle dispatches one inbound frame.
func (c *Connection) handle(raw []byte) {
	logger := log.WithConnID(c.ID)
	tag, payload, err := decodeFrame(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping malformed frame")
		return
	}

	switch tag {
	case frameSync:
		if !c.Authz.CanWrite() {
			// Write-bearing frame from a ReadOnly connection: silently
			// dropped, no error to the client (spec §4.4).
			return
		}
		if err := c.doc.ApplyUpdate(c.ID, payload); err != nil {
			logger.Warn().Err(err).Msg("rejecting invalid update")
		}
	case frameAwareness:
		// Awareness updates are allowed for both authorization levels.
		c.doc.Awareness().Set(c.ID, c.ID, payload)
	default:
		logger.Warn().Int("tag", int(tag)).Msg("dropping frame with unknown tag")
	}
}

func (c *Connection) forwardLoop(sub <-chan *docstate.Update) {
	for upd := range sub {
		tag := frameSync
		if upd.Awareness {
			tag = frameAwareness
		}
		c.enqueueOutbound(encodeFrame(tag, upd.Bytes))
	}
}

// enqueueOutbound is the bounded-queue backpressure policy from spec
// §4.4: drop with a warning on overflow, never kill the connection —
// periodic state-vector exchanges re-converge it.
func (c *Connection) enqueueOutbound(frame []byte) {
	select {
	case c.outbound <- frame:
	default:
		log.WithConnID(c.ID).Warn().Msg("outbound queue full, dropping frame")
	}
}

func (c *Connection) writeLoop() {
	logger := log.WithConnID(c.ID)
	for frame := range c.outbound {
		if err := c.transport.Send(frame); err != nil {
			logger.Warn().Err(err).Msg("transport send failed")
			return
		}
	}
}
