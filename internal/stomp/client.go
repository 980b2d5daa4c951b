package stomp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"

	"github.com/rickgao/groupshare/internal/connection"
)

// Client is a STOMP session over one transport connection.
type Client interface {
	// Connect sends CONNECT with the given headers and waits for CONNECTED.
	// An ERROR reply returns *ServerError; a transport closure returns
	// *connection.CloseError.
	Connect(ctx context.Context, headers map[string]string) error

	// Subscribe registers handler for messages on destination.
	Subscribe(destination string, handler MessageHandler) (Subscription, error)

	// Send submits body to destination. It does not wait for delivery.
	Send(destination string, headers map[string]string, body []byte) error

	// Disconnect sends a receipted DISCONNECT and closes the transport.
	Disconnect() error

	// Close drops the transport without a DISCONNECT frame.
	Close() error

	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}

	// Err returns why the session ended, or nil while it is open.
	Err() error

	// IsConnected reports whether CONNECTED has been received and the
	// session is still open.
	IsConnected() bool

	// Version returns the protocol version chosen by the broker.
	Version() string
}

// heartbeatEOL is a bare end-of-line, the STOMP heart-beat.
var heartbeatEOL = []byte("\n")

type sessionState int

const (
	stateIdle sessionState = iota
	stateHandshaking
	stateConnected
	stateClosed
)

// client implements the Client interface.
type client struct {
	cfg    Config
	conn   connection.Client
	logger *slog.Logger

	mu        sync.Mutex
	state     sessionState
	handshake chan error // Non-nil while waiting for CONNECTED
	subs      map[string]*subscription
	receipts  map[string]chan struct{}
	version   string
	lastRecv  time.Time
	started   bool
	leaving   bool // DISCONNECT sent; a transport close is expected
	err       error

	// Set while the read goroutine runs a message handler. Receipts cannot
	// be processed until the handler returns.
	inHandler atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an already connected transport in a STOMP session.
func NewClient(conn connection.Client, cfg Config, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AcceptVersion == "" {
		cfg.AcceptVersion = defaultAcceptVersion
	}

	return &client{
		cfg:      cfg,
		conn:     conn,
		logger:   logger,
		subs:     make(map[string]*subscription),
		receipts: make(map[string]chan struct{}),
		done:     make(chan struct{}),
	}
}

// Connect performs the CONNECT/CONNECTED handshake.
func (c *client) Connect(ctx context.Context, headers map[string]string) error {
	c.mu.Lock()
	switch c.state {
	case stateClosed:
		err := c.err
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	case stateHandshaking, stateConnected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = stateHandshaking
	result := make(chan error, 1)
	c.handshake = result
	startReader := !c.started
	c.started = true
	c.mu.Unlock()

	if startReader {
		go c.readLoop()
	}

	f := frame.New(frame.CONNECT,
		"accept-version", c.cfg.AcceptVersion,
		"heart-beat", formatHeartbeat(c.cfg.HeartbeatOutgoing, c.cfg.HeartbeatIncoming),
	)
	if c.cfg.Host != "" {
		f.Header.Set("host", c.cfg.Host)
	}
	for k, v := range headers {
		f.Header.Set(k, v)
	}

	if err := c.writeFrame(f); err != nil {
		c.shutdown(err)
		return err
	}

	var timeout <-chan time.Time
	if c.cfg.HandshakeTimeout > 0 {
		timer := time.NewTimer(c.cfg.HandshakeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		c.shutdown(ctx.Err())
		return ctx.Err()
	case <-timeout:
		c.shutdown(ErrHandshakeTimeout)
		return ErrHandshakeTimeout
	}
}

// Subscribe registers handler for messages on destination.
func (c *client) Subscribe(destination string, handler MessageHandler) (Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if destination == "" {
		return nil, ErrEmptyDestination
	}

	sub := &subscription{
		client:      c,
		id:          "sub-" + uuid.NewString(),
		destination: destination,
		handler:     handler,
	}

	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	f := frame.New(frame.SUBSCRIBE,
		"id", sub.id,
		"destination", destination,
		"ack", "auto",
	)
	if err := c.writeFrame(f); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, err
	}

	c.logger.Debug("subscribed",
		"destination", destination,
		"sub_id", sub.id,
	)

	return sub, nil
}

// Send submits body to destination.
func (c *client) Send(destination string, headers map[string]string, body []byte) error {
	if destination == "" {
		return ErrEmptyDestination
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	f := frame.New(frame.SEND, "destination", destination)
	for k, v := range headers {
		f.Header.Set(k, v)
	}
	if len(body) > 0 && f.Header.Get("content-type") == "" {
		f.Header.Set("content-type", contentTypeJSON)
	}
	f.Header.Set("content-length", strconv.Itoa(len(body)))
	f.Body = body

	return c.writeFrame(f)
}

// Disconnect sends DISCONNECT, waits briefly for its receipt and closes.
func (c *client) Disconnect() error {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		c.shutdown(ErrClosed)
		return nil
	}
	receipt := "disconnect-" + uuid.NewString()
	ack := make(chan struct{})
	c.receipts[receipt] = ack
	c.leaving = true
	c.mu.Unlock()

	err := c.writeFrame(frame.New(frame.DISCONNECT, "receipt", receipt))
	if err == nil && c.inHandler.Load() {
		c.logger.Debug("disconnect from message handler, not waiting for receipt", "receipt", receipt)
	} else if err == nil {
		wait := c.cfg.DisconnectTimeout
		if wait <= 0 {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ack:
		case <-c.done:
		case <-timer.C:
			c.logger.Debug("no receipt for disconnect", "receipt", receipt)
		}
		timer.Stop()
	}

	c.shutdown(ErrClosed)
	return err
}

// Close drops the transport.
func (c *client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

// Done is closed when the session ends.
func (c *client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the session ended.
func (c *client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// IsConnected reports whether the session is established and open.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected
}

// Version returns the negotiated protocol version.
func (c *client) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// readLoop decodes transport messages into frames and dispatches them.
func (c *client) readLoop() {
	for {
		select {
		case <-c.done:
			return

		case err := <-c.conn.Errors():
			// Frames queued before the failure still count (e.g. an ERROR
			// frame right before the broker hangs up).
			c.drain()
			c.shutdown(err)
			return

		case msg, ok := <-c.conn.Messages():
			if !ok {
				c.shutdown(ErrTransportClosed)
				return
			}
			c.handleData(msg)
		}
	}
}

// drain dispatches whatever is already buffered on the transport.
func (c *client) drain() {
	for {
		select {
		case msg, ok := <-c.conn.Messages():
			if !ok {
				return
			}
			c.handleData(msg)
		default:
			return
		}
	}
}

// handleData decodes every frame in one transport message.
func (c *client) handleData(msg connection.TimestampedMessage) {
	c.mu.Lock()
	c.lastRecv = msg.ReceivedAt
	c.mu.Unlock()

	r := frame.NewReader(bytes.NewReader(msg.Data))
	for {
		f, err := r.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("malformed stomp frame", "error", err, "bytes", len(msg.Data))
			}
			return
		}
		if f == nil {
			// heart-beat
			continue
		}
		c.trace("in", f)
		c.dispatch(f, msg.ReceivedAt)
	}
}

// dispatch routes a decoded frame by command.
func (c *client) dispatch(f *frame.Frame, receivedAt time.Time) {
	switch f.Command {
	case frame.CONNECTED:
		c.onConnected(f)
	case frame.MESSAGE:
		c.onMessage(f, receivedAt)
	case frame.RECEIPT:
		c.onReceipt(f)
	case frame.ERROR:
		c.onError(f)
	default:
		c.logger.Debug("ignoring unexpected frame", "command", f.Command)
	}
}

func (c *client) onConnected(f *frame.Frame) {
	sx, sy, err := parseHeartbeat(f.Header.Get("heart-beat"))
	if err != nil {
		c.logger.Warn("ignoring server heart-beat", "value", f.Header.Get("heart-beat"), "error", err)
		sx, sy = 0, 0
	}
	out, in := negotiateHeartbeat(c.cfg.HeartbeatOutgoing, c.cfg.HeartbeatIncoming, sx, sy)

	c.mu.Lock()
	if c.state != stateHandshaking {
		c.mu.Unlock()
		c.logger.Warn("unexpected CONNECTED frame")
		return
	}
	c.state = stateConnected
	c.version = f.Header.Get("version")
	c.lastRecv = time.Now()
	result := c.handshake
	c.handshake = nil
	c.mu.Unlock()

	c.logger.Debug("stomp session established",
		"version", c.version,
		"server", f.Header.Get("server"),
		"heartbeat_out", out,
		"heartbeat_in", in,
	)

	if out > 0 || in > 0 {
		go c.heartbeatLoop(out, in)
	}

	result <- nil
}

func (c *client) onMessage(f *frame.Frame, receivedAt time.Time) {
	subID := f.Header.Get("subscription")

	c.mu.Lock()
	sub := c.subs[subID]
	c.mu.Unlock()

	if sub == nil || sub.closed.Load() {
		c.logger.Debug("message for unknown subscription",
			"sub_id", subID,
			"destination", f.Header.Get("destination"),
		)
		return
	}

	c.inHandler.Store(true)
	defer c.inHandler.Store(false)

	sub.handler(Message{
		Destination:  f.Header.Get("destination"),
		Subscription: subID,
		MessageID:    f.Header.Get("message-id"),
		ContentType:  f.Header.Get("content-type"),
		Body:         f.Body,
		ReceivedAt:   receivedAt,
	})
}

func (c *client) onReceipt(f *frame.Frame) {
	id := f.Header.Get("receipt-id")

	c.mu.Lock()
	ack, ok := c.receipts[id]
	delete(c.receipts, id)
	c.mu.Unlock()

	if ok {
		close(ack)
	}
}

func (c *client) onError(f *frame.Frame) {
	message := f.Header.Get("message")
	serverErr := &ServerError{
		Message: message,
		Body:    string(f.Body),
		Status:  parseStatus(f.Header.Get("status"), message),
	}

	c.logger.Error("stomp error frame",
		"message", serverErr.Message,
		"status", serverErr.Status,
	)

	// The broker closes the connection after ERROR.
	c.shutdown(serverErr)
}

// heartbeatLoop sends EOLs every out and checks that something arrived
// within twice in.
func (c *client) heartbeatLoop(out, in time.Duration) {
	var sendTick, checkTick <-chan time.Time
	if out > 0 {
		t := time.NewTicker(out)
		defer t.Stop()
		sendTick = t.C
	}
	if in > 0 {
		t := time.NewTicker(in)
		defer t.Stop()
		checkTick = t.C
	}

	for {
		select {
		case <-c.done:
			return

		case <-sendTick:
			if err := c.conn.Send(heartbeatEOL); err != nil {
				c.logger.Debug("failed to send heart-beat", "error", err)
			}

		case <-checkTick:
			c.mu.Lock()
			last := c.lastRecv
			c.mu.Unlock()

			if time.Since(last) > 2*in {
				c.logger.Warn("server heart-beat missed",
					"last_received", last,
					"interval", in,
				)
				c.shutdown(ErrHeartbeatTimeout)
				return
			}
		}
	}
}

// writeFrame encodes f and sends it as one transport message.
func (c *client) writeFrame(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Command, err)
	}

	c.trace("out", f)

	if err := c.conn.Send(buf.Bytes()); err != nil {
		return fmt.Errorf("send %s frame: %w", f.Command, err)
	}
	return nil
}

// trace logs a frame when debug tracing is on. Header values are not logged
// because CONNECT carries the bearer token.
func (c *client) trace(direction string, f *frame.Frame) {
	if !c.cfg.Debug {
		return
	}
	c.logger.Debug("stomp frame",
		"direction", direction,
		"command", f.Command,
		"destination", f.Header.Get("destination"),
		"body_bytes", len(f.Body),
	)
}

// shutdown ends the session once, releasing the transport and failing a
// pending handshake with err.
func (c *client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.leaving {
			err = ErrClosed
		}
		c.state = stateClosed
		c.err = err
		result := c.handshake
		c.handshake = nil
		c.subs = make(map[string]*subscription)
		c.mu.Unlock()

		close(c.done)
		c.conn.Close()

		if result != nil {
			result <- err
		}

		if !errors.Is(err, ErrClosed) {
			c.logger.Debug("stomp session ended", "error", err)
		}
	})
}

// subscription implements the Subscription interface.
type subscription struct {
	client      *client
	id          string
	destination string
	handler     MessageHandler
	closed      atomic.Bool
}

func (s *subscription) ID() string          { return s.id }
func (s *subscription) Destination() string { return s.destination }

// Unsubscribe removes the subscription and tells the broker if the session
// is still open.
func (s *subscription) Unsubscribe() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	c := s.client
	c.mu.Lock()
	delete(c.subs, s.id)
	open := c.state == stateConnected
	c.mu.Unlock()

	if !open {
		return nil
	}

	if err := c.writeFrame(frame.New(frame.UNSUBSCRIBE, "id", s.id)); err != nil {
		return err
	}

	c.logger.Debug("unsubscribed",
		"destination", s.destination,
		"sub_id", s.id,
	)
	return nil
}
