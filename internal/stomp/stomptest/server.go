// Package stomptest provides an in-process STOMP-over-WebSocket broker for
// tests. It speaks just enough of the protocol to exercise a client: CONNECT,
// SUBSCRIBE, UNSUBSCRIBE, SEND, DISCONNECT and receipts.
package stomptest

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Reply decides how the broker answers a CONNECT frame.
type Reply struct {
	Frame     *frame.Frame // Sent back when non-nil
	Close     bool         // Close the socket after Frame (or instead of it)
	CloseCode int          // Close frame code; 0 drops the TCP connection without one
	Reason    string       // Close frame reason
}

// Accept answers CONNECT with CONNECTED and no heart-beating.
func Accept() Reply {
	return Reply{Frame: frame.New(frame.CONNECTED, "version", "1.2", "heart-beat", "0,0", "server", "stomptest/1.0")}
}

// Reject answers CONNECT with an ERROR frame and closes the socket, the way a
// broker refuses credentials.
func Reject(message string) Reply {
	f := frame.New(frame.ERROR, "message", message)
	f.Body = []byte(message)
	return Reply{Frame: f, Close: true, CloseCode: websocket.CloseNormalClosure}
}

// Drop closes the socket without answering.
func Drop(code int, reason string) Reply {
	return Reply{Close: true, CloseCode: code, Reason: reason}
}

// ConnectHandler inspects a CONNECT frame and picks the reply.
type ConnectHandler func(connect *frame.Frame) Reply

// Server is a test STOMP broker.
type Server struct {
	t      testing.TB
	server *httptest.Server

	mu        sync.Mutex
	onConnect ConnectHandler
	routes    map[string]string
	frames    []*frame.Frame
	conns     []*serverConn
	accepted  int
	changed   chan struct{}
}

type serverConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]string // id -> destination
}

// NewServer starts a broker that accepts every CONNECT. It is closed with t.Cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		t:         t,
		onConnect: func(*frame.Frame) Reply { return Accept() },
		routes:    make(map[string]string),
		changed:   make(chan struct{}),
	}

	upgrader := websocket.Upgrader{
		CheckOrigin:  func(r *http.Request) bool { return true },
		Subprotocols: []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("stomptest: upgrade error: %v", err)
			return
		}
		s.serve(&serverConn{ws: ws, subs: make(map[string]string)})
	}))
	t.Cleanup(s.Close)

	return s
}

// URL returns the ws:// endpoint.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

// Close stops the broker and drops every connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
	s.server.Close()
}

// OnConnect replaces the CONNECT handler.
func (s *Server) OnConnect(h ConnectHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = h
}

// Route forwards SEND frames for from to subscribers of to, like an
// application handler that rebroadcasts to a topic.
func (s *Server) Route(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[from] = to
}

// Accepted returns how many CONNECT frames have been answered with CONNECTED.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Frames returns received frames with the given command ("" for all).
func (s *Server) Frames(command string) []*frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*frame.Frame
	for _, f := range s.frames {
		if command == "" || f.Command == command {
			out = append(out, f)
		}
	}
	return out
}

// WaitFrames blocks until n frames with command have arrived or fails the test.
func (s *Server) WaitFrames(command string, n int, timeout time.Duration) []*frame.Frame {
	s.t.Helper()

	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		changed := s.changed
		s.mu.Unlock()

		if got := s.Frames(command); len(got) >= n {
			return got
		}

		select {
		case <-changed:
		case <-deadline:
			s.t.Fatalf("stomptest: timeout waiting for %d %s frames, got %d", n, command, len(s.Frames(command)))
			return nil
		}
	}
}

// Subscribers returns how many live subscriptions target destination.
func (s *Server) Subscribers(destination string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.conns {
		for _, dest := range c.subs {
			if dest == destination {
				n++
			}
		}
	}
	return n
}

// WaitSubscribers blocks until destination has at least n subscribers.
func (s *Server) WaitSubscribers(destination string, n int, timeout time.Duration) {
	s.t.Helper()

	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		changed := s.changed
		s.mu.Unlock()

		if s.Subscribers(destination) >= n {
			return
		}

		select {
		case <-changed:
		case <-deadline:
			s.t.Fatalf("stomptest: timeout waiting for %d subscribers on %s, got %d", n, destination, s.Subscribers(destination))
			return
		}
	}
}

// Publish sends a MESSAGE with body to every subscriber of destination and
// returns how many received it.
func (s *Server) Publish(destination string, body []byte) int {
	type target struct {
		conn  *serverConn
		subID string
	}

	s.mu.Lock()
	var targets []target
	for _, c := range s.conns {
		for id, dest := range c.subs {
			if dest == destination {
				targets = append(targets, target{c, id})
			}
		}
	}
	s.mu.Unlock()

	sent := 0
	for _, tg := range targets {
		f := frame.New(frame.MESSAGE,
			"destination", destination,
			"subscription", tg.subID,
			"message-id", uuid.NewString(),
			"content-type", "application/json",
			"content-length", strconv.Itoa(len(body)),
		)
		f.Body = body
		if err := tg.conn.write(f); err == nil {
			sent++
		}
	}
	return sent
}

// Kick closes every client socket with the given close code.
func (s *Server) Kick(code int, reason string) {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()

	for _, c := range conns {
		c.close(code, reason)
	}
}

func (s *Server) serve(c *serverConn) {
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	defer func() {
		c.ws.Close()
		s.mu.Lock()
		for i, other := range s.conns {
			if other == c {
				s.conns = append(s.conns[:i], s.conns[i+1:]...)
				break
			}
		}
		s.notifyLocked()
		s.mu.Unlock()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		r := frame.NewReader(bytes.NewReader(data))
		for {
			f, err := r.Read()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.t.Logf("stomptest: bad frame: %v", err)
				}
				break
			}
			if f == nil {
				continue
			}
			if !s.handle(c, f) {
				return
			}
		}
	}
}

// handle processes one client frame; false ends the connection.
func (s *Server) handle(c *serverConn, f *frame.Frame) bool {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	switch f.Command {
	case frame.SUBSCRIBE:
		c.subs[f.Header.Get("id")] = f.Header.Get("destination")
	case frame.UNSUBSCRIBE:
		delete(c.subs, f.Header.Get("id"))
	}
	s.notifyLocked()
	onConnect := s.onConnect
	s.mu.Unlock()

	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		reply := onConnect(f)
		if reply.Frame != nil {
			if reply.Frame.Command == frame.CONNECTED {
				s.mu.Lock()
				s.accepted++
				s.mu.Unlock()
			}
			c.write(reply.Frame)
		}
		if reply.Close {
			c.close(reply.CloseCode, reply.Reason)
			return false
		}

	case frame.SEND:
		s.mu.Lock()
		to, ok := s.routes[f.Header.Get("destination")]
		s.mu.Unlock()
		if ok {
			s.Publish(to, f.Body)
		}

	case frame.DISCONNECT:
		if receipt := f.Header.Get("receipt"); receipt != "" {
			c.write(frame.New(frame.RECEIPT, "receipt-id", receipt))
		}
		return false
	}

	if receipt := f.Header.Get("receipt"); receipt != "" {
		c.write(frame.New(frame.RECEIPT, "receipt-id", receipt))
	}
	return true
}

// notifyLocked wakes WaitFrames/WaitSubscribers. s.mu must be held.
func (s *Server) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (c *serverConn) write(f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func (c *serverConn) close(code int, reason string) {
	if code == 0 {
		c.ws.UnderlyingConn().Close()
		return
	}
	c.writeMu.Lock()
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	// Give the client a moment to read the close frame before the TCP close.
	time.Sleep(20 * time.Millisecond)
	c.ws.Close()
}
