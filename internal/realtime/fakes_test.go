package realtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/groupshare/internal/stomp"
)

// sentFrame is one Send call seen by a fakeSession.
type sentFrame struct {
	destination string
	headers     map[string]string
	body        string
}

// fakeSession records every call and lets tests deliver messages.
type fakeSession struct {
	mu             sync.Mutex
	connectErr     error
	subscribeErr   error
	sendErr        error
	connectHeaders map[string]string
	sent           []sentFrame
	subs           []*fakeSub
	disconnects    int
	closes         int
	err            error

	// When set, Connect closes connectStarted and waits for blockConnect.
	connectStarted chan struct{}
	blockConnect   chan struct{}
	ignoreCtx      bool

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{done: make(chan struct{})}
}

func (s *fakeSession) Connect(ctx context.Context, headers map[string]string) error {
	s.mu.Lock()
	s.connectHeaders = headers
	err := s.connectErr
	started, block, ignoreCtx := s.connectStarted, s.blockConnect, s.ignoreCtx
	s.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		if ignoreCtx {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSession) Subscribe(destination string, handler stomp.MessageHandler) (stomp.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	sub := &fakeSub{destination: destination, handler: handler}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *fakeSession) Send(destination string, headers map[string]string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentFrame{destination, headers, string(body)})
	return nil
}

func (s *fakeSession) Disconnect() error {
	s.mu.Lock()
	s.disconnects++
	s.mu.Unlock()
	s.end(stomp.ErrClosed)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.end(stomp.ErrClosed)
	return nil
}

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// end finishes the session as if the server went away.
func (s *fakeSession) end(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// deliver hands body to every live subscription on destination.
func (s *fakeSession) deliver(destination, body string) {
	s.mu.Lock()
	var targets []*fakeSub
	for _, sub := range s.subs {
		if sub.destination == destination && !sub.unsubscribed() {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.handler(stomp.Message{Destination: destination, Body: []byte(body)})
	}
}

func (s *fakeSession) sentFrames() []sentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentFrame(nil), s.sent...)
}

func (s *fakeSession) subscription(destination string) *fakeSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.subs) - 1; i >= 0; i-- {
		if s.subs[i].destination == destination {
			return s.subs[i]
		}
	}
	return nil
}

type fakeSub struct {
	destination string
	handler     stomp.MessageHandler

	mu     sync.Mutex
	calls  int
	closed bool
}

func (s *fakeSub) ID() string          { return "sub-" + s.destination }
func (s *fakeSub) Destination() string { return s.destination }

func (s *fakeSub) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.closed = true
	return nil
}

func (s *fakeSub) unsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSub) unsubscribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeDialer hands out sessions in order; the last one is reused.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	dialErr  error
	dials    int
}

func (d *fakeDialer) dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if len(d.sessions) == 0 {
		return nil, errors.New("no session")
	}
	s := d.sessions[0]
	if len(d.sessions) > 1 {
		d.sessions = d.sessions[1:]
	}
	return s, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeTokens returns token/err and counts calls and invalidations.
type fakeTokens struct {
	mu          sync.Mutex
	token       string
	err         error
	calls       int
	invalidated int
}

func (p *fakeTokens) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.token, p.err
}

func (p *fakeTokens) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalidated++
}

func (p *fakeTokens) counts() (calls, invalidated int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls, p.invalidated
}

// fakeClock fires immediately and records requested delays.
type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
	never  bool
}

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delays = append(c.delays, d)

	ch := make(chan time.Time, 1)
	if !c.never {
		ch <- time.Now()
	}
	return ch
}

func (c *fakeClock) waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// logBuffer is a goroutine-safe log sink.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
