package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/groupshare/internal/connection"
	"github.com/rickgao/groupshare/internal/model"
	"github.com/rickgao/groupshare/internal/stomp"
)

// Defaults
const (
	DefaultMaxAttempts       = 3
	DefaultRetryDelay        = time.Second
	DefaultAuthFailureMarker = "401"
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The manager adds a group_id attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithRetry sets the handshake attempt budget and the delay before retrying
// after an authorization failure.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(m *Manager) {
		m.maxAttempts = maxAttempts
		m.retryDelay = delay
	}
}

// WithAuthFailureMarker sets the text that marks a handshake error as an
// authorization failure. Empty disables text matching.
func WithAuthFailureMarker(marker string) Option {
	return func(m *Manager) {
		m.authMarker = marker
	}
}

// WithClock replaces time.After for the retry delay.
func WithClock(after func(time.Duration) <-chan time.Time) Option {
	return func(m *Manager) {
		if after != nil {
			m.after = after
		}
	}
}

// slot holds the current handler for one event class.
type slot[T any] struct {
	fn atomic.Pointer[func(T)]
}

func (s *slot[T]) set(fn func(T)) {
	if fn == nil {
		s.fn.Store(nil)
		return
	}
	s.fn.Store(&fn)
}

func (s *slot[T]) load() func(T) {
	if p := s.fn.Load(); p != nil {
		return *p
	}
	return nil
}

// Manager is the connection manager for one group.
type Manager struct {
	groupID string
	tokens  TokenProvider
	dial    Dialer
	logger  *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
	authMarker  string
	after       func(time.Duration) <-chan time.Time

	// Read at delivery time
	onLocation     slot[model.LocationUpdate]
	onPlaceAdded   slot[model.FavoritePlace]
	onPlaceEdited  slot[model.FavoritePlacePatch]
	onPlaceDeleted slot[model.FavoritePlaceRef]

	mu        sync.Mutex
	state     State
	attempts  int
	session   Session
	sessionID string
	subs      [topicCount]stomp.Subscription
	err       error // Terminal Connect error once Failed
	cause     error // Why the session ended on its own

	done     chan struct{}
	doneOnce sync.Once
}

// NewManager creates a manager for groupID. No I/O is performed.
func NewManager(groupID string, tokens TokenProvider, dial Dialer, opts ...Option) (*Manager, error) {
	if groupID == "" {
		return nil, ErrEmptyGroupID
	}
	if tokens == nil {
		return nil, ErrNoTokenProvider
	}
	if dial == nil {
		return nil, ErrNoDialer
	}

	m := &Manager{
		groupID:     groupID,
		tokens:      tokens,
		dial:        dial,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		authMarker:  DefaultAuthFailureMarker,
		after:       time.After,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxAttempts < 1 {
		m.maxAttempts = 1
	}
	if m.retryDelay < 0 {
		m.retryDelay = 0
	}
	m.logger = m.logger.With("group_id", groupID)

	return m, nil
}

// GroupID returns the group this manager serves.
func (m *Manager) GroupID() string {
	return m.groupID
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a session is established.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Attempts returns how many handshakes have been started.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Done is closed when the manager reaches Disconnected, either through
// Disconnect or because the service ended the session.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err returns why the session ended without Disconnect, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// Subscribed reports whether the manager holds a subscription for t.
func (m *Manager) Subscribed(t Topic) bool {
	if t < 0 || t >= topicCount {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[t] != nil
}

// Connect establishes the session and subscribes to the location topic.
//
// An authorization failure during the handshake is retried after the retry
// delay until the attempt budget is spent, then ErrMaxAttempts is returned.
// A missing token returns a *ConnectError of KindAuthentication; any other
// failure returns a *ConnectError of KindTransport. Both are terminal.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		m.mu.Unlock()
		return ErrConnectInProgress
	case StateFailed:
		err := m.err
		m.mu.Unlock()
		return err
	case StateDisconnected:
		m.mu.Unlock()
		return ErrClosed
	}
	m.state = StateConnecting
	m.mu.Unlock()

	// Disconnect cancels an in-flight handshake or retry wait.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		m.mu.Lock()
		if m.state != StateConnecting {
			m.mu.Unlock()
			return ErrClosed
		}
		if m.attempts >= m.maxAttempts {
			m.mu.Unlock()
			return m.fail(ErrMaxAttempts)
		}
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		log := m.logger.With("attempt", attempt)

		token, err := m.token(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return m.abort(ctx.Err())
			}
			return m.fail(&ConnectError{Kind: KindAuthentication, Attempt: attempt, Err: err})
		}

		sess, err := m.handshake(ctx, token)
		if err == nil {
			return m.established(sess, attempt)
		}
		if ctx.Err() != nil {
			return m.abort(ctx.Err())
		}
		if !m.isAuthFailure(err) {
			return m.fail(&ConnectError{Kind: KindTransport, Attempt: attempt, Err: err})
		}

		if inv, ok := m.tokens.(tokenInvalidator); ok {
			inv.Invalidate()
		}

		if attempt >= m.maxAttempts {
			log.Error("authorization rejected, giving up", "error", err)
			return m.fail(ErrMaxAttempts)
		}

		log.Warn("authorization rejected, retrying",
			"error", err,
			"delay", m.retryDelay,
		)

		select {
		case <-m.after(m.retryDelay):
		case <-ctx.Done():
			return m.abort(ctx.Err())
		}
	}
}

// token fetches a bearer token; an empty token is ErrNoToken.
func (m *Manager) token(ctx context.Context) (string, error) {
	token, err := m.tokens.AccessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoToken, err)
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// handshake opens a session and presents the token.
func (m *Manager) handshake(ctx context.Context, token string) (Session, error) {
	sess, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{"Authorization": "Bearer " + token}
	if err := sess.Connect(ctx, headers); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// established installs a live session and subscribes to locations. A
// session that completes after Disconnect is closed and ErrClosed returned.
func (m *Manager) established(sess Session, attempt int) error {
	sessionID := uuid.NewString()

	m.mu.Lock()
	if m.state != StateConnecting {
		m.mu.Unlock()
		sess.Close()
		m.logger.Info("discarding session opened after disconnect", "attempt", attempt)
		return ErrClosed
	}
	m.session = sess
	m.sessionID = sessionID
	m.state = StateConnected
	m.mu.Unlock()

	m.logger.Info("connected",
		"session_id", sessionID,
		"attempt", attempt,
	)

	if err := m.subscribeToLocation(); err != nil {
		m.logger.Error("failed to subscribe to location", "error", err)
	}

	go m.watch(sess, sessionID)
	return nil
}

// fail moves to Failed and records err for later Connect calls.
func (m *Manager) fail(err error) error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return ErrClosed
	}
	m.state = StateFailed
	m.err = err
	m.mu.Unlock()

	m.logger.Error("connect failed", "error", err)
	return err
}

// abort returns to Idle after the caller gave up.
func (m *Manager) abort(err error) error {
	m.mu.Lock()
	if m.state == StateDisconnected {
		m.mu.Unlock()
		return ErrClosed
	}
	m.state = StateIdle
	m.mu.Unlock()

	m.logger.Debug("connect canceled", "error", err)
	return err
}

// isAuthFailure reports whether a handshake error means the credential was
// refused. Structured status codes are checked before the text marker.
func (m *Manager) isAuthFailure(err error) bool {
	var serverErr *stomp.ServerError
	if errors.As(err, &serverErr) && serverErr.Status == http.StatusUnauthorized {
		return true
	}
	var dialErr *connection.DialError
	if errors.As(err, &dialErr) && dialErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	return m.authMarker != "" && strings.Contains(err.Error(), m.authMarker)
}

// watch handles a session that ends without Disconnect.
func (m *Manager) watch(sess Session, sessionID string) {
	<-sess.Done()

	m.mu.Lock()
	if m.session != sess {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.state = StateDisconnected
	m.cause = sess.Err()
	subs := m.takeSubsLocked()
	m.mu.Unlock()

	m.logger.Warn("session ended",
		"session_id", sessionID,
		"error", m.cause,
	)
	m.unsubscribeAll(subs)
	m.doneOnce.Do(func() { close(m.done) })
}

// Disconnect releases every subscription and, if connected, ends the
// session. A Connect in progress is canceled and returns ErrClosed. It is
// safe to call at any time and more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	subs := m.takeSubsLocked()
	sess := m.session
	sessionID := m.sessionID
	wasConnecting := m.state == StateConnecting
	wasConnected := m.state == StateConnected && sess != nil
	if wasConnecting || wasConnected {
		m.session = nil
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	m.unsubscribeAll(subs)

	if wasConnecting {
		m.logger.Info("disconnected while connecting")
		m.doneOnce.Do(func() { close(m.done) })
		return
	}
	if !wasConnected {
		return
	}
	if err := sess.Disconnect(); err != nil {
		m.logger.Debug("session disconnect error", "error", err)
	}
	m.logger.Info("disconnected", "session_id", sessionID)
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Manager) takeSubsLocked() [topicCount]stomp.Subscription {
	subs := m.subs
	m.subs = [topicCount]stomp.Subscription{}
	return subs
}

func (m *Manager) unsubscribeAll(subs [topicCount]stomp.Subscription) {
	for t, sub := range subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			m.logger.Warn("unsubscribe failed",
				"topic", Topic(t),
				"error", err,
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Callbacks and subscriptions
// -----------------------------------------------------------------------------

// SetLocationCallback sets the handler for location updates.
func (m *Manager) SetLocationCallback(fn func(model.LocationUpdate)) {
	m.onLocation.set(fn)
}

// SetFavoritePlaceEditedCallback sets the handler for edited favorite places.
// Edits are partial: fields the broadcast did not carry are nil, and keys the
// patch does not model arrive in Extra.
func (m *Manager) SetFavoritePlaceEditedCallback(fn func(model.FavoritePlacePatch)) {
	m.onPlaceEdited.set(fn)
}

// SetFavoritePlaceDeletedCallback sets the handler for deleted favorite places.
func (m *Manager) SetFavoritePlaceDeletedCallback(fn func(model.FavoritePlaceRef)) {
	m.onPlaceDeleted.set(fn)
}

// SubscribeToFavoritePlaces subscribes to the added, edited and deleted
// favorite place topics. Added places go to onAdded; the other two use the
// registered callbacks. Without a session it logs and does nothing.
func (m *Manager) SubscribeToFavoritePlaces(onAdded func(model.FavoritePlace)) {
	if !m.Connected() {
		m.logger.Error("cannot subscribe to favorite places: not connected")
		return
	}

	m.onPlaceAdded.set(onAdded)

	handlers := []struct {
		topic   Topic
		handler stomp.MessageHandler
	}{
		{TopicFavoritePlaceAdded, decodeTo(m, TopicFavoritePlaceAdded, m.onPlaceAdded.load)},
		{TopicFavoritePlaceEdited, decodeTo(m, TopicFavoritePlaceEdited, m.onPlaceEdited.load)},
		{TopicFavoritePlaceDeleted, decodeTo(m, TopicFavoritePlaceDeleted, m.onPlaceDeleted.load)},
	}
	for _, h := range handlers {
		if err := m.subscribe(h.topic, h.handler); err != nil {
			m.logger.Error("failed to subscribe",
				"topic", h.topic,
				"error", err,
			)
		}
	}
}

func (m *Manager) subscribeToLocation() error {
	return m.subscribe(TopicLocation, decodeTo(m, TopicLocation, m.onLocation.load))
}

// subscribe replaces the subscription held for topic.
func (m *Manager) subscribe(topic Topic, handler stomp.MessageHandler) error {
	m.mu.Lock()
	sess := m.session
	if m.state != StateConnected || sess == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	old := m.subs[topic]
	m.subs[topic] = nil
	m.mu.Unlock()

	if old != nil {
		if err := old.Unsubscribe(); err != nil {
			m.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}

	destination := topic.Destination(m.groupID)
	sub, err := sess.Subscribe(destination, handler)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", destination, err)
	}

	m.mu.Lock()
	if m.session != sess {
		// Disconnected while subscribing
		m.mu.Unlock()
		sub.Unsubscribe()
		return ErrNotConnected
	}
	m.subs[topic] = sub
	m.mu.Unlock()

	m.logger.Debug("subscribed",
		"topic", topic,
		"destination", destination,
	)
	return nil
}

// decodeTo returns a handler that decodes each body as T and passes it to
// the callback current at delivery time.
func decodeTo[T any](m *Manager, topic Topic, current func() func(T)) stomp.MessageHandler {
	return func(msg stomp.Message) {
		var v T
		if err := json.Unmarshal(msg.Body, &v); err != nil {
			m.logger.Error("dropping malformed message",
				"topic", topic,
				"destination", msg.Destination,
				"bytes", len(msg.Body),
				"error", err,
			)
			return
		}
		if fn := current(); fn != nil {
			fn(v)
		}
	}
}

// -----------------------------------------------------------------------------
// Sending
// -----------------------------------------------------------------------------

// SendLocation publishes a location update. It returns false when not
// connected or when the transport rejects the frame.
func (m *Manager) SendLocation(update model.LocationUpdate) bool {
	return m.send(DestLocation, update)
}

// SendFavoritePlace publishes a new favorite place.
func (m *Manager) SendFavoritePlace(place model.FavoritePlace) bool {
	return m.send(DestAddFavoritePlace, place)
}

// SendEditFavoritePlace publishes a partial update to an existing place.
func (m *Manager) SendEditFavoritePlace(patch model.FavoritePlacePatch) bool {
	return m.send(DestEditFavoritePlace, patch)
}

// SendDeleteFavoritePlace publishes the removal of a place.
func (m *Manager) SendDeleteFavoritePlace(ref model.FavoritePlaceRef) bool {
	return m.send(DestDeleteFavoritePlace, ref)
}

func (m *Manager) send(destination string, payload any) bool {
	m.mu.Lock()
	sess := m.session
	connected := m.state == StateConnected && sess != nil
	m.mu.Unlock()

	if !connected {
		m.logger.Debug("send skipped: not connected", "destination", destination)
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("failed to encode payload",
			"destination", destination,
			"error", err,
		)
		return false
	}

	if err := sess.Send(destination, nil, body); err != nil {
		m.logger.Error("send failed",
			"destination", destination,
			"error", err,
		)
		return false
	}
	return true
}
