// Package events follows the Drift gateway websocket feed of order and fill
// events for one sub-account.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the stream connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handlers receive stream callbacks. All are optional and run on the read
// goroutine.
type Handlers struct {
	OnEvent       func(Event)
	OnStateChange func(old, new State)
	OnError       func(err error)
}

// Config holds stream settings.
type Config struct {
	URL          string
	SubAccountID uint16

	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	// ReconnectMaxAttempts bounds consecutive failed dials; 0 is unlimited.
	ReconnectMaxAttempts int

	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// DefaultConfig returns a config for url with the usual timeouts.
func DefaultConfig(url string, subAccount uint16) Config {
	return Config{
		URL:               url,
		SubAccountID:      subAccount,
		ReconnectMinDelay: time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       90 * time.Second,
	}
}

type subscribeRequest struct {
	Method       string `json:"method"`
	SubAccountID uint16 `json:"subAccountId"`
}

// Stream subscribes to the gateway event feed and reconnects with backoff
// until its context ends.
type Stream struct {
	config   Config
	handlers Handlers
	log      *zap.Logger

	state    atomic.Int32
	received atomic.Int64
}

// NewStream creates a stream. A nil logger discards output.
func NewStream(config Config, handlers Handlers, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		config:   config,
		handlers: handlers,
		log:      log.With(zap.String("url", config.URL), zap.Uint16("sub_account", config.SubAccountID)),
	}
}

// State returns the current connection state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Received returns the number of events delivered so far.
func (s *Stream) Received() int64 {
	return s.received.Load()
}

// Run connects, subscribes and delivers events until ctx is done. It returns
// nil on cancellation, or an error once ReconnectMaxAttempts dials in a row
// have failed.
func (s *Stream) Run(ctx context.Context) error {
	defer s.setState(StateClosed)

	failures := 0
	for {
		s.setState(StateConnecting)
		conn, err := s.connect(ctx)
		if err == nil {
			failures = 0
			err = s.serve(ctx, conn)
		} else {
			failures++
		}

		if ctx.Err() != nil {
			return nil
		}
		s.reportError(err)

		if max := s.config.ReconnectMaxAttempts; max > 0 && failures >= max {
			return fmt.Errorf("gateway events: %d reconnect attempts failed: %w", failures, err)
		}

		s.setState(StateReconnecting)
		delay := s.backoff(failures)
		s.log.Info("gateway events reconnecting", zap.Duration("delay", delay), zap.Int("failures", failures))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if s.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	sub := subscribeRequest{Method: "subscribe", SubAccountID: s.config.SubAccountID}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}
	return conn, nil
}

// serve reads events until the connection drops or ctx is done.
func (s *Stream) serve(ctx context.Context, conn *websocket.Conn) error {
	s.setState(StateConnected)
	s.log.Info("gateway events connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		conn.Close()
	}()
	if s.config.PingInterval > 0 {
		go s.pingLoop(conn, done)
	}

	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("gateway closed the connection")
			}
			return err
		}

		event, ok, err := Parse(data)
		if err != nil {
			s.log.Warn("dropping malformed gateway message", zap.ByteString("raw", data), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		s.received.Add(1)
		if s.handlers.OnEvent != nil {
			s.handlers.OnEvent(event)
		}
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.reportError(fmt.Errorf("heartbeat failed: %w", err))
				return
			}
		}
	}
}

func (s *Stream) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := s.config.ReconnectMinDelay
	for i := 1; i < failures && delay < s.config.ReconnectMaxDelay; i++ {
		delay *= 2
	}
	if s.config.ReconnectMaxDelay > 0 && delay > s.config.ReconnectMaxDelay {
		delay = s.config.ReconnectMaxDelay
	}
	return delay
}

func (s *Stream) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st && s.handlers.OnStateChange != nil {
		s.handlers.OnStateChange(old, st)
	}
}

func (s *Stream) reportError(err error) {
	if err == nil {
		return
	}
	s.log.Warn("gateway events error", zap.Error(err))
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

// Event is one gateway feed message. Type is the single key of the data
// object, for example "fill" or "orderCreate".
type Event struct {
	Channel      string          `json:"channel"`
	SubAccountID uint16          `json:"sub_account_id"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
}

type envelope struct {
	Channel      string                     `json:"channel"`
	SubAccountID uint16                     `json:"subAccountId"`
	Data         map[string]json.RawMessage `json:"data"`
	Error        string                     `json:"error"`
}

// Parse decodes a feed message. ok is false for messages that carry no event,
// such as heartbeats and subscription acks.
func Parse(raw []byte) (Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, false, err
	}
	if env.Error != "" {
		return Event{}, false, fmt.Errorf("gateway: %s", env.Error)
	}
	if len(env.Data) != 1 {
		return Event{}, false, nil
	}

	for kind, data := range env.Data {
		return Event{
			Channel:      env.Channel,
			SubAccountID: env.SubAccountID,
			Type:         kind,
			Data:         data,
		}, true, nil
	}
	return Event{}, false, nil
}
