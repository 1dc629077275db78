// Package facade exposes the authenticated, high-level surface that
// feature services are built on: subscribe/unsubscribe, the
// subscribe-and-await-first-answer pattern, and the
// event-wait-until-predicate-or-timeout pattern.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/traderepublic/broker-session/core/handshake"
	"github.com/traderepublic/broker-session/core/predicate"
	"github.com/traderepublic/broker-session/core/stream"
	"github.com/traderepublic/broker-session/core/wire"
	"github.com/traderepublic/broker-session/internal/logger"
	"github.com/traderepublic/broker-session/internal/metrics"
)

const (
	DefaultAnswerTimeout = 10 * time.Second

	MinSubscriptions = 1
	MaxSubscriptions = 5

	MinTimeoutSeconds     = 1
	MaxTimeoutSeconds     = 55
	DefaultTimeoutSeconds = 55
)

// AuthGate reports the handshake's current authentication state;
// satisfied by *handshake.Client.
type AuthGate interface {
	State() handshake.AuthState
}

// ErrNotAuthenticated is returned by Subscribe, and so by AwaitAnswer and
// AwaitEvent, when the auth gate is not Authenticated. Unsubscribe and
// ModifyOrder are not gated.
var ErrNotAuthenticated = fmt.Errorf("facade: session is not authenticated")

// ErrNotSupported is returned for broker operations the gateway does
// not permit.
var ErrNotSupported = fmt.Errorf("facade: operation not supported by the broker")

// TimeoutError is returned when awaitAnswer's timer elapses before a
// terminal frame arrives.
type TimeoutError struct {
	Topic string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("facade: timed out waiting for an answer on %q", e.Topic)
}

// SubscriptionError wraps a broker-reported business failure delivered
// on an E frame.
type SubscriptionError struct {
	SubscriptionID int
	Code           string
	Message        string
}

func (e *SubscriptionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("facade: subscription %d failed: %s", e.SubscriptionID, e.Message)
	}
	return fmt.Sprintf("facade: subscription %d failed: %s", e.SubscriptionID, e.Code)
}

// Session is the authenticated facade over a single StreamConnection.
type Session struct {
	conn     *stream.Connection
	auth     AuthGate
	log      logger.Logger
	nextID   int64
	sf       singleflight.Group
	newTimer func(time.Duration) *time.Timer
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(log logger.Logger) Option { return func(s *Session) { s.log = log } }

// WithTimer overrides the timer constructor used to drive AwaitAnswer and
// AwaitEvent timeouts, for tests that want to fast-forward past a timeout
// without sleeping real wall-clock time.
func WithTimer(newTimer func(time.Duration) *time.Timer) Option {
	return func(s *Session) { s.newTimer = newTimer }
}

// New builds a Session over an already-dialed Connection, gated by auth.
func New(conn *stream.Connection, auth AuthGate, opts ...Option) *Session {
	s := &Session{conn: conn, auth: auth, log: logger.GetDefaultLogger(), newTimer: time.NewTimer}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) requireAuthenticated() error {
	if s.auth.State() != handshake.Authenticated {
		return ErrNotAuthenticated
	}
	return nil
}

func (s *Session) allocateID() int {
	return int(atomic.AddInt64(&s.nextID, 1))
}

// Subscribe allocates a subscription id, sends the sub frame, and
// returns the id together with its event channel.
func (s *Session) Subscribe(topic string, payload map[string]interface{}) (int, <-chan stream.Event, error) {
	if err := s.requireAuthenticated(); err != nil {
		return 0, nil, err
	}

	id := s.allocateID()
	ch := s.conn.Register(id)

	body := map[string]interface{}{"type": topic}
	for k, v := range payload {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		s.conn.Unregister(id)
		return 0, nil, fmt.Errorf("%w: %v", wire.ErrMalformedFrame, err)
	}

	if err := s.conn.Send(wire.BuildSub(id, encoded)); err != nil {
		s.conn.Unregister(id)
		return 0, nil, err
	}

	metrics.SubscriptionsCreated.WithLabelValues(topic).Inc()
	return id, ch, nil
}

// Unsubscribe sends unsub (best effort) and detaches the sink. Safe on
// unknown ids.
func (s *Session) Unsubscribe(id int) {
	_ = s.conn.Send(wire.BuildUnsub(id))
	s.conn.Unregister(id)
}

// AwaitAnswer implements the single-shot subscribe-and-await-first-answer
// pattern. It always tears the subscription down before returning. The
// returned payload is the broker's raw decoded answer; AwaitAnswer does
// not validate it against a schema, so callers that need that guarantee
// must validate the result themselves.
func (s *Session) AwaitAnswer(ctx context.Context, topic string, payload map[string]interface{}, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = DefaultAnswerTimeout
	}

	// Concurrent callers asking for the same topic/payload (e.g. two
	// feature services both awaiting the same portfolio snapshot) share
	// a single subscription instead of racing separate ones.
	key, err := singleflightKey(topic, payload)
	if err != nil {
		return nil, err
	}

	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.awaitAnswerOnce(ctx, topic, payload, timeout)
	})
	return result, err
}

func (s *Session) awaitAnswerOnce(ctx context.Context, topic string, payload map[string]interface{}, timeout time.Duration) (result interface{}, err error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.AwaitDuration.WithLabelValues("answer", outcome).Observe(time.Since(start).Seconds())
	}()

	id, ch, err := s.Subscribe(topic, payload)
	if err != nil {
		return nil, err
	}

	timer := s.newTimer(timeout)
	defer timer.Stop()
	defer s.Unsubscribe(id)

	for {
		select {
		case ev := <-ch:
			if ev.Err != nil {
				return nil, ev.Err
			}
			switch ev.Code {
			case wire.CodeAnswer:
				outcome = "resolved"
				return ev.Payload, nil
			case wire.CodeDelta:
				continue // awaitAnswer callers don't consume delta streams
			case wire.CodeError:
				return nil, subscriptionErrorFromPayload(id, ev.Payload)
			case wire.CodeComplete:
				return nil, &SubscriptionError{SubscriptionID: id, Message: "stream completed without an answer"}
			}
		case <-timer.C:
			outcome = "timeout"
			return nil, &TimeoutError{Topic: topic}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func singleflightKey(topic string, payload map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", wire.ErrMalformedFrame, err)
	}
	return topic + "|" + string(encoded), nil
}

func subscriptionErrorFromPayload(id int, payload interface{}) *SubscriptionError {
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return &SubscriptionError{SubscriptionID: id, Message: fmt.Sprintf("%v", payload)}
	}
	code, _ := obj["errorCode"].(string)
	message, _ := obj["errorMessage"].(string)
	if message == "" {
		message, _ = obj["message"].(string)
	}
	return &SubscriptionError{SubscriptionID: id, Code: code, Message: message}
}

// EventSpec is one instrument subscription within an AwaitEvent call.
type EventSpec struct {
	Topic      string
	Payload    map[string]interface{}
	Conditions []predicate.Condition
	Logic      predicate.Logic
}

// Verdict is AwaitEvent's outcome.
type Verdict struct {
	Triggered           bool
	SubscriptionID       int
	Snapshot             predicate.Snapshot
	TriggeredConditions  []predicate.Condition
	LastTickers          map[int]predicate.Snapshot
	DurationSeconds      int
}

type idEvent struct {
	id int
	ev stream.Event
}

// AwaitEvent implements the streaming event-wait-until-predicate-or-timeout
// pattern. It always tears down every opened subscription before returning.
func (s *Session) AwaitEvent(ctx context.Context, specs []EventSpec, timeoutSeconds int) (verdict *Verdict, err error) {
	start := time.Now()
	outcome := "error"
	defer func() {
		metrics.AwaitDuration.WithLabelValues("event", outcome).Observe(time.Since(start).Seconds())
	}()

	if len(specs) < MinSubscriptions || len(specs) > MaxSubscriptions {
		return nil, fmt.Errorf("facade: awaitEvent requires between %d and %d subscriptions", MinSubscriptions, MaxSubscriptions)
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}
	if timeoutSeconds < MinTimeoutSeconds || timeoutSeconds > MaxTimeoutSeconds {
		return nil, fmt.Errorf("facade: timeoutSeconds must be between %d and %d", MinTimeoutSeconds, MaxTimeoutSeconds)
	}

	engine := predicate.NewEngine()
	combined := make(chan idEvent, eventFanInBuffer(len(specs)))
	done := make(chan struct{})
	ids := make([]int, 0, len(specs))

	teardown := func() {
		close(done)
		for _, id := range ids {
			engine.Forget(id)
			s.Unsubscribe(id)
		}
	}

	for _, spec := range specs {
		if err := predicate.ValidateConditions(spec.Conditions); err != nil {
			teardown()
			return nil, err
		}

		id, ch, err := s.Subscribe(spec.Topic, spec.Payload)
		if err != nil {
			teardown()
			return nil, err
		}
		ids = append(ids, id)

		if err := engine.Register(id, spec.Conditions, spec.Logic); err != nil {
			teardown()
			return nil, err
		}

		go forward(id, ch, combined, done)
	}

	timer := s.newTimer(time.Duration(timeoutSeconds) * time.Second)
	defer timer.Stop()

	lastTickers := make(map[int]predicate.Snapshot)

	for {
		select {
		case te := <-combined:
			if te.ev.Err != nil {
				teardown()
				return nil, te.ev.Err
			}
			if te.ev.Code != wire.CodeAnswer && te.ev.Code != wire.CodeDelta {
				continue
			}
			snap, err := predicate.DeriveSnapshot(te.ev.Payload)
			if err != nil {
				continue // not a ticker-shaped payload; ignore
			}
			lastTickers[te.id] = snap

			fired, triggeredConditions := engine.Evaluate(te.id, snap)
			if fired {
				teardown()
				outcome = "resolved"
				return &Verdict{
					Triggered:           true,
					SubscriptionID:      te.id,
					Snapshot:            snap,
					TriggeredConditions: triggeredConditions,
					LastTickers:         lastTickers,
					DurationSeconds:     timeoutSeconds,
				}, nil
			}

		case <-timer.C:
			teardown()
			outcome = "timeout"
			return &Verdict{
				Triggered:       false,
				LastTickers:     lastTickers,
				DurationSeconds: timeoutSeconds,
			}, nil

		case <-ctx.Done():
			teardown()
			return nil, ctx.Err()
		}
	}
}

func forward(id int, ch <-chan stream.Event, combined chan<- idEvent, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			select {
			case combined <- idEvent{id: id, ev: ev}:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

func eventFanInBuffer(n int) int {
	const perSub = 32
	return n * perSub
}

// ModifyOrder is explicitly unsupported by the broker's API.
func (s *Session) ModifyOrder(context.Context, string, map[string]interface{}) error {
	return ErrNotSupported
}
