package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/traderepublic/broker-session/internal/logger"
	"github.com/traderepublic/broker-session/internal/metrics"
)

// timeout bounds both REST calls.
const timeout = 10 * time.Second

// HTTPDoer is the seam the client is injected through for testability.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs the two-step REST login dance against the broker
// gateway.
type Client struct {
	baseURL string
	http    HTTPDoer
	log     logger.Logger

	state       AuthState
	processID   string
	maskedPhone string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP doer, for tests.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) { c.http = doer }
}

// WithLogger attaches a structured logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a handshake Client against baseURL (e.g.
// "https://api.traderepublic.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     logger.NewDefaultLogger(),
		state:   Unauthenticated,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current authentication state.
func (c *Client) State() AuthState {
	return c.state
}

// Login performs step one of the handshake: POST /api/v1/auth/web/login.
// On success it transitions to AwaitingSecondFactor and returns a
// *SecondFactorRequired signal (not an error to log) carrying the masked
// phone number.
func (c *Client) Login(ctx context.Context, creds Credentials) (*SecondFactorRequired, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	metrics.LoginAttempts.Inc()
	defer func() { metrics.LoginDuration.WithLabelValues("credentials").Observe(time.Since(start).Seconds()) }()

	attemptID := uuid.NewString()
	c.log.Debug("handshake: login attempt", logger.String("attempt", attemptID))

	body, err := json.Marshal(loginRequest{PhoneNumber: creds.PhoneNumber, PIN: creds.PIN})
	if err != nil {
		return nil, c.loginFailed("MARSHAL_ERROR", "failed to encode login request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/auth/web/login", bytes.NewReader(body))
	if err != nil {
		return nil, c.loginFailed("REQUEST_ERROR", "failed to build login request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.state = Unauthenticated
		return nil, c.loginFailed("NETWORK_ERROR", "login request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.state = Unauthenticated
		return nil, c.loginFailed("NETWORK_ERROR", "failed to read login response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.state = Unauthenticated
		code, message := decodeError(raw)
		return nil, c.loginFailed(code, message, nil)
	}

	var login loginResponse
	if err := json.Unmarshal(raw, &login); err != nil {
		c.state = Unauthenticated
		return nil, c.loginFailed("DECODE_ERROR", "failed to decode login response", err)
	}

	c.processID = login.ProcessID
	c.maskedPhone = MaskPhone(creds.PhoneNumber)
	c.state = AwaitingSecondFactor
	metrics.LoginCompleted.WithLabelValues("second_factor_required").Inc()

	session := extractCookies(resp)
	_ = session // captured cookies, if any, are superseded by the second step's jar

	return &SecondFactorRequired{ProcessID: c.processID, MaskedPhone: c.maskedPhone}, nil
}

func (c *Client) loginFailed(code, message string, cause error) error {
	metrics.LoginFailed.WithLabelValues(code).Inc()
	metrics.LoginCompleted.WithLabelValues("failure").Inc()
	return newAuthError(code, message, cause)
}

// SubmitSecondFactor performs step two: POST
// /api/v1/auth/web/login/<processId>/<code>. On success it transitions to
// Authenticated and returns the refreshed cookie jar.
func (c *Client) SubmitSecondFactor(ctx context.Context, code string) (Session, error) {
	if c.state != AwaitingSecondFactor {
		return Session{}, newAuthError("INVALID_STATE", "no login in progress", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.LoginDuration.WithLabelValues("second_factor").Observe(time.Since(start).Seconds()) }()

	url := fmt.Sprintf("%s/api/v1/auth/web/login/%s/%s", c.baseURL, c.processID, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return Session{}, c.loginFailed("REQUEST_ERROR", "failed to build second-factor request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.state = Unauthenticated
		return Session{}, c.loginFailed("NETWORK_ERROR", "second-factor request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.state = Unauthenticated
		return Session{}, c.loginFailed("NETWORK_ERROR", "failed to read second-factor response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.state = Unauthenticated
		code, message := decodeError(raw)
		return Session{}, c.loginFailed(code, message, nil)
	}

	session := extractCookies(resp)
	c.state = Authenticated
	metrics.LoginCompleted.WithLabelValues("success").Inc()
	c.log.Info("handshake: authenticated", logger.String("phone", c.maskedPhone))

	return session, nil
}

func decodeError(raw []byte) (code, message string) {
	var errResp errorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil {
		return "DECODE_ERROR", string(raw)
	}
	return errResp.resolve()
}

func extractCookies(resp *http.Response) Session {
	cookies := resp.Header.Values("Set-Cookie")
	if len(cookies) == 0 {
		return Session{}
	}
	jar := cookies[0]
	for _, c := range cookies[1:] {
		jar += "; " + c
	}
	return Session{Cookie: jar}
}
