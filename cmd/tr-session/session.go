package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/traderepublic/broker-session/core/facade"
	"github.com/traderepublic/broker-session/core/handshake"
	"github.com/traderepublic/broker-session/core/keystore"
	"github.com/traderepublic/broker-session/core/stream"
)

// liveSession bundles the three long-lived pieces a subcommand needs
// once authenticated: the handshake client (for its AuthState), the
// socket connection, and the facade built over it.
type liveSession struct {
	handshake *handshake.Client
	conn      *stream.Connection
	facade    *facade.Session
	keys      *keystore.Store
}

// authenticate runs the two-step REST handshake using credentials from
// cfg/flags, prompting on stdin for whatever is missing, then dials the
// streaming socket with the resulting cookie and wraps it in a facade.
func authenticate(ctx context.Context) (*liveSession, error) {
	creds := handshake.Credentials{PhoneNumber: cfg.PhoneNumber, PIN: cfg.PIN}
	if creds.PhoneNumber == "" {
		creds.PhoneNumber = prompt("phone number: ")
	}
	if creds.PIN == "" {
		creds.PIN = promptHidden("PIN: ")
	}

	hc := handshake.New(cfg.REST.BaseURL, handshake.WithLogger(log))

	sfr, err := hc.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	fmt.Printf("second factor sent to %s\n", sfr.MaskedPhone)

	code := prompt("second factor code: ")
	session, err := hc.SubmitSecondFactor(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("second factor: %w", err)
	}

	conn := stream.New(cfg.Stream.URL, stream.WithLogger(log))
	if err := conn.Dial(ctx, session.Cookie); err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &liveSession{
		handshake: hc,
		conn:      conn,
		facade:    facade.New(conn, hc, facade.WithLogger(log)),
		keys:      keystore.New(cfg.ConfigDir),
	}, nil
}

func prompt(label string) string {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptHidden(label string) string {
	fmt.Print(label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return prompt("")
	}
	return strings.TrimSpace(string(raw))
}
