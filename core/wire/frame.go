package wire

import (
	"fmt"
	"regexp"
	"strconv"
)

// Code is the one-letter frame discriminator.
type Code byte

const (
	CodeAnswer   Code = 'A'
	CodeDelta    Code = 'D'
	CodeComplete Code = 'C'
	CodeError    Code = 'E'
)

func (c Code) String() string {
	return string(rune(c))
}

// frameGrammar matches "<digits> WS (A|D|C|E)" with an optional "WS
// <payload>" tail, including newlines in the payload. The payload is
// optional because a terminal Complete frame is just "<id> C" with
// nothing after the code letter.
var frameGrammar = regexp.MustCompile(`(?s)^(\d+)\s+([ADCE])(?:\s+(.*))?$`)

// RawFrame is an unparsed inbound line, before payload decoding.
type RawFrame struct {
	ID      int
	Code    Code
	Payload string
}

// ParseRawFrame splits a raw inbound message into id/code/payload. It does
// not decode the payload: A/E payloads are JSON, D payloads are a delta
// script, C payloads are empty.
func ParseRawFrame(raw string) (*RawFrame, error) {
	m := frameGrammar.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("%w: does not match frame grammar", ErrMalformedFrame)
	}

	id, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subscription id %q", ErrMalformedFrame, m[1])
	}

	return &RawFrame{ID: id, Code: Code(m[2][0]), Payload: m[3]}, nil
}

// BuildConnect renders the initial connect frame. The version number 31
// is part of the literal frame.
func BuildConnect(descriptor []byte) string {
	return fmt.Sprintf("connect 31 %s", descriptor)
}

// BuildSub renders a subscribe frame for id with a JSON body of
// {"type": topic, ...payload}.
func BuildSub(id int, body []byte) string {
	return fmt.Sprintf("sub %d %s", id, body)
}

// BuildUnsub renders an unsubscribe frame.
func BuildUnsub(id int) string {
	return fmt.Sprintf("unsub %d", id)
}
