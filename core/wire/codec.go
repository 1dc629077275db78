package wire

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Message is the fully decoded inbound frame.
type Message struct {
	ID      int
	Code    Code
	Payload interface{} // decoded JSON value, nil for C frames
}

// Codec parses and emits the broker's framed text protocol, including
// delta reconstruction against a per-subscription baseline. It is
// exclusively owned and mutated by the single reader goroutine of a
// StreamConnection; it is not safe for concurrent use.
type Codec struct {
	// baselines holds the most recent fully reconstructed JSON string
	// per subscription id.
	baselines map[int]string

	// Strict, when true, makes unknown delta instructions a hard
	// WireError instead of being silently ignored. Defaults to false.
	Strict bool
}

// NewCodec creates an empty Codec.
func NewCodec() *Codec {
	return &Codec{baselines: make(map[int]string)}
}

// Baseline returns the current PreviousResponses entry for id, if any.
func (c *Codec) Baseline(id int) (string, bool) {
	b, ok := c.baselines[id]
	return b, ok
}

// Decode turns a RawFrame into a Message, applying delta reconstruction
// for D frames and maintaining the baseline map on A/D/C frames. A JSON
// parse failure on the reconstructed string raises a WireError scoped to
// this id only; it does not disturb the state of other ids.
func (c *Codec) Decode(frame *RawFrame) (*Message, error) {
	switch frame.Code {
	case CodeAnswer:
		c.baselines[frame.ID] = frame.Payload
		return c.finish(frame.ID, frame.Code, frame.Payload)

	case CodeDelta:
		baseline, ok := c.baselines[frame.ID]
		if !ok {
			return nil, newError(frame.ID, ErrNoBaseline)
		}
		reconstructed, err := ApplyDelta(baseline, frame.Payload, c.Strict)
		if err != nil {
			return nil, newError(frame.ID, err)
		}
		c.baselines[frame.ID] = reconstructed
		return c.finish(frame.ID, frame.Code, reconstructed)

	case CodeComplete:
		delete(c.baselines, frame.ID)
		return &Message{ID: frame.ID, Code: CodeComplete, Payload: nil}, nil

	case CodeError:
		var payload interface{}
		if err := json.Unmarshal([]byte(frame.Payload), &payload); err != nil {
			return nil, newError(frame.ID, fmt.Errorf("%w: %v", ErrDecodeFailed, err))
		}
		return &Message{ID: frame.ID, Code: CodeError, Payload: payload}, nil

	default:
		return nil, newError(frame.ID, fmt.Errorf("%w: unknown code %q", ErrMalformedFrame, frame.Code))
	}
}

func (c *Codec) finish(id int, code Code, reconstructed string) (*Message, error) {
	var payload interface{}
	if err := json.Unmarshal([]byte(reconstructed), &payload); err != nil {
		return nil, newError(id, fmt.Errorf("%w: %v", ErrDecodeFailed, err))
	}
	return &Message{ID: id, Code: code, Payload: payload}, nil
}

// ApplyDelta reconstructs a new baseline by interpreting a tab-separated
// sequence of delta instructions against the old baseline:
//
//	+<text>  append <text> (space-decoded, URL-decoded, trimmed)
//	-<n>     advance the read cursor by n, skipping that span
//	=<n>     copy the next n characters from the baseline, advancing the cursor
//	anything else is ignored, unless strict is true, in which case it is
//	a WireError.
func ApplyDelta(baseline, delta string, strict bool) (string, error) {
	var out strings.Builder
	cursor := 0
	base := []rune(baseline)

	for _, instr := range strings.Split(delta, "\t") {
		if instr == "" {
			continue
		}
		switch instr[0] {
		case '+':
			text, err := decodeAppend(instr[1:])
			if err != nil {
				return "", fmt.Errorf("%w: bad append instruction %q: %v", ErrMalformedFrame, instr, err)
			}
			out.WriteString(text)

		case '-':
			n, err := strconv.Atoi(instr[1:])
			if err != nil {
				return "", fmt.Errorf("%w: bad skip instruction %q", ErrMalformedFrame, instr)
			}
			cursor += n

		case '=':
			n, err := strconv.Atoi(instr[1:])
			if err != nil {
				return "", fmt.Errorf("%w: bad copy instruction %q", ErrMalformedFrame, instr)
			}
			if cursor+n > len(base) || cursor < 0 || n < 0 {
				return "", fmt.Errorf("%w: copy instruction %q out of range (baseline len %d, cursor %d)", ErrMalformedFrame, instr, len(base), cursor)
			}
			out.WriteString(string(base[cursor : cursor+n]))
			cursor += n

		default:
			if strict {
				return "", fmt.Errorf("%w: unknown delta instruction %q", ErrMalformedFrame, instr)
			}
			// Lenient mode (default): unknown instructions are silently ignored.
		}
	}

	return out.String(), nil
}

// decodeAppend replaces '+' with a space and URL-decodes the remainder,
// then trims whitespace.
func decodeAppend(text string) (string, error) {
	spaced := strings.ReplaceAll(text, "+", " ")
	decoded, err := url.QueryUnescape(spaced)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(decoded), nil
}
