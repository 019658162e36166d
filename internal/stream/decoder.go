// Package stream decodes the assistant endpoint's chunked delta protocol.
//
// The wire format is newline-delimited event lines, each optionally
// prefixed "data: ". A payload of "[DONE]" terminates the stream; any other
// payload is a JSON object carrying a "delta" text fragment.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// Default fuse settings. The wall-clock budget is measured from stream
// start; the line budget bounds a server that never closes the stream.
const (
	DefaultBudget   = 60 * time.Second
	DefaultMaxLines = 100_000
)

// Terminal decoder errors. Both mean the stream must be torn down; neither
// is retryable.
var (
	ErrTimeout   = errors.New("stream: wall-clock budget exceeded")
	ErrExhausted = errors.New("stream: event line budget exhausted")
)

// DeltaFunc receives each text fragment as it arrives. Returning an error
// aborts the decode and propagates the error to the caller.
type DeltaFunc func(delta string) error

// Decoder reads a delta stream from an io.Reader. Partial lines at chunk
// boundaries are retained and only complete lines are parsed; malformed
// JSON payloads are skipped rather than failing the stream, since the
// accumulated text is advisory until the message log confirms it.
type Decoder struct {
	// Budget is the wall-clock limit for the whole stream.
	Budget time.Duration
	// MaxLines bounds the number of event lines processed.
	MaxLines int
}

// NewDecoder returns a decoder with the default fuses.
func NewDecoder() *Decoder {
	return &Decoder{Budget: DefaultBudget, MaxLines: DefaultMaxLines}
}

// event is the payload of one non-sentinel line.
type event struct {
	Delta string `json:"delta"`
}

// Decode consumes r until the [DONE] sentinel, a fuse trips, or ctx is
// canceled. It returns the accumulated text alongside any terminal error,
// so callers keep whatever partial answer was received.
//
// An EOF before the sentinel is an abrupt termination and surfaces as
// io.ErrUnexpectedEOF, which the retry layer treats as a network failure.
func (d *Decoder) Decode(ctx context.Context, r io.Reader, fn DeltaFunc) (string, error) {
	budget := d.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	maxLines := d.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	start := time.Now()
	br := bufio.NewReader(r)
	var out strings.Builder

	for lines := 0; ; lines++ {
		if lines >= maxLines {
			return out.String(), ErrExhausted
		}
		if time.Since(start) >= budget {
			return out.String(), ErrTimeout
		}
		select {
		case <-ctx.Done():
			return out.String(), d.classify(ctx, start, budget, ctx.Err())
		default:
		}

		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return out.String(), d.classify(ctx, start, budget, err)
		}

		payload := strings.TrimSpace(line)
		payload = strings.TrimPrefix(payload, "data:")
		payload = strings.TrimSpace(payload)

		if payload == doneSentinel {
			return out.String(), nil
		}

		if payload != "" {
			var ev event
			if jsonErr := json.Unmarshal([]byte(payload), &ev); jsonErr == nil && ev.Delta != "" {
				out.WriteString(ev.Delta)
				if fnErr := fn(ev.Delta); fnErr != nil {
					return out.String(), fnErr
				}
			}
			// Malformed payloads are protocol noise, not data loss.
		}

		if err == io.EOF {
			return out.String(), io.ErrUnexpectedEOF
		}
	}
}

// classify maps a read abort to the timeout fuse when the wall budget had
// already elapsed; the underlying cause is a canceled reader in that case.
func (d *Decoder) classify(ctx context.Context, start time.Time, budget time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || time.Since(start) >= budget {
		return ErrTimeout
	}
	return err
}

const doneSentinel = "[DONE]"
